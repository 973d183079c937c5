package twin

import "errors"

var (
	// ErrFetchFailed is returned when the initial twin fetch fails. The
	// agent treats it as degraded, not fatal.
	ErrFetchFailed = errors.New("twin: fetch failed")

	// ErrNotStarted is returned when a patch is queued before Start.
	ErrNotStarted = errors.New("twin: synchronizer not started")

	// ErrStopped is returned when a patch is queued after Stop.
	ErrStopped = errors.New("twin: synchronizer stopped")

	// ErrDuplicateProperty is returned when two writable properties share a name.
	ErrDuplicateProperty = errors.New("twin: duplicate writable property")
)
