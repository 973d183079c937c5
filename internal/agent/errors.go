package agent

import "errors"

// Fatal errors returned by Run. Each wraps the underlying cause.
var (
	// ErrProvisioning means registration failed; no session was opened.
	ErrProvisioning = errors.New("agent: provisioning failed")

	// ErrConnect means the hub session could not be opened.
	ErrConnect = errors.New("agent: session open failed")

	// ErrSessionLost means an open session dropped. It is not re-established.
	ErrSessionLost = errors.New("agent: session lost")

	// ErrInvalidOptions is returned by New for missing collaborators.
	ErrInvalidOptions = errors.New("agent: invalid options")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("agent: already running")
)
