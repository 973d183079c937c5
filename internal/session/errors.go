package session

import "errors"

// Domain-specific errors for hub sessions.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectFailed is returned when a session cannot be opened.
	ErrConnectFailed = errors.New("session: connect failed")

	// ErrSessionLost is the cause recorded when the connection drops.
	ErrSessionLost = errors.New("session: connection lost")

	// ErrSessionClosed is returned by operations on an ended session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrPublishFailed is returned when telemetry cannot be sent.
	ErrPublishFailed = errors.New("session: telemetry publish failed")

	// ErrTwinFetchFailed is returned when the twin document cannot be retrieved.
	ErrTwinFetchFailed = errors.New("session: twin fetch failed")

	// ErrPatchFailed is returned when a reported-property patch is rejected or lost.
	ErrPatchFailed = errors.New("session: reported patch failed")

	// ErrResponseFailed is returned when a method response cannot be sent.
	ErrResponseFailed = errors.New("session: command response failed")

	// ErrRequestTimeout is returned when the hub does not answer a twin request in time.
	ErrRequestTimeout = errors.New("session: request timed out")

	// ErrSubscribeFailed is returned when a capability cannot subscribe to its topic.
	ErrSubscribeFailed = errors.New("session: subscribe failed")

	// ErrInvalidCommand is returned for an empty command name or nil handler.
	ErrInvalidCommand = errors.New("session: invalid command registration")

	// ErrDuplicateCommand is returned when a command name is registered twice.
	ErrDuplicateCommand = errors.New("session: command already registered")
)
