package identity

import "errors"

// Domain-specific errors for device identity.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMissingCredentials is returned when the registration id or key is empty.
	ErrMissingCredentials = errors.New("identity: registration id and symmetric key are required")

	// ErrInvalidAssignment is returned when only one of hub and device id is set.
	ErrInvalidAssignment = errors.New("identity: assignment needs both hub and device id")

	// ErrAlreadyAssigned is returned on a second Assign call.
	ErrAlreadyAssigned = errors.New("identity: device already assigned")

	// ErrNotAssigned is returned when a routing identity is needed but absent.
	ErrNotAssigned = errors.New("identity: device not assigned")

	// ErrInvalidConnectionString is returned for malformed session descriptors.
	ErrInvalidConnectionString = errors.New("identity: invalid connection string")

	// ErrInvalidKey is returned when the symmetric key is not valid base64.
	ErrInvalidKey = errors.New("identity: symmetric key is not valid base64")
)
