package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidValue) {
//	    // handle rejected value
//	}
var (
	// ErrInvalidValue is returned when a value fails its JSON schema.
	ErrInvalidValue = errors.New("device: invalid value")

	// ErrUnknownSchema is returned when validating against a schema that
	// was never loaded.
	ErrUnknownSchema = errors.New("device: unknown schema")

	// ErrSchemaLoad is returned when an embedded schema cannot be compiled.
	ErrSchemaLoad = errors.New("device: loading schemas")
)
