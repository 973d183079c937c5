package command

import "errors"

var (
	// ErrInvalidRegistration is returned for a registration with no name
	// or without the handler its mode requires.
	ErrInvalidRegistration = errors.New("command: invalid registration")

	// ErrDuplicateCommand is returned when two registrations share a name.
	ErrDuplicateCommand = errors.New("command: duplicate registration")

	// ErrAlreadyRegistered is returned when RegisterAll runs twice.
	ErrAlreadyRegistered = errors.New("command: registrations already bound")
)
