package auth

import "errors"

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrNoSecret     = errors.New("jwt secret is not configured")
	ErrUnknownRole  = errors.New("unknown role")
)
