package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotMember          = errors.New("not a company member")
	ErrForbidden          = errors.New("forbidden")
)

// PermissionError reports the permission key a caller was missing.
type PermissionError struct {
	Key string
}

func (e *PermissionError) Error() string { return "missing permission: " + e.Key }

// Unwrap lets errors.Is(err, ErrForbidden) match.
func (e *PermissionError) Unwrap() error { return ErrForbidden }
