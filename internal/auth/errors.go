package auth

import "errors"

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrUnknownRole  = errors.New("auth: unknown role")
	ErrWeakPassword = errors.New("auth: password must be between 8 and 72 bytes")
)
