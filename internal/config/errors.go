package config

import "errors"

var (
	// ErrMissingJWTSecret is returned when no token signing secret is set.
	ErrMissingJWTSecret = errors.New("auth.jwt_secret is not configured")

	ErrInvalidConfig = errors.New("invalid configuration")
)
