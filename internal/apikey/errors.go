package apikey

import (
	"errors"
	"fmt"
)

// ErrInvalidKey is the parent of every reason a presented key is refused.
// Callers outside this package must treat all of its children the same way
// so that a caller cannot tell a malformed key from a revoked one.
var ErrInvalidKey = errors.New("invalid api key")

var (
	ErrMalformedKey = fmt.Errorf("%w: malformed", ErrInvalidKey)
	ErrKeyNotFound  = fmt.Errorf("%w: not found", ErrInvalidKey)
	ErrKeyInactive  = fmt.Errorf("%w: inactive", ErrInvalidKey)
	ErrHashMismatch = fmt.Errorf("%w: secret mismatch", ErrInvalidKey)
)

var (
	// ErrMissingServerSecret is a startup fault: keys cannot be hashed
	// without the server-wide HMAC secret.
	ErrMissingServerSecret = errors.New("api key hash secret is not configured")

	ErrInvalidScope  = errors.New("scope not allowed")
	ErrInvalidTTL    = errors.New("ttl out of range")
	ErrMissingOwner  = errors.New("owner id is required")
	ErrMissingTenant = errors.New("tenant id is required")

	// ErrUnavailable wraps store failures that are not a plain miss.
	ErrUnavailable = errors.New("api key store unavailable")
)

// Store contract errors.
var (
	// ErrRecordNotFound is returned by a Store when no record matches.
	ErrRecordNotFound = errors.New("api key record not found")

	// ErrConflict is returned by a Store when a record with the same public
	// id already exists. Create treats it as retryable.
	ErrConflict = errors.New("api key public id already exists")
)

// reason maps a rejection to the label used in metrics and debug logs.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedKey):
		return "malformed"
	case errors.Is(err, ErrKeyNotFound):
		return "not_found"
	case errors.Is(err, ErrKeyInactive):
		return "inactive"
	case errors.Is(err, ErrHashMismatch):
		return "mismatch"
	case errors.Is(err, ErrUnavailable):
		return "store_error"
	default:
		return "error"
	}
}
