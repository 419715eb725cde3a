// Package apikey implements the API key lifecycle: the wire format, secret
// hashing, and the service that creates, validates, lists, and revokes keys
// against a pluggable Store.
package apikey

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// Prefix starts every API key on the wire.
	Prefix = "ak_"

	// PublicIDBytes is the amount of randomness behind a public id (80 bits).
	PublicIDBytes = 10

	// SecretBytes is the amount of randomness behind a key secret.
	SecretBytes = 32

	// MaxWireLength bounds what Decode is willing to look at. Real keys are
	// 63 characters long.
	MaxWireLength = 256
)

var (
	publicIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
	secretEncoding   = base64.RawURLEncoding
)

// PresentedKey is a decoded wire key. It lives for one request and is never
// persisted.
type PresentedKey struct {
	PublicID string
	Secret   []byte
}

// NewPublicID returns a fresh base-32 public id drawn from crypto/rand.
func NewPublicID() (string, error) {
	b := make([]byte, PublicIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate public id: %w", err)
	}
	return publicIDEncoding.EncodeToString(b), nil
}

// NewSecret returns SecretBytes of crypto/rand output.
func NewSecret() ([]byte, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return b, nil
}

// Encode renders the wire form ak_<publicId>.<base64url(secret)>.
func Encode(publicID string, secret []byte) string {
	var sb strings.Builder
	sb.Grow(len(Prefix) + len(publicID) + 1 + secretEncoding.EncodedLen(len(secret)))
	sb.WriteString(Prefix)
	sb.WriteString(publicID)
	sb.WriteByte('.')
	sb.WriteString(secretEncoding.EncodeToString(secret))
	return sb.String()
}

// Decode parses a wire key. Any failure is reported as ErrMalformedKey.
func Decode(wire string) (PresentedKey, error) {
	if len(wire) > MaxWireLength {
		return PresentedKey{}, fmt.Errorf("%w: too long", ErrMalformedKey)
	}
	if !strings.HasPrefix(wire, Prefix) {
		return PresentedKey{}, fmt.Errorf("%w: missing prefix", ErrMalformedKey)
	}

	publicID, encodedSecret, ok := strings.Cut(wire[len(Prefix):], ".")
	if !ok {
		return PresentedKey{}, fmt.Errorf("%w: missing separator", ErrMalformedKey)
	}
	if publicID == "" || !validPublicID(publicID) {
		return PresentedKey{}, fmt.Errorf("%w: bad public id", ErrMalformedKey)
	}
	if encodedSecret == "" {
		return PresentedKey{}, fmt.Errorf("%w: empty secret", ErrMalformedKey)
	}

	secret, err := secretEncoding.DecodeString(encodedSecret)
	if err != nil {
		return PresentedKey{}, fmt.Errorf("%w: bad secret encoding", ErrMalformedKey)
	}

	return PresentedKey{PublicID: publicID, Secret: secret}, nil
}

// HasPrefix reports whether s looks like an API key on the wire. The check
// is case-insensitive so that a mistyped prefix still routes to key
// validation and is rejected there.
func HasPrefix(s string) bool {
	return len(s) >= len(Prefix) && strings.EqualFold(s[:len(Prefix)], Prefix)
}

// PublicIDOf extracts the public id from a wire key without validating the
// secret. It returns "" if the key is malformed.
func PublicIDOf(wire string) string {
	pk, err := Decode(wire)
	if err != nil {
		return ""
	}
	return pk.PublicID
}

func validPublicID(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '2' && c <= '7') {
			return false
		}
	}
	return true
}
