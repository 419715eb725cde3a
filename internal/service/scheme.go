// Package service holds the authentication services that sit between HTTP
// and the key lifecycle: credential scheme selection, bearer tokens, and
// the api_key grant exchange.
package service

import (
	"strings"

	"github.com/keymint/keymint/internal/apikey"
)

// Scheme identifies how a request presented its credential.
type Scheme int

const (
	SchemeNone Scheme = iota
	SchemeAPIKey
	SchemeBearer
)

func (s Scheme) String() string {
	switch s {
	case SchemeAPIKey:
		return "api_key"
	case SchemeBearer:
		return "bearer"
	default:
		return "none"
	}
}

const bearerPrefix = "Bearer "

// SelectScheme routes a credential header value. Anything that is neither
// empty nor an API key is treated as a bearer token, so an unrecognised
// scheme is rejected by bearer validation rather than passed through.
func SelectScheme(header string) Scheme {
	switch {
	case header == "":
		return SchemeNone
	case apikey.HasPrefix(header):
		return SchemeAPIKey
	default:
		return SchemeBearer
	}
}

// BearerToken strips a case-insensitive "Bearer " prefix from header.
func BearerToken(header string) string {
	if len(header) >= len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return strings.TrimSpace(header)
}
