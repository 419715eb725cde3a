package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
)

// GrantTypeAPIKey is the OAuth extension grant served by Exchange.
const GrantTypeAPIKey = "api_key"

// OAuth error codes returned by the token endpoint.
const (
	GrantErrInvalidGrant         = "invalid_grant"
	GrantErrInvalidScope         = "invalid_scope"
	GrantErrInvalidRequest       = "invalid_request"
	GrantErrUnsupportedGrantType = "unsupported_grant_type"
)

// GrantError is a rejection the token endpoint reports to its caller.
type GrantError struct {
	Code        string
	Description string
}

func (e *GrantError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// ClaimSet is what a validated key is worth as an access token.
type ClaimSet struct {
	Subject    string
	KeyID      string
	OwnerID    string
	TenantID   string
	Scopes     []string
	AuthOrigin string
}

// KeyValidator is the part of apikey.Service the exchange needs.
type KeyValidator interface {
	Validate(ctx context.Context, wire string, updateLastUsed bool) (*model.APIKey, error)
}

// GrantExchange turns a presented API key into a ClaimSet.
type GrantExchange struct {
	keys    KeyValidator
	logger  *slog.Logger
	metrics *apikey.Metrics
}

// NewGrantExchange wires the exchange. metrics may be nil.
func NewGrantExchange(keys KeyValidator, logger *slog.Logger, metrics *apikey.Metrics) *GrantExchange {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantExchange{keys: keys, logger: logger, metrics: metrics}
}

// Exchange validates wireKey and narrows its scopes to requested. An empty
// request grants every scope of the key; otherwise each requested scope
// must belong to the key or the whole request fails with invalid_scope.
// Store failures are returned as they are and are not GrantErrors.
func (g *GrantExchange) Exchange(ctx context.Context, wireKey string, requested []string) (*ClaimSet, error) {
	if wireKey == "" {
		g.record("missing_key")
		return nil, &GrantError{Code: GrantErrInvalidGrant, Description: "missing api_key"}
	}

	key, err := g.keys.Validate(ctx, wireKey, true)
	if err != nil {
		if errors.Is(err, apikey.ErrInvalidKey) {
			g.record("invalid_key")
			return nil, &GrantError{Code: GrantErrInvalidGrant, Description: "invalid api_key"}
		}
		g.record("error")
		return nil, err
	}

	requested = apikey.NormalizeScopes(requested)
	granted := key.Scopes
	if len(requested) > 0 {
		for _, s := range requested {
			if !apikey.ContainsScope(key.Scopes, s) {
				g.record("invalid_scope")
				return nil, &GrantError{Code: GrantErrInvalidScope, Description: "requested scope not granted to api_key"}
			}
		}
		granted = requested
	}

	g.record("success")
	g.logger.Info("api key exchanged",
		"public_id", key.PublicID,
		"tenant_id", key.TenantID,
		"scopes", granted,
	)

	return &ClaimSet{
		Subject:    "spn:ak_" + key.PublicID,
		KeyID:      key.PublicID,
		OwnerID:    key.OwnerID,
		TenantID:   key.TenantID,
		Scopes:     granted,
		AuthOrigin: AuthOriginAPIKey,
	}, nil
}

func (g *GrantExchange) record(result string) {
	if g.metrics != nil {
		g.metrics.RecordExchange(result)
	}
}
