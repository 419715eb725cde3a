package service

import (
	"context"
	"errors"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
)

// ErrNoCredentials is returned when a request carries no credential.
var ErrNoCredentials = errors.New("no credentials")

// Principal is the authenticated identity behind a request.
type Principal struct {
	Scheme     Scheme
	Subject    string
	OwnerID    string
	TenantID   string
	Scopes     []string
	AuthOrigin string
	KeyID      string // public id when the credential traces back to a key
}

// HasScope reports whether p was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return apikey.ContainsScope(p.Scopes, scope)
}

// AuthService resolves credential headers into principals.
type AuthService struct {
	keys   KeyValidator
	tokens *TokenIssuer
}

func NewAuthService(keys KeyValidator, tokens *TokenIssuer) *AuthService {
	return &AuthService{keys: keys, tokens: tokens}
}

// Authenticate selects the scheme for header once and validates the
// credential accordingly. Key rejections wrap apikey.ErrInvalidKey, token
// rejections wrap ErrInvalidToken, and store outages wrap
// apikey.ErrUnavailable.
func (s *AuthService) Authenticate(ctx context.Context, header string) (*Principal, error) {
	switch SelectScheme(header) {
	case SchemeAPIKey:
		key, err := s.keys.Validate(ctx, header, true)
		if err != nil {
			return nil, err
		}
		return principalFromKey(key), nil

	case SchemeBearer:
		claims, err := s.tokens.Verify(BearerToken(header))
		if err != nil {
			return nil, err
		}
		return principalFromClaims(claims), nil

	default:
		return nil, ErrNoCredentials
	}
}

func principalFromKey(k *model.APIKey) *Principal {
	return &Principal{
		Scheme:     SchemeAPIKey,
		Subject:    "spn:ak_" + k.PublicID,
		OwnerID:    k.OwnerID,
		TenantID:   k.TenantID,
		Scopes:     k.Scopes,
		AuthOrigin: AuthOriginAPIKey,
		KeyID:      k.PublicID,
	}
}

func principalFromClaims(c *Claims) *Principal {
	owner := c.OwnerSub
	if owner == "" {
		owner = c.Subject
	}
	return &Principal{
		Scheme:     SchemeBearer,
		Subject:    c.Subject,
		OwnerID:    owner,
		TenantID:   c.TenantID,
		Scopes:     c.Scopes(),
		AuthOrigin: c.AuthOrigin,
		KeyID:      c.APIKeyID,
	}
}
