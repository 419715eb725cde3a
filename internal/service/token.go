package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)

	// ErrMissingSigningSecret is a startup fault.
	ErrMissingSigningSecret = errors.New("token signing secret is not configured")
)

// AuthOriginAPIKey marks tokens and principals that trace back to an API key.
const AuthOriginAPIKey = "api_key"

// Claims is the JWT body minted by TokenIssuer.
type Claims struct {
	TenantID   string `json:"tenant_id,omitempty"`
	OwnerSub   string `json:"owner_sub,omitempty"`
	Scope      string `json:"scope,omitempty"`
	AuthOrigin string `json:"auth_origin,omitempty"`
	APIKeyID   string `json:"api_key_id,omitempty"`
	jwt.RegisteredClaims
}

// Scopes splits the space-separated scope claim.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer returns an issuer for tokens that live ttl.
func NewTokenIssuer(secret []byte, issuer, audience string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenIssuer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs cs into an access token.
func (t *TokenIssuer) Issue(cs ClaimSet) (string, error) {
	return t.IssueWithTTL(cs, t.ttl)
}

// IssueWithTTL signs cs with an explicit lifetime.
func (t *TokenIssuer) IssueWithTTL(cs ClaimSet, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		TenantID:   cs.TenantID,
		OwnerSub:   cs.OwnerID,
		Scope:      strings.Join(cs.Scopes, " "),
		AuthOrigin: cs.AuthOrigin,
		APIKeyID:   cs.KeyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cs.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    t.issuer,
		},
	}
	if t.audience != "" {
		claims.Audience = jwt.ClaimStrings{t.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience and lifetime.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	if t.audience != "" {
		opts = append(opts, jwt.WithAudience(t.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
