package model

import "time"

// ResponseMeta carries summary information for list responses.
type ResponseMeta struct {
	Count int `json:"count"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// TokenResponse is the OAuth 2.0 access token response returned by the
// token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// OAuthError is the error body defined by RFC 6749 section 5.2.
type OAuthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// CreatedKey is returned once, when a key is minted. APIKey holds the only
// copy of the plaintext credential the server will ever produce.
type CreatedKey struct {
	APIKey    string     `json:"api_key"`
	ID        string     `json:"id"`
	Tenant    string     `json:"tenant"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// KeySummary describes a stored key without any secret material.
type KeySummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Tenant     string     `json:"tenant"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// KeyListResponse is the list envelope for key summaries.
type KeyListResponse struct {
	Resource []KeySummary `json:"resource"`
	Meta     ResponseMeta `json:"meta"`
}

// NewKeySummary projects k onto its public fields.
func NewKeySummary(k *APIKey) KeySummary {
	return KeySummary{
		ID:         k.PublicID,
		Name:       k.Name,
		Tenant:     k.TenantID,
		Scopes:     k.Scopes,
		CreatedAt:  k.CreatedAt,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
	}
}

// PrincipalResponse echoes the identity a request authenticated as.
type PrincipalResponse struct {
	Subject   string   `json:"subject"`
	Tenant    string   `json:"tenant"`
	Owner     string   `json:"owner"`
	Scopes    []string `json:"scopes"`
	IssuedVia string   `json:"issued_via,omitempty"`
	Scheme    string   `json:"scheme"`
	KeyID     string   `json:"api_key_id,omitempty"`
}
