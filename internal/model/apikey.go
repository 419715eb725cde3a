package model

import "time"

// APIKey is the persisted record behind an issued API key. The plaintext
// secret is never stored; only an HMAC digest keyed by the server secret.
type APIKey struct {
	ID         string     `json:"-" db:"id"`
	PublicID   string     `json:"id" db:"public_id"`
	SecretHash string     `json:"-" db:"secret_hash"` // hex HMAC-SHA-256, never expose
	OwnerID    string     `json:"owner_id" db:"owner_id"`
	TenantID   string     `json:"tenant" db:"tenant_id"`
	Scopes     []string   `json:"scopes" db:"-"`
	Name       string     `json:"name" db:"name"`
	Metadata   string     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Active reports whether the key may authenticate at instant now. A revoked
// key is never active again; an expired key stops being active strictly
// after ExpiresAt.
func (k *APIKey) Active(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || !now.After(*k.ExpiresAt)
}

// Revoked reports whether the key has been explicitly revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
