package apikey

import (
	"context"
	"time"

	"github.com/keymint/keymint/internal/model"
)

// Store is the durable home of API key records. Implementations must make
// every method a single-record atomic operation and must enforce uniqueness
// of PublicID across all tenants.
type Store interface {
	// CreateKey inserts a new record. It returns ErrConflict if a record
	// with the same PublicID exists and never overwrites one.
	CreateKey(ctx context.Context, key *model.APIKey) error

	// GetKeyByPublicID returns the record or ErrRecordNotFound.
	GetKeyByPublicID(ctx context.Context, publicID string) (*model.APIKey, error)

	// ListKeys returns the non-revoked records of one owner within one
	// tenant, newest CreatedAt first.
	ListKeys(ctx context.Context, ownerID, tenantID string) ([]model.APIKey, error)

	// RevokeKey sets RevokedAt on the record matching publicID, ownerID and
	// tenantID if it is not revoked yet. Otherwise it returns
	// ErrRecordNotFound.
	RevokeKey(ctx context.Context, publicID, ownerID, tenantID string, at time.Time) error

	// TouchKey sets LastUsedAt. It must not modify any other field.
	TouchKey(ctx context.Context, publicID string, at time.Time) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
