package apikey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keymint/keymint/internal/model"
)

// createAttempts bounds how many fresh public ids Create draws when the
// store reports a collision.
const createAttempts = 3

// DefaultStoreTimeout bounds every store call made by the Service.
const DefaultStoreTimeout = 5 * time.Second

// MaxTTL bounds the lifetime a key can be created with, in either
// direction.
const MaxTTL = 100 * 365 * 24 * time.Hour

// CreateParams describes a key to be minted.
type CreateParams struct {
	OwnerID  string
	TenantID string
	Scopes   []string
	TTL      *time.Duration
	Name     string
	Metadata string
}

// Options configures a Service. Zero values pick sensible defaults.
type Options struct {
	Policy       ScopePolicy
	StoreTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *Metrics
}

// Service is the single authority over API key state. Every decision to
// accept a key goes through Validate.
type Service struct {
	store   Store
	hasher  *Hasher
	policy  ScopePolicy
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics

	now func() time.Time
}

// NewService wires a Service around store and hasher.
func NewService(store Store, hasher *Hasher, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:   store,
		hasher:  hasher,
		policy:  opts.Policy,
		timeout: opts.StoreTimeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Policy returns the scope policy keys are created under.
func (s *Service) Policy() ScopePolicy {
	return s.policy
}

// Create mints a key and persists its record. The returned wire key is the
// only copy of the secret; it cannot be recovered later.
func (s *Service) Create(ctx context.Context, p CreateParams) (string, *model.APIKey, error) {
	if p.OwnerID == "" {
		return "", nil, ErrMissingOwner
	}
	if p.TenantID == "" {
		return "", nil, ErrMissingTenant
	}

	scopes, err := s.policy.Resolve(p.TenantID, p.Scopes)
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	var expiresAt *time.Time
	if p.TTL != nil {
		if *p.TTL > MaxTTL || *p.TTL < -MaxTTL {
			return "", nil, fmt.Errorf("%w: %v exceeds %v", ErrInvalidTTL, *p.TTL, MaxTTL)
		}
		t := now.Add(*p.TTL)
		expiresAt = &t
	}

	for attempt := 1; attempt <= createAttempts; attempt++ {
		publicID, err := NewPublicID()
		if err != nil {
			return "", nil, err
		}
		secret, err := NewSecret()
		if err != nil {
			return "", nil, err
		}
		id, err := uuid.NewV7()
		if err != nil {
			return "", nil, fmt.Errorf("generate record id: %w", err)
		}

		key := &model.APIKey{
			ID:         id.String(),
			PublicID:   publicID,
			SecretHash: s.hasher.Hash(publicID, secret),
			OwnerID:    p.OwnerID,
			TenantID:   p.TenantID,
			Scopes:     scopes,
			Name:       p.Name,
			Metadata:   p.Metadata,
			CreatedAt:  now,
			ExpiresAt:  expiresAt,
		}

		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		err = s.store.CreateKey(sctx, key)
		cancel()
		if errors.Is(err, ErrConflict) {
			s.logger.Warn("api key public id collision, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if s.metrics != nil {
			s.metrics.RecordCreated()
		}
		s.logger.Info("api key created",
			"public_id", publicID,
			"owner_id", p.OwnerID,
			"tenant_id", p.TenantID,
		)
		return Encode(publicID, secret), key, nil
	}

	return "", nil, fmt.Errorf("%w: public id collided %d times", ErrUnavailable, createAttempts)
}

// Validate checks a presented wire key and returns its record when every
// check passes. Rejections wrap ErrInvalidKey; store faults wrap
// ErrUnavailable. When updateLastUsed is set the record's LastUsedAt is
// written, and a failed write is logged without affecting the result.
func (s *Service) Validate(ctx context.Context, wire string, updateLastUsed bool) (*model.APIKey, error) {
	start := time.Now()
	key, err := s.validate(ctx, wire, updateLastUsed)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "rejected"
		}
		s.metrics.RecordValidation(status, reasonOrNone(err), time.Since(start))
	}
	if err != nil {
		s.logger.Debug("api key rejected", "public_id", PublicIDOf(wire), "reason", reason(err))
	}
	return key, err
}

func (s *Service) validate(ctx context.Context, wire string, updateLastUsed bool) (*model.APIKey, error) {
	presented, err := Decode(wire)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	key, err := s.store.GetKeyByPublicID(sctx, presented.PublicID)
	cancel()
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.now()
	if !key.Active(now) {
		return nil, ErrKeyInactive
	}

	if !Equal(s.hasher.Hash(presented.PublicID, presented.Secret), key.SecretHash) {
		return nil, ErrHashMismatch
	}

	if updateLastUsed {
		tctx, cancel := context.WithTimeout(ctx, s.timeout)
		if err := s.store.TouchKey(tctx, key.PublicID, now); err != nil {
			s.logger.Warn("failed to record api key use", "public_id", key.PublicID, "error", err)
			if s.metrics != nil {
				s.metrics.RecordTouchFailure()
			}
		} else {
			key.LastUsedAt = &now
		}
		cancel()
	}

	return key, nil
}

// List returns the owner's non-revoked keys in tenantID, newest first.
func (s *Service) List(ctx context.Context, ownerID, tenantID string) ([]model.APIKey, error) {
	if ownerID == "" {
		return nil, ErrMissingOwner
	}
	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys, err := s.store.ListKeys(ctx, ownerID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if keys == nil {
		keys = []model.APIKey{}
	}
	return keys, nil
}

// Revoke marks the key revoked if it belongs to ownerID within tenantID and
// is not revoked already. A key that does not match, for whatever reason,
// yields false with no error.
func (s *Service) Revoke(ctx context.Context, publicID, ownerID, tenantID string) (bool, error) {
	if publicID == "" || ownerID == "" || tenantID == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.store.RevokeKey(ctx, publicID, ownerID, tenantID, s.now())
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if s.metrics != nil {
		s.metrics.RecordRevoked()
	}
	s.logger.Info("api key revoked", "public_id", publicID, "owner_id", ownerID, "tenant_id", tenantID)
	return true, nil
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.Ping(ctx)
}

func reasonOrNone(err error) string {
	if err == nil {
		return "none"
	}
	return reason(err)
}
