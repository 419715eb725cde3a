// Package redisstore keeps API key records in Redis. Each record is a hash
// under <prefix>key:<publicId>; a sorted set per owner and tenant indexes
// records by creation time.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
)

// DefaultKeyPrefix namespaces every Redis key the store writes.
const DefaultKeyPrefix = "keymint:"

const txAttempts = 3

// Options configures a Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements apikey.Store on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ apikey.Store = (*Store)(nil)

// touchScript writes last_used_at only if the record exists, so a late
// touch never recreates a record.
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("HSET", KEYS[1], "last_used_at", ARGV[1])
end
return -1
`)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis store requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis store: %w", err)
	}
	return New(client, opts.KeyPrefix), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) recordKey(publicID string) string {
	return s.prefix + "key:" + publicID
}

func (s *Store) ownerKey(ownerID, tenantID string) string {
	return s.prefix + "owner:" + tenantID + ":" + ownerID
}

// CreateKey writes a record unless one with the same public id exists.
func (s *Store) CreateKey(ctx context.Context, key *model.APIKey) error {
	fields, err := toHash(key)
	if err != nil {
		return err
	}
	rk := s.recordKey(key.PublicID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, rk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return apikey.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, rk, fields)
			pipe.ZAdd(ctx, s.ownerKey(key.OwnerID, key.TenantID), redis.Z{
				Score:  float64(key.CreatedAt.UnixMicro()),
				Member: key.PublicID,
			})
			return nil
		})
		return err
	}, rk)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, apikey.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return apikey.ErrConflict
	default:
		return fmt.Errorf("insert api key: %w", err)
	}
}

// GetKeyByPublicID loads one record.
func (s *Store) GetKeyByPublicID(ctx context.Context, publicID string) (*model.APIKey, error) {
	h, err := s.client.HGetAll(ctx, s.recordKey(publicID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	if len(h) == 0 {
		return nil, apikey.ErrRecordNotFound
	}
	k, err := fromHash(h)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListKeys returns non-revoked keys for ownerID in tenantID, newest first.
func (s *Store) ListKeys(ctx context.Context, ownerID, tenantID string) ([]model.APIKey, error) {
	ids, err := s.client.ZRevRange(ctx, s.ownerKey(ownerID, tenantID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	if len(ids) == 0 {
		return []model.APIKey{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	keys := make([]model.APIKey, 0, len(ids))
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		k, err := fromHash(h)
		if err != nil {
			return nil, err
		}
		if k.RevokedAt != nil || k.OwnerID != ownerID || k.TenantID != tenantID {
			continue
		}
		keys = append(keys, k)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].ID > keys[j].ID
	})
	return keys, nil
}

// RevokeKey stamps revoked_at if the record belongs to ownerID in tenantID
// and is not revoked. The check and the write run in one transaction.
func (s *Store) RevokeKey(ctx context.Context, publicID, ownerID, tenantID string, at time.Time) error {
	rk := s.recordKey(publicID)

	for attempt := 0; attempt < txAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			vals, err := tx.HMGet(ctx, rk, "owner_id", "tenant_id", "revoked_at").Result()
			if err != nil {
				return err
			}
			if asString(vals[0]) != ownerID || asString(vals[1]) != tenantID || asString(vals[2]) != "" {
				return apikey.ErrRecordNotFound
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, rk, "revoked_at", formatTime(at))
				return nil
			})
			return err
		}, rk)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, apikey.ErrRecordNotFound):
			return err
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("revoke api key: %w", err)
		}
	}
	return fmt.Errorf("revoke api key: %w", redis.TxFailedErr)
}

// TouchKey sets last_used_at on an existing record.
func (s *Store) TouchKey(ctx context.Context, publicID string, at time.Time) error {
	if err := touchScript.Run(ctx, s.client, []string{s.recordKey(publicID)}, formatTime(at)).Err(); err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func toHash(k *model.APIKey) (map[string]interface{}, error) {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("marshal scopes: %w", err)
	}
	h := map[string]interface{}{
		"id":          k.ID,
		"public_id":   k.PublicID,
		"secret_hash": k.SecretHash,
		"owner_id":    k.OwnerID,
		"tenant_id":   k.TenantID,
		"scopes":      string(scopesJSON),
		"name":        k.Name,
		"metadata":    k.Metadata,
		"created_at":  formatTime(k.CreatedAt),
	}
	if k.ExpiresAt != nil {
		h["expires_at"] = formatTime(*k.ExpiresAt)
	}
	if k.RevokedAt != nil {
		h["revoked_at"] = formatTime(*k.RevokedAt)
	}
	if k.LastUsedAt != nil {
		h["last_used_at"] = formatTime(*k.LastUsedAt)
	}
	return h, nil
}

func fromHash(h map[string]string) (model.APIKey, error) {
	k := model.APIKey{
		ID:         h["id"],
		PublicID:   h["public_id"],
		SecretHash: h["secret_hash"],
		OwnerID:    h["owner_id"],
		TenantID:   h["tenant_id"],
		Name:       h["name"],
		Metadata:   h["metadata"],
		Scopes:     []string{},
	}
	if raw := h["scopes"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &k.Scopes); err != nil {
			return model.APIKey{}, fmt.Errorf("decode scopes for %s: %w", k.PublicID, err)
		}
	}

	var err error
	if k.CreatedAt, err = parseTime(h["created_at"]); err != nil {
		return model.APIKey{}, fmt.Errorf("decode created_at for %s: %w", k.PublicID, err)
	}
	if k.ExpiresAt, err = parseOptionalTime(h["expires_at"]); err != nil {
		return model.APIKey{}, fmt.Errorf("decode expires_at for %s: %w", k.PublicID, err)
	}
	if k.RevokedAt, err = parseOptionalTime(h["revoked_at"]); err != nil {
		return model.APIKey{}, fmt.Errorf("decode revoked_at for %s: %w", k.PublicID, err)
	}
	if k.LastUsedAt, err = parseOptionalTime(h["last_used_at"]); err != nil {
		return model.APIKey{}, fmt.Errorf("decode last_used_at for %s: %w", k.PublicID, err)
	}
	return k, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
