// Package store provides the persistent backends for API key records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
)

// Options selects and tunes a SQL backend.
type Options struct {
	Driver          string
	DSN             string
	DataDir         string // sqlite only; empty with no DSN means in-memory
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SQLStore keeps API key records in a relational database through sqlx.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
}

var _ apikey.Store = (*SQLStore)(nil)

// NewSQLite opens the embedded store. Pass an empty dataDir for in-memory.
func NewSQLite(dataDir string) (*SQLStore, error) {
	return OpenSQL(context.Background(), Options{Driver: DriverSQLite, DataDir: dataDir})
}

// OpenSQL connects to the database described by opts and applies the schema.
func OpenSQL(ctx context.Context, opts Options) (*SQLStore, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DSN
	switch d.name {
	case DriverSQLite:
		if dsn, err = sqliteDSN(opts.DSN, opts.DataDir); err != nil {
			return nil, err
		}
	case DriverMySQL:
		if dsn, err = mysqlDSN(opts.DSN); err != nil {
			return nil, err
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s store requires a dsn", d.name)
	}

	db, err := sqlx.ConnectContext(ctx, d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.name, err)
	}

	if d.name == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		if opts.ConnMaxIdleTime > 0 {
			db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
		}
	}

	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", d.name, err)
	}
	return s, nil
}

// Driver returns the normalised driver name.
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// keyRow is a flat struct that maps 1:1 to the api_keys table columns.
type keyRow struct {
	ID         string       `db:"id"`
	PublicID   string       `db:"public_id"`
	SecretHash string       `db:"secret_hash"`
	OwnerID    string       `db:"owner_id"`
	TenantID   string       `db:"tenant_id"`
	ScopesJSON string       `db:"scopes_json"`
	Name       string       `db:"name"`
	Metadata   string       `db:"metadata"`
	CreatedAt  time.Time    `db:"created_at"`
	ExpiresAt  sql.NullTime `db:"expires_at"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
}

func keyRowFromModel(k *model.APIKey) (keyRow, error) {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return keyRow{}, fmt.Errorf("marshal scopes: %w", err)
	}
	return keyRow{
		ID:         k.ID,
		PublicID:   k.PublicID,
		SecretHash: k.SecretHash,
		OwnerID:    k.OwnerID,
		TenantID:   k.TenantID,
		ScopesJSON: string(scopesJSON),
		Name:       k.Name,
		Metadata:   k.Metadata,
		CreatedAt:  k.CreatedAt.UTC(),
		ExpiresAt:  nullTime(k.ExpiresAt),
		RevokedAt:  nullTime(k.RevokedAt),
		LastUsedAt: nullTime(k.LastUsedAt),
	}, nil
}

func (r keyRow) toModel() (model.APIKey, error) {
	var scopes []string
	if r.ScopesJSON != "" {
		if err := json.Unmarshal([]byte(r.ScopesJSON), &scopes); err != nil {
			return model.APIKey{}, fmt.Errorf("decode scopes for %s: %w", r.PublicID, err)
		}
	}
	if scopes == nil {
		scopes = []string{}
	}
	return model.APIKey{
		ID:         r.ID,
		PublicID:   r.PublicID,
		SecretHash: r.SecretHash,
		OwnerID:    r.OwnerID,
		TenantID:   r.TenantID,
		Scopes:     scopes,
		Name:       r.Name,
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt.UTC(),
		ExpiresAt:  timePtr(r.ExpiresAt),
		RevokedAt:  timePtr(r.RevokedAt),
		LastUsedAt: timePtr(r.LastUsedAt),
	}, nil
}

const keyColumns = `id, public_id, secret_hash, owner_id, tenant_id, scopes_json,
	name, metadata, created_at, expires_at, revoked_at, last_used_at`

// CreateKey inserts a new record. A duplicate public id yields
// apikey.ErrConflict and leaves the existing record untouched.
func (s *SQLStore) CreateKey(ctx context.Context, key *model.APIKey) error {
	row, err := keyRowFromModel(key)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO api_keys (`+keyColumns+`)
		VALUES (:id, :public_id, :secret_hash, :owner_id, :tenant_id, :scopes_json,
			:name, :metadata, :created_at, :expires_at, :revoked_at, :last_used_at)`, row)
	if err != nil {
		if s.dialect.unique(err) {
			return apikey.ErrConflict
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetKeyByPublicID returns the record with the given public id.
func (s *SQLStore) GetKeyByPublicID(ctx context.Context, publicID string) (*model.APIKey, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT `+keyColumns+` FROM api_keys WHERE public_id = ?`), publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apikey.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	k, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListKeys returns non-revoked keys for ownerID in tenantID, newest first.
func (s *SQLStore) ListKeys(ctx context.Context, ownerID, tenantID string) ([]model.APIKey, error) {
	var rows []keyRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(`SELECT `+keyColumns+` FROM api_keys
			WHERE owner_id = ? AND tenant_id = ? AND revoked_at IS NULL
			ORDER BY created_at DESC, id DESC`), ownerID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// RevokeKey stamps revoked_at on a matching, not yet revoked record. The
// check and the write happen in a single statement.
func (s *SQLStore) RevokeKey(ctx context.Context, publicID, ownerID, tenantID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE api_keys SET revoked_at = ?
			WHERE public_id = ? AND owner_id = ? AND tenant_id = ? AND revoked_at IS NULL`),
		at.UTC(), publicID, ownerID, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n == 0 {
		return apikey.ErrRecordNotFound
	}
	return nil
}

// TouchKey records a use of the key. Only last_used_at is written.
func (s *SQLStore) TouchKey(ctx context.Context, publicID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE api_keys SET last_used_at = ? WHERE public_id = ?`),
		at.UTC(), publicID)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
