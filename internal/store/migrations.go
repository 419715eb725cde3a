package store

import (
	"context"
	"fmt"
	"strings"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		public_id TEXT UNIQUE NOT NULL,
		secret_hash TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		scopes_json TEXT NOT NULL DEFAULT '[]',
		name TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME,
		revoked_at DATETIME,
		last_used_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(tenant_id, owner_id, created_at)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		public_id TEXT UNIQUE NOT NULL,
		secret_hash TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		scopes_json TEXT NOT NULL DEFAULT '[]',
		name TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(tenant_id, owner_id, created_at)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so the index lives in the table
// definition.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id VARCHAR(36) PRIMARY KEY,
		public_id VARCHAR(64) NOT NULL,
		secret_hash VARCHAR(128) NOT NULL,
		owner_id VARCHAR(255) NOT NULL,
		tenant_id VARCHAR(255) NOT NULL,
		scopes_json TEXT NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		metadata TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NULL,
		revoked_at DATETIME(6) NULL,
		last_used_at DATETIME(6) NULL,
		UNIQUE KEY uq_api_keys_public_id (public_id),
		KEY idx_api_keys_owner (tenant_id, owner_id, created_at)
	)`,
}

var sqlserverMigrations = []string{
	`IF OBJECT_ID('api_keys', 'U') IS NULL
	CREATE TABLE api_keys (
		id NVARCHAR(36) PRIMARY KEY,
		public_id NVARCHAR(64) NOT NULL CONSTRAINT uq_api_keys_public_id UNIQUE,
		secret_hash NVARCHAR(128) NOT NULL,
		owner_id NVARCHAR(255) NOT NULL,
		tenant_id NVARCHAR(255) NOT NULL,
		scopes_json NVARCHAR(MAX) NOT NULL DEFAULT '[]',
		name NVARCHAR(255) NOT NULL DEFAULT '',
		metadata NVARCHAR(MAX) NOT NULL DEFAULT '',
		created_at DATETIME2 NOT NULL,
		expires_at DATETIME2 NULL,
		revoked_at DATETIME2 NULL,
		last_used_at DATETIME2 NULL
	)`,
	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_api_keys_owner')
	CREATE INDEX idx_api_keys_owner ON api_keys(tenant_id, owner_id, created_at)`,
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			// Re-running an additive migration against an engine without
			// IF NOT EXISTS support reports the object as present.
			if alreadyApplied(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") ||
		strings.Contains(msg, "duplicate key name") ||
		strings.Contains(msg, "already exists")
}
