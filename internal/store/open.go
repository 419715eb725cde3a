package store

import (
	"context"
	"strings"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/store/redisstore"
)

// Config selects a backend. Driver "redis" uses Redis; anything else is a
// SQL dialect.
type Config struct {
	Options

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// Open returns the apikey.Store described by cfg.
func Open(ctx context.Context, cfg Config) (apikey.Store, error) {
	if strings.EqualFold(cfg.Driver, DriverRedis) {
		return redisstore.Open(ctx, redisstore.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
	}
	return OpenSQL(ctx, cfg.Options)
}
