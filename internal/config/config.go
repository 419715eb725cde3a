// Package config loads keymint's configuration from YAML files, environment
// variables, and flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/store"
)

// EnvPrefix is prepended to every environment override, e.g.
// KEYMINT_APIKEYS_HASH_SECRET.
const EnvPrefix = "KEYMINT"

// Config is the top-level keymint configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	APIKeys APIKeysConfig `mapstructure:"apikeys" yaml:"apikeys"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodySize     int64    `mapstructure:"max_body_size" yaml:"max_body_size"`
	CORSOrigins     []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	TokenRateLimit  int      `mapstructure:"token_rate_limit" yaml:"token_rate_limit"` // requests per minute per IP
	KeyRateLimit    int      `mapstructure:"key_rate_limit" yaml:"key_rate_limit"`     // requests per minute per API key, 0 disables
	AuthRateLimit   int      `mapstructure:"auth_rate_limit" yaml:"auth_rate_limit"`   // requests per minute per IP on /api/v1, 0 disables
}

// StoreConfig selects where key records live.
type StoreConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver"`
	DSN             string `mapstructure:"dsn" yaml:"dsn"`
	DataDir         string `mapstructure:"data_dir" yaml:"data_dir"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	RedisAddr       string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db" yaml:"redis_db"`
	KeyPrefix       string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// AuthConfig controls bearer tokens and header handling.
type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer       string `mapstructure:"issuer" yaml:"issuer"`
	Audience     string `mapstructure:"audience" yaml:"audience"`
	TokenTTL     string `mapstructure:"token_ttl" yaml:"token_ttl"`
	APIKeyHeader string `mapstructure:"api_key_header" yaml:"api_key_header"`
}

// APIKeysConfig controls key hashing and the scope vocabulary.
type APIKeysConfig struct {
	HashSecret    string              `mapstructure:"hash_secret" yaml:"hash_secret"`
	DefaultScopes []string            `mapstructure:"default_scopes" yaml:"default_scopes"`
	AllowedScopes []string            `mapstructure:"allowed_scopes" yaml:"allowed_scopes"`
	TenantScopes  map[string][]string `mapstructure:"tenant_scopes" yaml:"tenant_scopes,omitempty"`
	StoreTimeout  string              `mapstructure:"store_timeout" yaml:"store_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a Config pre-filled with sensible defaults. Secrets are
// left empty and must be supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			MaxBodySize:     1 << 20,
			CORSOrigins:     []string{"*"},
			TokenRateLimit:  60,
			KeyRateLimit:    600,
			AuthRateLimit:   300,
		},
		Store: StoreConfig{
			Driver:          store.DriverSQLite,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: "5m",
			ConnMaxIdleTime: "1m",
			KeyPrefix:       "keymint:",
		},
		Auth: AuthConfig{
			Issuer:       "keymint",
			Audience:     "keymint-api",
			TokenTTL:     "15m",
			APIKeyHeader: "X-API-Key",
		},
		APIKeys: APIKeysConfig{
			DefaultScopes: []string{apikey.DefaultScope},
			StoreTimeout:  "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default with v so that environment variables
// can override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.token_rate_limit", d.Server.TokenRateLimit)
	v.SetDefault("server.key_rate_limit", d.Server.KeyRateLimit)
	v.SetDefault("server.auth_rate_limit", d.Server.AuthRateLimit)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.data_dir", "")
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)
	v.SetDefault("store.conn_max_idle_time", d.Store.ConnMaxIdleTime)
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key_prefix", d.Store.KeyPrefix)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.audience", d.Auth.Audience)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.api_key_header", d.Auth.APIKeyHeader)

	v.SetDefault("apikeys.hash_secret", "")
	v.SetDefault("apikeys.default_scopes", d.APIKeys.DefaultScopes)
	v.SetDefault("apikeys.allowed_scopes", []string{})
	v.SetDefault("apikeys.store_timeout", d.APIKeys.StoreTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// ConfigureEnv makes v read KEYMINT_* environment variables, mapping
// nested keys with underscores.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the settings held by v on top of the defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg can start a server. Missing secrets are fatal.
func (c *Config) Validate() error {
	var errs []error

	if c.APIKeys.HashSecret == "" {
		errs = append(errs, apikey.ErrMissingServerSecret)
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port))
	}

	switch strings.ToLower(c.Store.Driver) {
	case store.DriverRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("%w: store.redis_addr is required for the redis driver", ErrInvalidConfig))
		}
	case "", store.DriverSQLite, store.DriverPostgres, store.DriverMySQL, store.DriverSQLServer,
		"sqlite3", "postgresql", "pgx", "mariadb", "mssql":
	default:
		errs = append(errs, fmt.Errorf("%w: unsupported store.driver %q", ErrInvalidConfig, c.Store.Driver))
	}

	for key, val := range map[string]string{
		"server.shutdown_timeout":  c.Server.ShutdownTimeout,
		"store.conn_max_lifetime":  c.Store.ConnMaxLifetime,
		"store.conn_max_idle_time": c.Store.ConnMaxIdleTime,
		"auth.token_ttl":           c.Auth.TokenTTL,
		"apikeys.store_timeout":    c.APIKeys.StoreTimeout,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err))
		}
	}

	return errors.Join(errs...)
}

// ShutdownTimeoutDuration returns the parsed shutdown timeout.
func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.ShutdownTimeout, 30*time.Second)
}

// TokenTTLDuration returns the parsed access token lifetime.
func (c AuthConfig) TokenTTLDuration() time.Duration {
	return parseDuration(c.TokenTTL, 15*time.Minute)
}

// StoreTimeoutDuration returns the bound on each store call.
func (c APIKeysConfig) StoreTimeoutDuration() time.Duration {
	return parseDuration(c.StoreTimeout, apikey.DefaultStoreTimeout)
}

// ScopePolicy builds the scope vocabulary for key creation.
func (c APIKeysConfig) ScopePolicy() apikey.ScopePolicy {
	return apikey.ScopePolicy{
		Defaults: c.DefaultScopes,
		Allowed:  c.AllowedScopes,
		Tenants:  c.TenantScopes,
	}
}

// StoreOptions converts the store section for store.Open.
func (c StoreConfig) StoreOptions() store.Config {
	return store.Config{
		Options: store.Options{
			Driver:          c.Driver,
			DSN:             c.DSN,
			DataDir:         c.DataDir,
			MaxOpenConns:    c.MaxOpenConns,
			MaxIdleConns:    c.MaxIdleConns,
			ConnMaxLifetime: parseDuration(c.ConnMaxLifetime, 0),
			ConnMaxIdleTime: parseDuration(c.ConnMaxIdleTime, 0),
		},
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		KeyPrefix:     c.KeyPrefix,
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
