package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/config"
	"github.com/keymint/keymint/internal/store"
)

// loadConfig decodes the effective configuration (file, KEYMINT_* env vars,
// bound flags) and fills in the SQLite data directory when none is set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if isSQLite(cfg.Store.Driver) && cfg.Store.DSN == "" && cfg.Store.DataDir == "" {
		cfg.Store.DataDir = defaultDataDir()
	}
	return cfg, nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "", store.DriverSQLite, "sqlite3":
		return true
	}
	return false
}

// defaultDataDir returns KEYMINT_DATA_DIR or ~/.keymint.
func defaultDataDir() string {
	if envDir := os.Getenv("KEYMINT_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keymint")
}

// keyEnv bundles what the key-facing commands need. Close releases the store.
type keyEnv struct {
	cfg     *config.Config
	keys    *apikey.Service
	metrics *apikey.Metrics
	store   apikey.Store
}

func (e *keyEnv) Close() error {
	return e.store.Close()
}

// openKeys opens the configured store and builds the key service on top of
// it. Commands that touch keys refuse to run without a hash secret.
func openKeys(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*keyEnv, error) {
	hasher, err := apikey.NewHasher([]byte(cfg.APIKeys.HashSecret))
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}

	metrics := apikey.NewMetrics("keymint")
	keys := apikey.NewService(st, hasher, apikey.Options{
		Policy:       cfg.APIKeys.ScopePolicy(),
		StoreTimeout: cfg.APIKeys.StoreTimeoutDuration(),
		Logger:       logger,
		Metrics:      metrics,
	})

	return &keyEnv{cfg: cfg, keys: keys, metrics: metrics, store: st}, nil
}

// cliLogger is used by one-shot commands: warnings and errors only, on
// stderr, so stdout stays clean for --json output.
func cliLogger(cfg *config.Config) *slog.Logger {
	lc := cfg.Logging
	if !strings.EqualFold(lc.Level, "debug") {
		lc.Level = "warn"
	}
	return config.NewLogger(lc, os.Stderr, false)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
