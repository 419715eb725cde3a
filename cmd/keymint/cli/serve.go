package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keymint/keymint/internal/config"
	"github.com/keymint/keymint/internal/server"
	"github.com/keymint/keymint/internal/service"
)

const banner = `
 _                        _       _
| | _____ _   _ _ __ ___ (_)_ __ | |_
| |/ / _ \ | | | '_ ` + "`" + ` _ \| | '_ \| __|
|   <  __/ |_| | | | | | | | | | | |_
|_|\_\___|\__, |_| |_| |_|_|_| |_|\__|
          |___/
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keymint API server",
		Long: `Start the HTTP server that manages API keys under /api/v1/keys, exchanges
keys for bearer tokens at /connect/token, and exposes health, metrics, and
OpenAPI endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().String("data-dir", "", "Data directory for the SQLite key store (default: ~/.keymint)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, CORS *)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("store.data_dir", cmd.Flags().Lookup("data-dir"))

	return cmd
}

func runServe(dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := config.NewLogger(cfg.Logging, os.Stderr, dev)

	ctx := context.Background()
	env, err := openKeys(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	tokens, err := service.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTLDuration())
	if err != nil {
		return fmt.Errorf("init token issuer: %w", err)
	}
	authSvc := service.NewAuthService(env.keys, tokens)

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeoutDuration(),
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxBodySize:     cfg.Server.MaxBodySize,
		TokenRateLimit:  cfg.Server.TokenRateLimit,
		KeyRateLimit:    cfg.Server.KeyRateLimit,
		AuthRateLimit:   cfg.Server.AuthRateLimit,
		APIKeyHeader:    cfg.Auth.APIKeyHeader,
	}
	if dev {
		srvCfg.CORSOrigins = []string{"*"}
	}

	srv := server.New(srvCfg, env.keys, authSvc, tokens, env.metrics, logger)

	fmt.Print(banner)
	fmt.Println()
	fmt.Printf("→ keymint %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Token:      http://%s:%d/connect/token\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Key store:  %s\n", storeLabel(cfg.Store.Driver, cfg.Store.DataDir))
	fmt.Println()

	return srv.ListenAndServe()
}

// storeLabel describes the key store for the startup banner without
// printing credentials from the DSN.
func storeLabel(driver, dataDir string) string {
	if isSQLite(driver) {
		if dataDir == "" {
			return "sqlite (custom DSN)"
		}
		return "sqlite in " + dataDir
	}
	return driver
}
