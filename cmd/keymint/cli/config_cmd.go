package cli

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keymint/keymint/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage keymint configuration",
		Long:  "Initialize a configuration file with fresh secrets or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a keymint.yaml configuration file",
		Long: `Write a configuration file with the defaults and freshly generated
apikeys.hash_secret and auth.jwt_secret values. The file is created with mode 0600.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVarP(&path, "output", "o", "keymint.yaml", "Path of the file to write")

	return cmd
}

func runConfigInit(out io.Writer, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	cfg := config.Default()
	var err error
	if cfg.APIKeys.HashSecret, err = randomSecret(); err != nil {
		return err
	}
	if cfg.Auth.JWTSecret, err = randomSecret(); err != nil {
		return err
	}

	if err := config.WriteFile(path, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", path)
	fmt.Fprintln(out, "Changing apikeys.hash_secret later invalidates every existing key.")
	fmt.Fprintln(out, "Run 'keymint serve' to start the server.")
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout(), showSecrets)
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print secrets instead of redacting them")

	return cmd
}

func runConfigShow(out io.Writer, showSecrets bool) error {
	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Fprintf(out, "# Config file: %s\n", configFile)
	} else {
		fmt.Fprintln(out, "# Config file: (none found, using defaults and environment)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !showSecrets {
		redact(cfg)
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

const redacted = "********"

func redact(cfg *config.Config) {
	for _, s := range []*string{&cfg.APIKeys.HashSecret, &cfg.Auth.JWTSecret, &cfg.Store.RedisPassword, &cfg.Store.DSN} {
		if *s != "" {
			*s = redacted
		}
	}
}
