package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keymint/keymint/internal/config"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve and mcp
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keymint",
		Short: "Issue, validate, and exchange API keys",
		Long: `keymint: API key issuance and authentication for multi-tenant services.

keymint mints opaque ak_ keys bound to an owner and tenant, validates them on
every request, and exchanges them for short-lived bearer tokens at
/connect/token. Keys can also be managed from this CLI or by AI agents over MCP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keymint.yaml)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("keymint")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.keymint")
	}

	config.SetDefaults(viper.GetViper())
	config.ConfigureEnv(viper.GetViper())
	viper.ReadInConfig() // Ignore error - config file is optional
}
