package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	kmcp "github.com/keymint/keymint/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes key management as
tools for AI agents. The server talks to the key store directly, so only run it
for trusted operators.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC.
In http mode, it serves the streamable HTTP transport on --addr.`,
		Example: `  keymint mcp                                  # stdio mode
  keymint mcp --transport http --addr :3001     # streamable HTTP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context(), transport, addr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":3001", "Listen address (only used with --transport http)")

	return cmd
}

func runMCP(ctx context.Context, transport, addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol in stdio mode, so logs go to stderr.
	logger := cliLogger(cfg)

	env, err := openKeys(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	srv := kmcp.NewMCPServer(env.keys, versionString(), logger)

	switch transport {
	case "stdio":
		return srv.ServeStdio()
	case "http":
		fmt.Fprintf(os.Stderr, "→ MCP listening on %s\n", addr)
		return srv.ServeHTTP(addr)
	default:
		return fmt.Errorf("unknown transport %q: use stdio or http", transport)
	}
}
