package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keymint/keymint/internal/apikey"
)

// MCPServer exposes key management to MCP clients. It acts as an operator
// tool: every call names the owner and tenant it works on, so it must only
// be served to trusted local agents.
type MCPServer struct {
	keys   *apikey.Service
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer with all key tools and resources
// registered. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(keys *apikey.Service, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		keys:   keys,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Keymint API Keys",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout for clients that launch keymint
// as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation(destructive bool) mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(destructive),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
