package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	scopesURI       = "keymint://scopes"
	tenantScopesURI = "keymint://scopes/"
)

// registerResources adds the scope policy as read-only resources so clients
// can pick valid scopes before calling keymint_create_key.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			scopesURI,
			"Scope Policy",
			mcp.WithResourceDescription(
				"Default scopes, the global scope vocabulary, and per-tenant overrides. "+
					"An empty vocabulary means any scope is accepted.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleScopesResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			tenantScopesURI+"{tenant}",
			"Tenant Scope Vocabulary",
			mcp.WithTemplateDescription("Scopes that keys in one tenant may be created with."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleTenantScopesResource,
	)
}

type scopePolicyInfo struct {
	Defaults []string            `json:"defaults"`
	Allowed  []string            `json:"allowed"`
	Tenants  map[string][]string `json:"tenants,omitempty"`
}

func (s *MCPServer) handleScopesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	p := s.keys.Policy()
	return jsonContents(scopesURI, scopePolicyInfo{
		Defaults: nonNil(p.Defaults),
		Allowed:  nonNil(p.Allowed),
		Tenants:  p.Tenants,
	})
}

func (s *MCPServer) handleTenantScopesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	tenant := strings.TrimPrefix(uri, tenantScopesURI)
	if tenant == "" || tenant == uri {
		return nil, fmt.Errorf("invalid scopes URI %q: expected %s{tenant}", uri, tenantScopesURI)
	}
	return jsonContents(uri, map[string]interface{}{
		"tenant": tenant,
		"scopes": nonNil(s.keys.Policy().Vocabulary(tenant)),
	})
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
