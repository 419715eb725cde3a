package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
)

// registerTools registers the key management tools on srv.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("keymint_create_key",
			mcp.WithDescription(
				"Create an API key for an owner within a tenant. The plaintext key "+
					"is returned once and cannot be recovered later, so hand it to the "+
					"user immediately.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation(false)),
			mcp.WithString("owner",
				mcp.Required(),
				mcp.Description("Subject id of the key owner"),
			),
			mcp.WithString("tenant",
				mcp.Required(),
				mcp.Description("Tenant the key belongs to"),
			),
			mcp.WithArray("scopes",
				mcp.Description("Scopes to grant. Omit for the configured defaults."),
				mcp.WithStringItems(),
			),
			mcp.WithString("name",
				mcp.Description("Display name for the key"),
			),
			mcp.WithString("ttl",
				mcp.Description("Lifetime as a Go duration such as \"720h\". Omit for a key that never expires."),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("keymint_list_keys",
			mcp.WithDescription(
				"List the active (non-revoked) keys of an owner within a tenant, newest "+
					"first. Secrets are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("owner", mcp.Required(), mcp.Description("Subject id of the key owner")),
			mcp.WithString("tenant", mcp.Required(), mcp.Description("Tenant to list")),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keymint_revoke_key",
			mcp.WithDescription(
				"Revoke a key by its public id. Revocation is permanent. Reports "+
					"revoked=false when no such key belongs to the owner and tenant.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation(true)),
			mcp.WithString("id", mcp.Required(), mcp.Description("Public id of the key")),
			mcp.WithString("owner", mcp.Required(), mcp.Description("Subject id of the key owner")),
			mcp.WithString("tenant", mcp.Required(), mcp.Description("Tenant of the key")),
		),
		s.handleRevokeKey,
	)

	srv.AddTool(
		mcp.NewTool("keymint_inspect_key",
			mcp.WithDescription(
				"Check whether a plaintext API key is currently valid and, if so, "+
					"show who it belongs to. Does not update the key's last-used time.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("api_key", mcp.Required(), mcp.Description("Plaintext key, ak_<id>.<secret>")),
		),
		s.handleInspectKey,
	)
}

func (s *MCPServer) handleCreateKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := requireString(request, "owner")
	if err != nil {
		return toolError("%v", err)
	}
	tenant, err := requireString(request, "tenant")
	if err != nil {
		return toolError("%v", err)
	}

	params := apikey.CreateParams{
		OwnerID:  owner,
		TenantID: tenant,
		Scopes:   optionalStringSlice(request, "scopes"),
		Name:     optionalString(request, "name"),
	}
	if raw := optionalString(request, "ttl"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return toolError("Invalid ttl %q: %v. Use a Go duration such as \"24h\" or \"90m\".", raw, err)
		}
		params.TTL = &ttl
	}

	wire, key, err := s.keys.Create(ctx, params)
	if err != nil {
		if errors.Is(err, apikey.ErrInvalidScope) {
			return toolError("%v. Allowed scopes for tenant %q: %v", err, tenant, s.keys.Policy().Vocabulary(tenant))
		}
		return toolError("Failed to create key: %v", err)
	}

	return successJSON(model.CreatedKey{
		APIKey:    wire,
		ID:        key.PublicID,
		Tenant:    key.TenantID,
		Name:      key.Name,
		Scopes:    key.Scopes,
		ExpiresAt: key.ExpiresAt,
		CreatedAt: key.CreatedAt,
	})
}

func (s *MCPServer) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := requireString(request, "owner")
	if err != nil {
		return toolError("%v", err)
	}
	tenant, err := requireString(request, "tenant")
	if err != nil {
		return toolError("%v", err)
	}

	keys, err := s.keys.List(ctx, owner, tenant)
	if err != nil {
		return toolError("Failed to list keys: %v", err)
	}

	resp := model.KeyListResponse{
		Resource: make([]model.KeySummary, 0, len(keys)),
		Meta:     model.ResponseMeta{Count: len(keys)},
	}
	for i := range keys {
		resp.Resource = append(resp.Resource, model.NewKeySummary(&keys[i]))
	}
	return successJSON(resp)
}

func (s *MCPServer) handleRevokeKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	owner, err := requireString(request, "owner")
	if err != nil {
		return toolError("%v", err)
	}
	tenant, err := requireString(request, "tenant")
	if err != nil {
		return toolError("%v", err)
	}

	ok, err := s.keys.Revoke(ctx, id, owner, tenant)
	if err != nil {
		return toolError("Failed to revoke key: %v", err)
	}
	return successJSON(map[string]interface{}{"id": id, "revoked": ok})
}

// inspectResult is the outcome of keymint_inspect_key. Rejected keys carry
// no detail beyond valid=false.
type inspectResult struct {
	Valid bool              `json:"valid"`
	Owner string            `json:"owner,omitempty"`
	Key   *model.KeySummary `json:"key,omitempty"`
}

func (s *MCPServer) handleInspectKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wire, err := requireString(request, "api_key")
	if err != nil {
		return toolError("%v", err)
	}

	key, err := s.keys.Validate(ctx, wire, false)
	if errors.Is(err, apikey.ErrInvalidKey) {
		return successJSON(inspectResult{Valid: false})
	}
	if err != nil {
		return toolError("Failed to inspect key: %v", err)
	}

	summary := model.NewKeySummary(key)
	return successJSON(inspectResult{Valid: true, Owner: key.OwnerID, Key: &summary})
}
