package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/server/middleware"
	"github.com/keymint/keymint/internal/service"
)

// KeysHandler serves key management for the authenticated principal. The
// owner and tenant always come from the principal, never from the body.
type KeysHandler struct {
	keys   *apikey.Service
	logger *slog.Logger
}

// NewKeysHandler creates a new KeysHandler.
func NewKeysHandler(keys *apikey.Service, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{keys: keys, logger: logger}
}

// createKeyRequest is the body of POST /api/v1/keys.
type createKeyRequest struct {
	Name       string          `json:"name"`
	Scopes     scopeList       `json:"scopes"`
	TTLMinutes *int            `json:"ttl_minutes"`
	TTL        string          `json:"ttl"`
	Metadata   json.RawMessage `json:"metadata"`
}

// scopeList accepts either a JSON array of strings or a single string of
// comma or space separated scopes.
type scopeList []string

func (s *scopeList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		*s = apikey.ParseScopes(raw)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return errors.New("scopes must be a string or an array of strings")
	}
	*s = list
	return nil
}

func (req *createKeyRequest) lifetime() (*time.Duration, error) {
	switch {
	case req.TTLMinutes != nil && req.TTL != "":
		return nil, errors.New("specify only one of ttl and ttl_minutes")
	case req.TTLMinutes != nil:
		limit := int64(apikey.MaxTTL / time.Minute)
		if m := int64(*req.TTLMinutes); m > limit || m < -limit {
			return nil, fmt.Errorf("ttl_minutes must be between %d and %d", -limit, limit)
		}
		d := time.Duration(*req.TTLMinutes) * time.Minute
		return &d, nil
	case req.TTL != "":
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid ttl %q: %w", req.TTL, err)
		}
		return &d, nil
	}
	return nil, nil
}

// metadataString stores a JSON string as-is and any other JSON value as
// its compact text.
func (req *createKeyRequest) metadataString() (string, error) {
	raw := bytes.TrimSpace(req.Metadata)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Create mints a key for the calling principal.
// POST /api/v1/keys
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	// Only user credentials mint keys. A key, or a token exchanged from
	// one, may list and revoke but not create.
	if principal.AuthOrigin == service.AuthOriginAPIKey {
		writeError(w, http.StatusForbidden, "API key credentials cannot create keys")
		return
	}

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ttl, err := req.lifetime()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metadata, err := req.metadataString()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid metadata: "+err.Error())
		return
	}

	wire, key, err := h.keys.Create(r.Context(), apikey.CreateParams{
		OwnerID:  principal.OwnerID,
		TenantID: principal.TenantID,
		Scopes:   req.Scopes,
		TTL:      ttl,
		Name:     req.Name,
		Metadata: metadata,
	})
	if err != nil {
		writeKeyError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, model.CreatedKey{
		APIKey:    wire,
		ID:        key.PublicID,
		Tenant:    key.TenantID,
		Name:      key.Name,
		Scopes:    key.Scopes,
		ExpiresAt: key.ExpiresAt,
		CreatedAt: key.CreatedAt,
	})
}

// List returns the principal's non-revoked keys, newest first.
// GET /api/v1/keys
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	keys, err := h.keys.List(r.Context(), principal.OwnerID, principal.TenantID)
	if err != nil {
		writeKeyError(w, r, h.logger, err)
		return
	}

	resp := model.KeyListResponse{
		Resource: make([]model.KeySummary, 0, len(keys)),
		Meta:     model.ResponseMeta{Count: len(keys)},
	}
	for i := range keys {
		resp.Resource = append(resp.Resource, model.NewKeySummary(&keys[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Revoke revokes one of the principal's keys. Keys owned by someone else
// are indistinguishable from keys that do not exist.
// DELETE /api/v1/keys/{publicId}
func (h *KeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	publicID := chi.URLParam(r, "publicId")
	ok, err := h.keys.Revoke(r.Context(), publicID, principal.OwnerID, principal.TenantID)
	if err != nil {
		writeKeyError(w, r, h.logger, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
