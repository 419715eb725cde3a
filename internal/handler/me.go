package handler

import (
	"net/http"

	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/server/middleware"
)

// Me echoes the claims of the calling principal.
// GET /api/v1/me
func Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	scopes := p.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	writeJSON(w, http.StatusOK, model.PrincipalResponse{
		Subject:   p.Subject,
		Tenant:    p.TenantID,
		Owner:     p.OwnerID,
		Scopes:    scopes,
		IssuedVia: p.AuthOrigin,
		Scheme:    p.Scheme.String(),
		KeyID:     p.KeyID,
	})
}
