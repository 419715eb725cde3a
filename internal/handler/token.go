package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/server/middleware"
	"github.com/keymint/keymint/internal/service"
)

// TokenHandler serves the OAuth token endpoint for the api_key grant.
type TokenHandler struct {
	grant  *service.GrantExchange
	issuer *service.TokenIssuer
	logger *slog.Logger
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(grant *service.GrantExchange, issuer *service.TokenIssuer, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{grant: grant, issuer: issuer, logger: logger}
}

// Token exchanges an API key for a short-lived bearer token.
// POST /connect/token
//
// The body is application/x-www-form-urlencoded with grant_type=api_key,
// api_key, and an optional space separated scope.
func (h *TokenHandler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, service.GrantErrInvalidRequest, "malformed form body")
		return
	}

	grantType := r.PostForm.Get("grant_type")
	switch grantType {
	case service.GrantTypeAPIKey:
	case "":
		writeOAuthError(w, http.StatusBadRequest, service.GrantErrInvalidRequest, "missing grant_type")
		return
	default:
		writeOAuthError(w, http.StatusBadRequest, service.GrantErrUnsupportedGrantType, "grant_type must be api_key")
		return
	}

	requested := strings.Fields(r.PostForm.Get("scope"))
	claims, err := h.grant.Exchange(r.Context(), r.PostForm.Get("api_key"), requested)
	if err != nil {
		var ge *service.GrantError
		switch {
		case errors.As(err, &ge):
			writeOAuthError(w, http.StatusBadRequest, ge.Code, ge.Description)
		case errors.Is(err, apikey.ErrUnavailable):
			h.logger.Error("token exchange unavailable", "error", err, "request_id", middleware.GetRequestID(r.Context()))
			writeOAuthError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "key store unavailable")
		default:
			h.logger.Error("token exchange failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "")
		}
		return
	}

	token, err := h.issuer.Issue(*claims)
	if err != nil {
		h.logger.Error("token signing failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, model.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.issuer.TTL().Seconds()),
		Scope:       strings.Join(claims.Scopes, " "),
	})
}
