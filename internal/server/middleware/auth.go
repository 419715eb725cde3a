package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/service"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Authenticator resolves a credential header into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*service.Principal, error)
}

// Authenticate returns an HTTP middleware that validates the request's
// credential. The Authorization header carries either a bearer token or a
// raw API key; when it is absent the value of apiKeyHeader is used.
//
// On success the principal is attached to the request context. Every
// rejected key or token gets the same 401 body so callers cannot tell why
// a credential failed.
func Authenticate(auth Authenticator, apiKeyHeader string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" && apiKeyHeader != "" {
				header = r.Header.Get(apiKeyHeader)
			}

			principal, err := auth.Authenticate(r.Context(), header)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrNoCredentials):
					w.Header().Set("WWW-Authenticate", `Bearer realm="keymint"`)
					writeAuthError(w, http.StatusUnauthorized,
						"Authentication required. Provide an Authorization header or "+apiKeyHeader+" header.")
				case errors.Is(err, apikey.ErrInvalidKey), errors.Is(err, service.ErrInvalidToken):
					w.Header().Set("WWW-Authenticate", `Bearer realm="keymint", error="invalid_token"`)
					writeAuthError(w, http.StatusUnauthorized, "Invalid credentials")
				case errors.Is(err, apikey.ErrUnavailable):
					logger.Error("authentication backend unavailable", "error", err, "request_id", GetRequestID(r.Context()))
					writeAuthError(w, http.StatusServiceUnavailable, "Authentication temporarily unavailable")
				default:
					logger.Error("authentication failed", "error", err, "request_id", GetRequestID(r.Context()))
					writeAuthError(w, http.StatusInternalServerError, "Internal server error")
				}
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenant rejects principals that carry no tenant. It must be used
// after Authenticate in the middleware chain.
func RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || principal.TenantID == "" {
				writeAuthError(w, http.StatusForbidden, "Tenant required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *service.Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
