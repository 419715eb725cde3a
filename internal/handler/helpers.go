package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/server/middleware"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeOAuthError writes an RFC 6749 error body. Token responses must not
// be cached.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, status, model.OAuthError{Error: code, Description: description})
}

// readJSON decodes the request body as JSON into v. An empty body leaves v
// untouched. The body is closed after decoding.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
	}
	return err
}

// writeKeyError translates an apikey error into an HTTP response. Store
// failures are logged with the request ID and reported without detail.
func writeKeyError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, apikey.ErrInvalidScope), errors.Is(err, apikey.ErrInvalidTTL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apikey.ErrMissingOwner), errors.Is(err, apikey.ErrMissingTenant):
		writeError(w, http.StatusForbidden, "Principal has no owner or tenant")
	case errors.Is(err, apikey.ErrInvalidKey):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, apikey.ErrUnavailable):
		logger.Error("key store unavailable", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "Key store temporarily unavailable")
	default:
		logger.Error("unexpected key error", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
