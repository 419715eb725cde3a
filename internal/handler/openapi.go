package handler

import (
	"net/http"

	"github.com/keymint/keymint/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI document for this server.
type OpenAPIHandler struct {
	apiKeyHeader string
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(apiKeyHeader string) *OpenAPIHandler {
	return &OpenAPIHandler{apiKeyHeader: apiKeyHeader}
}

// ServeSpec returns the document with the request's own origin as server.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, openapi.Generate(baseURL(r), h.apiKeyHeader))
}

// baseURL derives the external origin of r, honouring X-Forwarded-Proto.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
