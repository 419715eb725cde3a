package openapi

import (
	"encoding/json"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

func TestGenerateResolvesRefs(t *testing.T) {
	doc := Generate("http://localhost:8080", "X-API-Key")

	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	loaded, err := openapi3.NewLoader().LoadFromData(b)
	if err != nil {
		t.Fatalf("LoadFromData: %v", err)
	}
	list := loaded.Paths.Find("/api/v1/keys").Get.Responses.Value("200")
	schema := list.Value.Content.Get("application/json").Schema
	if schema.Value == nil || schema.Value.Properties["resource"] == nil {
		t.Fatalf("KeyList ref did not resolve: %+v", schema)
	}
	if loaded.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("server URL: got %q", loaded.Servers[0].URL)
	}
}

func TestGeneratePaths(t *testing.T) {
	doc := Generate("", "")

	want := map[string][]string{
		"/api/v1/keys":            {"GET", "POST"},
		"/api/v1/keys/{publicId}": {"DELETE"},
		"/api/v1/me":              {"GET"},
		"/connect/token":          {"POST"},
		"/healthz":                {"GET"},
		"/readyz":                 {"GET"},
	}
	if got := doc.Paths.Len(); got != len(want) {
		t.Errorf("path count: got %d, want %d", got, len(want))
	}
	for path, methods := range want {
		item := doc.Paths.Find(path)
		if item == nil {
			t.Errorf("missing path %s", path)
			continue
		}
		for _, m := range methods {
			if item.GetOperation(m) == nil {
				t.Errorf("%s: missing %s operation", path, m)
			}
		}
	}
	if len(doc.Servers) != 0 {
		t.Errorf("servers: expected none without a base URL, got %v", doc.Servers)
	}
}

func TestGenerateSecurity(t *testing.T) {
	doc := Generate("", "X-Custom-Key")

	scheme := doc.Components.SecuritySchemes["apiKey"]
	if scheme == nil || scheme.Value.Name != "X-Custom-Key" {
		t.Fatalf("apiKey scheme: got %+v", scheme)
	}
	if doc.Components.SecuritySchemes["bearerAuth"] == nil {
		t.Error("missing bearerAuth scheme")
	}

	token := doc.Paths.Find("/connect/token").Post
	if token.Security == nil || len(*token.Security) != 0 {
		t.Errorf("token endpoint should override security with an empty list, got %v", token.Security)
	}
	if token.RequestBody.Value.Content.Get("application/x-www-form-urlencoded") == nil {
		t.Error("token endpoint should accept form bodies")
	}

	create := doc.Paths.Find("/api/v1/keys").Post
	if create.Security != nil {
		t.Error("create should inherit the document security")
	}
}

func TestGenerateSchemas(t *testing.T) {
	doc := Generate("", "")
	for _, name := range []string{"ErrorResponse", "OAuthError", "CreateKeyRequest", "CreatedKey", "KeySummary", "KeyList", "TokenResponse", "Principal"} {
		if doc.Components.Schemas[name] == nil {
			t.Errorf("missing schema %s", name)
		}
	}

	created := doc.Components.Schemas["CreatedKey"].Value
	if created.Properties["api_key"] == nil {
		t.Error("CreatedKey must expose api_key")
	}
	summary := doc.Components.Schemas["KeySummary"].Value
	for _, secret := range []string{"api_key", "secret_hash"} {
		if summary.Properties[secret] != nil {
			t.Errorf("KeySummary must not expose %s", secret)
		}
	}
}
