package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/service"
	"github.com/keymint/keymint/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testJWTSecret = "test-secret-for-jwt-integration-tests"

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server *Server
	store  *store.SQLStore
	keys   *apikey.Service
	tokens *service.TokenIssuer
}

// newTestEnv creates a fully wired Server over an in-memory SQLite store.
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	st, err := store.NewSQLite("")
	if err != nil {
		t.Fatalf("store.NewSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher, err := apikey.NewHasher([]byte("integration-hash-secret"))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := apikey.NewMetrics("keymint")
	keys := apikey.NewService(st, hasher, apikey.Options{Logger: logger, Metrics: metrics})

	tokens, err := service.NewTokenIssuer([]byte(testJWTSecret), "keymint", "keymint-api", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	srv := New(cfg, keys, service.NewAuthService(keys, tokens), tokens, metrics, logger)

	return &testEnv{server: srv, store: st, keys: keys, tokens: tokens}
}

// seedKey creates a key directly through the service, bypassing HTTP.
func (e *testEnv) seedKey(t *testing.T, owner, tenant string, scopes ...string) (string, *model.APIKey) {
	t.Helper()
	wire, rec, err := e.keys.Create(context.Background(), apikey.CreateParams{OwnerID: owner, TenantID: tenant, Scopes: scopes})
	if err != nil {
		t.Fatalf("seedKey: %v", err)
	}
	return wire, rec
}

// bearerFor mints a user token as an upstream identity provider would.
func (e *testEnv) bearerFor(t *testing.T, sub, tenant string) string {
	t.Helper()
	tok, err := e.tokens.Issue(service.ClaimSet{Subject: sub, TenantID: tenant})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return "Bearer " + tok
}

func (e *testEnv) request(t *testing.T, method, path, auth string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) exchange(t *testing.T, wire, scope string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"grant_type": {"api_key"}, "api_key": {wire}}
	if scope != "" {
		form.Set("scope", scope)
	}
	req := httptest.NewRequest("POST", "/connect/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return bytes.NewBuffer(b)
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Credential handling
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	rr := e.request(t, "GET", "/healthz", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Errorf("body: %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyz(t *testing.T) {
	e := newTestEnv(t)
	expectStatus(t, e.request(t, "GET", "/readyz", "", nil), http.StatusOK)

	e.store.Close()
	rr := e.request(t, "GET", "/readyz", "", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, rr, &body)
	if body.Status != "degraded" || body.Checks["store"] != "unavailable" {
		t.Errorf("got %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	wire, _ := e.seedKey(t, "u1", "t1")
	expectStatus(t, e.request(t, "GET", "/api/v1/me", wire, nil), http.StatusOK)

	rr := e.request(t, "GET", "/metrics", "", nil)
	expectStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	for _, name := range []string{
		"keymint_apikey_validation_total",
		"keymint_apikey_created_total",
		"keymint_http_requests_total",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rr := e.request(t, "GET", "/openapi.json", "", nil)
	expectStatus(t, rr, http.StatusOK)

	var doc struct {
		OpenAPI string                     `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	decode(t, rr, &doc)
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi: got %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/connect/token"]; !ok {
		t.Error("missing /connect/token")
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestAPIRequiresAuth(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/api/v1/me", "/api/v1/keys"} {
		rr := e.request(t, "GET", path, "", nil)
		expectStatus(t, rr, http.StatusUnauthorized)
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("%s: expected WWW-Authenticate", path)
		}
	}
}

func TestAuthenticateWithAPIKeyHeaders(t *testing.T) {
	e := newTestEnv(t)
	wire, rec := e.seedKey(t, "u1", "t1", "api1")

	// Raw key in Authorization.
	rr := e.request(t, "GET", "/api/v1/me", wire, nil)
	expectStatus(t, rr, http.StatusOK)
	var me model.PrincipalResponse
	decode(t, rr, &me)
	if me.Subject != "spn:ak_"+rec.PublicID || me.Scheme != "api_key" || me.IssuedVia != "api_key" {
		t.Errorf("me: got %+v", me)
	}

	// Raw key in X-API-Key.
	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("X-API-Key", wire)
	rr = httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusOK)
}

func TestCustomAPIKeyHeader(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.APIKeyHeader = "X-Keymint-Key" })
	wire, _ := e.seedKey(t, "u1", "t1")

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("X-Keymint-Key", wire)
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusOK)
}

func TestInvalidCredentialsLookAlike(t *testing.T) {
	e := newTestEnv(t)
	wire, rec := e.seedKey(t, "u1", "t1")
	revokedWire, revoked := e.seedKey(t, "u1", "t1")
	if ok, _ := e.keys.Revoke(context.Background(), revoked.PublicID, "u1", "t1"); !ok {
		t.Fatal("revoke failed")
	}
	other, _ := apikey.NewSecret()

	creds := map[string]string{
		"malformed":    "ak_nothing",
		"unknown":      apikey.Encode("AAAAAAAAAAAAAAAA", other),
		"wrong secret": apikey.Encode(rec.PublicID, other),
		"revoked":      revokedWire,
		"bad bearer":   "Bearer not.a.jwt",
		"basic":        "Basic dXNlcjpwYXNz",
	}
	var first string
	for name, cred := range creds {
		rr := e.request(t, "GET", "/api/v1/me", cred, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: got %d, want 401", name, rr.Code)
			continue
		}
		if first == "" {
			first = rr.Body.String()
		} else if rr.Body.String() != first {
			t.Errorf("%s: body %q differs from %q", name, rr.Body.String(), first)
		}
	}

	// The good key still works.
	expectStatus(t, e.request(t, "GET", "/api/v1/me", wire, nil), http.StatusOK)
}

// ---------------------------------------------------------------------------
// End-to-end key lifecycle
// ---------------------------------------------------------------------------

func TestKeyLifecycle(t *testing.T) {
	e := newTestEnv(t)
	user := e.bearerFor(t, "u1", "t1")

	// Create.
	rr := e.request(t, "POST", "/api/v1/keys", user, jsonBody(t, map[string]interface{}{
		"name":   "deploy",
		"scopes": []string{"api1", "api2"},
	}))
	expectStatus(t, rr, http.StatusCreated)
	var created model.CreatedKey
	decode(t, rr, &created)
	if created.Tenant != "t1" || created.Name != "deploy" {
		t.Fatalf("created: %+v", created)
	}

	// Use the key directly.
	rr = e.request(t, "GET", "/api/v1/me", created.APIKey, nil)
	expectStatus(t, rr, http.StatusOK)
	var me model.PrincipalResponse
	decode(t, rr, &me)
	if me.Owner != "u1" || me.Tenant != "t1" {
		t.Errorf("me via key: %+v", me)
	}

	// Exchange it for a token with a narrowed scope.
	rr = e.exchange(t, created.APIKey, "api2")
	expectStatus(t, rr, http.StatusOK)
	var tok model.TokenResponse
	decode(t, rr, &tok)
	if tok.Scope != "api2" || tok.TokenType != "Bearer" {
		t.Errorf("token: %+v", tok)
	}

	// The derived token authenticates and keeps the key's owner.
	rr = e.request(t, "GET", "/api/v1/me", "Bearer "+tok.AccessToken, nil)
	expectStatus(t, rr, http.StatusOK)
	decode(t, rr, &me)
	if me.Scheme != "bearer" || me.IssuedVia != "api_key" || me.Owner != "u1" || me.KeyID != created.ID {
		t.Errorf("me via token: %+v", me)
	}
	if len(me.Scopes) != 1 || me.Scopes[0] != "api2" {
		t.Errorf("token scopes: %v", me.Scopes)
	}

	// The derived token manages the same owner's keys.
	rr = e.request(t, "GET", "/api/v1/keys", "Bearer "+tok.AccessToken, nil)
	expectStatus(t, rr, http.StatusOK)
	var list model.KeyListResponse
	decode(t, rr, &list)
	if list.Meta.Count != 1 || list.Resource[0].ID != created.ID {
		t.Fatalf("list: %+v", list)
	}
	if list.Resource[0].LastUsedAt == nil {
		t.Error("expected last_used_at after the key was used")
	}

	// Revoke, then the key stops working everywhere.
	expectStatus(t, e.request(t, "DELETE", "/api/v1/keys/"+created.ID, user, nil), http.StatusNoContent)
	expectStatus(t, e.request(t, "GET", "/api/v1/me", created.APIKey, nil), http.StatusUnauthorized)
	expectStatus(t, e.exchange(t, created.APIKey, ""), http.StatusBadRequest)
	expectStatus(t, e.request(t, "DELETE", "/api/v1/keys/"+created.ID, user, nil), http.StatusNotFound)
}

func TestKeyCredentialsCannotCreateKeys(t *testing.T) {
	e := newTestEnv(t)
	wire, parent := e.seedKey(t, "u1", "t1", "read")
	body := map[string]interface{}{"scopes": []string{"admin", "write"}}

	expectStatus(t, e.request(t, "POST", "/api/v1/keys", wire, jsonBody(t, body)), http.StatusForbidden)

	rr := e.exchange(t, wire, "")
	expectStatus(t, rr, http.StatusOK)
	var tok model.TokenResponse
	decode(t, rr, &tok)
	derived := "Bearer " + tok.AccessToken
	expectStatus(t, e.request(t, "POST", "/api/v1/keys", derived, jsonBody(t, body)), http.StatusForbidden)

	// Listing still works, and nothing was minted.
	rr = e.request(t, "GET", "/api/v1/keys", wire, nil)
	expectStatus(t, rr, http.StatusOK)
	var list model.KeyListResponse
	decode(t, rr, &list)
	if list.Meta.Count != 1 || list.Resource[0].ID != parent.PublicID {
		t.Errorf("list: %+v", list)
	}

	// A user credential for the same owner can still create keys.
	expectStatus(t, e.request(t, "POST", "/api/v1/keys", e.bearerFor(t, "u1", "t1"), jsonBody(t, body)), http.StatusCreated)
}

func TestKeysAreScopedToOwnerAndTenant(t *testing.T) {
	e := newTestEnv(t)
	_, mine := e.seedKey(t, "u1", "t1")
	e.seedKey(t, "u1", "t2")
	e.seedKey(t, "u2", "t1")

	rr := e.request(t, "GET", "/api/v1/keys", e.bearerFor(t, "u1", "t1"), nil)
	expectStatus(t, rr, http.StatusOK)
	var list model.KeyListResponse
	decode(t, rr, &list)
	if list.Meta.Count != 1 || list.Resource[0].ID != mine.PublicID {
		t.Errorf("list: %+v", list)
	}

	expectStatus(t, e.request(t, "DELETE", "/api/v1/keys/"+mine.PublicID, e.bearerFor(t, "u2", "t1"), nil), http.StatusNotFound)
	expectStatus(t, e.request(t, "DELETE", "/api/v1/keys/"+mine.PublicID, e.bearerFor(t, "u1", "t2"), nil), http.StatusNotFound)
}

func TestKeysRequireTenant(t *testing.T) {
	e := newTestEnv(t)
	rr := e.request(t, "GET", "/api/v1/keys", e.bearerFor(t, "u1", ""), nil)
	expectStatus(t, rr, http.StatusForbidden)

	// /me does not need a tenant.
	expectStatus(t, e.request(t, "GET", "/api/v1/me", e.bearerFor(t, "u1", ""), nil), http.StatusOK)
}

func TestExpiredKey(t *testing.T) {
	e := newTestEnv(t)
	ttl := -time.Second
	wire, _, err := e.keys.Create(context.Background(), apikey.CreateParams{OwnerID: "u1", TenantID: "t1", TTL: &ttl})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	expectStatus(t, e.request(t, "GET", "/api/v1/me", wire, nil), http.StatusUnauthorized)
	expectStatus(t, e.exchange(t, wire, ""), http.StatusBadRequest)
}

func TestBodyLimit(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.MaxBodySize = 64 })
	big := jsonBody(t, map[string]string{"name": strings.Repeat("x", 256)})
	rr := e.request(t, "POST", "/api/v1/keys", e.bearerFor(t, "u1", "t1"), big)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestTokenRateLimit(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.TokenRateLimit = 2 })
	for i := 0; i < 2; i++ {
		expectStatus(t, e.exchange(t, "ak_x.y", ""), http.StatusBadRequest)
	}
	expectStatus(t, e.exchange(t, "ak_x.y", ""), http.StatusTooManyRequests)
}

func TestAuthRateLimitCountsFailedCredentials(t *testing.T) {
	e := newTestEnv(t, func(c *Config) {
		c.AuthRateLimit = 3
		c.KeyRateLimit = 0
	})
	for i := 0; i < 3; i++ {
		expectStatus(t, e.request(t, "GET", "/api/v1/me", "ak_aaaaaaaaaaaaaaaa.wrong", nil), http.StatusUnauthorized)
	}
	expectStatus(t, e.request(t, "GET", "/api/v1/me", "ak_aaaaaaaaaaaaaaaa.wrong", nil), http.StatusTooManyRequests)

	// The limit is per client address, so a valid key from the same
	// address is throttled too.
	wire, _ := e.seedKey(t, "u1", "t1")
	expectStatus(t, e.request(t, "GET", "/api/v1/me", wire, nil), http.StatusTooManyRequests)
}

func TestServersShareMetrics(t *testing.T) {
	st, err := store.NewSQLite("")
	if err != nil {
		t.Fatalf("store.NewSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	hasher, err := apikey.NewHasher([]byte("integration-hash-secret"))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	tokens, err := service.NewTokenIssuer([]byte(testJWTSecret), "keymint", "keymint-api", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := apikey.NewMetrics("keymint")
	keys := apikey.NewService(st, hasher, apikey.Options{Logger: logger, Metrics: metrics})

	var servers []*Server
	for i := 0; i < 2; i++ {
		servers = append(servers, New(DefaultConfig(), keys, service.NewAuthService(keys, tokens), tokens, metrics, logger))
	}

	for _, srv := range servers {
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
		expectStatus(t, rr, http.StatusOK)
	}
	n, err := testutil.GatherAndCount(metrics.Registry(), "keymint_http_requests_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d request series, want 1 shared across servers", n)
	}
	rr := httptest.NewRecorder()
	servers[1].Router().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `keymint_http_requests_total{method="GET",route="/healthz",status="200"} 2`) {
		t.Errorf("shared counter did not reach 2:\n%s", rr.Body.String())
	}
}

func TestStoreOutageIs503(t *testing.T) {
	e := newTestEnv(t)
	wire, _ := e.seedKey(t, "u1", "t1")
	e.store.Close()

	expectStatus(t, e.request(t, "GET", "/api/v1/me", wire, nil), http.StatusServiceUnavailable)

	rr := e.exchange(t, wire, "")
	expectStatus(t, rr, http.StatusServiceUnavailable)
	var body model.OAuthError
	decode(t, rr, &body)
	if body.Error != "temporarily_unavailable" {
		t.Errorf("error: got %q", body.Error)
	}
}
