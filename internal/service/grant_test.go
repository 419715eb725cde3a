package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
)

type failingValidator struct{ err error }

func (f failingValidator) Validate(context.Context, string, bool) (*model.APIKey, error) {
	return nil, f.err
}

func grantCode(t *testing.T, err error) string {
	t.Helper()
	var ge *GrantError
	if !errors.As(err, &ge) {
		t.Fatalf("got %v, want *GrantError", err)
	}
	return ge.Code
}

func TestExchange(t *testing.T) {
	keys := newTestKeys(t)
	ctx := context.Background()
	metrics := apikey.NewMetrics("test")
	g := NewGrantExchange(keys, discardLogger(), metrics)

	wire, rec, err := keys.Create(ctx, apikey.CreateParams{OwnerID: "u1", TenantID: "t1", Scopes: []string{"api1", "api2"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cs, err := g.Exchange(ctx, wire, nil)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	want := &ClaimSet{
		Subject:    "spn:ak_" + rec.PublicID,
		KeyID:      rec.PublicID,
		OwnerID:    "u1",
		TenantID:   "t1",
		Scopes:     []string{"api1", "api2"},
		AuthOrigin: AuthOriginAPIKey,
	}
	if !reflect.DeepEqual(cs, want) {
		t.Errorf("got %+v, want %+v", cs, want)
	}

	cs, err = g.Exchange(ctx, wire, []string{"API2"})
	if err != nil {
		t.Fatalf("Exchange narrowed: %v", err)
	}
	if !reflect.DeepEqual(cs.Scopes, []string{"API2"}) {
		t.Errorf("narrowed scopes: got %v", cs.Scopes)
	}

	n, err := testutil.GatherAndCount(metrics.Registry(), "test_apikey_exchange_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("exchange series: got %d, want 1", n)
	}
}

func TestExchangeScopeIsAllOrNothing(t *testing.T) {
	keys := newTestKeys(t)
	ctx := context.Background()
	g := NewGrantExchange(keys, discardLogger(), nil)

	wire, _, _ := keys.Create(ctx, apikey.CreateParams{OwnerID: "u1", TenantID: "t1", Scopes: []string{"api1"}})

	_, err := g.Exchange(ctx, wire, []string{"admin"})
	if code := grantCode(t, err); code != GrantErrInvalidScope {
		t.Errorf("got %q, want invalid_scope", code)
	}

	_, err = g.Exchange(ctx, wire, []string{"api1", "admin"})
	if code := grantCode(t, err); code != GrantErrInvalidScope {
		t.Errorf("partial match: got %q, want invalid_scope", code)
	}

	cs, err := g.Exchange(ctx, wire, []string{})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !reflect.DeepEqual(cs.Scopes, []string{"api1"}) {
		t.Errorf("got %v, want [api1]", cs.Scopes)
	}
}

func TestExchangeInvalidGrant(t *testing.T) {
	keys := newTestKeys(t)
	ctx := context.Background()
	g := NewGrantExchange(keys, discardLogger(), nil)

	_, err := g.Exchange(ctx, "", nil)
	if code := grantCode(t, err); code != GrantErrInvalidGrant {
		t.Errorf("missing key: got %q", code)
	}
	var ge *GrantError
	errors.As(err, &ge)
	if ge.Description != "missing api_key" {
		t.Errorf("description: got %q", ge.Description)
	}

	_, err = g.Exchange(ctx, "ak_NOTAKEY", nil)
	if code := grantCode(t, err); code != GrantErrInvalidGrant {
		t.Errorf("malformed: got %q", code)
	}

	wire, rec, _ := keys.Create(ctx, apikey.CreateParams{OwnerID: "u1", TenantID: "t1"})
	if ok, _ := keys.Revoke(ctx, rec.PublicID, "u1", "t1"); !ok {
		t.Fatal("Revoke failed")
	}
	_, err = g.Exchange(ctx, wire, nil)
	if code := grantCode(t, err); code != GrantErrInvalidGrant {
		t.Errorf("revoked: got %q", code)
	}
}

func TestExchangeStoreFailureIsNotAGrantError(t *testing.T) {
	g := NewGrantExchange(failingValidator{err: apikey.ErrUnavailable}, discardLogger(), nil)
	_, err := g.Exchange(context.Background(), "ak_ABC.def", nil)
	var ge *GrantError
	if errors.As(err, &ge) {
		t.Fatalf("store failure surfaced as grant error %v", ge)
	}
	if !errors.Is(err, apikey.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestExchangeUpdatesLastUsed(t *testing.T) {
	keys := newTestKeys(t)
	ctx := context.Background()
	g := NewGrantExchange(keys, discardLogger(), nil)

	wire, _, _ := keys.Create(ctx, apikey.CreateParams{OwnerID: "u1", TenantID: "t1"})
	if _, err := g.Exchange(ctx, wire, nil); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	list, _ := keys.List(ctx, "u1", "t1")
	if len(list) != 1 || list[0].LastUsedAt == nil {
		t.Fatalf("expected LastUsedAt after exchange, got %+v", list)
	}
}
