package apikey

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalizeScopes(t *testing.T) {
	got := NormalizeScopes([]string{" api1 ", "API1", "", "api2", "api2"})
	want := []string{"api1", "api2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseScopes(t *testing.T) {
	got := ParseScopes("api1, api2 api3\tapi1")
	want := []string{"api1", "api2", "api3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := ParseScopes(""); len(got) != 0 {
		t.Errorf("got %v for empty input, want none", got)
	}
}

func TestContainsScope(t *testing.T) {
	scopes := []string{"api1", "Reports.Read"}
	if !ContainsScope(scopes, "reports.read") {
		t.Error("expected case-insensitive match")
	}
	if ContainsScope(scopes, "api2") {
		t.Error("unexpected match for api2")
	}
}

func TestScopePolicyResolve(t *testing.T) {
	policy := ScopePolicy{
		Defaults: []string{"api1"},
		Allowed:  []string{"api1", "api2"},
		Tenants: map[string][]string{
			"t-reports": {"reports.read"},
		},
	}

	tests := []struct {
		name      string
		tenant    string
		requested []string
		want      []string
		wantErr   bool
	}{
		{"defaults when empty", "t1", nil, []string{"api1"}, false},
		{"allowed", "t1", []string{"api2", "API1"}, []string{"api2", "API1"}, false},
		{"outside vocabulary", "t1", []string{"admin"}, nil, true},
		{"tenant override", "t-reports", []string{"reports.read"}, []string{"reports.read"}, false},
		{"tenant override rejects global", "t-reports", []string{"api1"}, nil, true},
		{"tenant override ignores case", "T-Reports", []string{"api1"}, nil, true},
		{"tenant override ignores case allows", "T-REPORTS", []string{"reports.read"}, []string{"reports.read"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Resolve(tt.tenant, tt.requested)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidScope) {
					t.Fatalf("got %v, want ErrInvalidScope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScopePolicyZeroValue(t *testing.T) {
	var policy ScopePolicy
	got, err := policy.Resolve("t1", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(got, []string{DefaultScope}) {
		t.Errorf("got %v, want [%s]", got, DefaultScope)
	}

	got, err = policy.Resolve("t1", []string{"anything"})
	if err != nil {
		t.Fatalf("open vocabulary should accept any scope: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"anything"}) {
		t.Errorf("got %v", got)
	}
}
