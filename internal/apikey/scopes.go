package apikey

import (
	"fmt"
	"strings"
)

// DefaultScope is granted when a key is created without scopes and no
// default is configured.
const DefaultScope = "api1"

// NormalizeScopes trims each scope, drops empties, and removes duplicates
// compared case-insensitively. The first spelling of a scope wins and the
// original order is kept.
func NormalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ParseScopes splits a comma- or space-separated scope string.
func ParseScopes(s string) []string {
	return NormalizeScopes(strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}))
}

// ContainsScope reports whether scope is in scopes, ignoring case.
func ContainsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

// ScopePolicy holds the scope vocabulary keys may be created with. An empty
// vocabulary allows any scope.
type ScopePolicy struct {
	Defaults []string
	Allowed  []string
	Tenants  map[string][]string // per-tenant vocabulary, overrides Allowed
}

// Vocabulary returns the scopes keys in tenantID may carry. Empty means any.
// Tenant ids are matched ignoring case, since config loaders such as viper
// lowercase map keys.
func (p ScopePolicy) Vocabulary(tenantID string) []string {
	if v, ok := p.Tenants[tenantID]; ok {
		return v
	}
	for t, v := range p.Tenants {
		if strings.EqualFold(t, tenantID) {
			return v
		}
	}
	return p.Allowed
}

// Resolve normalises requested scopes for a new key in tenantID. Empty
// input falls back to the configured defaults.
func (p ScopePolicy) Resolve(tenantID string, requested []string) ([]string, error) {
	scopes := NormalizeScopes(requested)
	if len(scopes) == 0 {
		scopes = NormalizeScopes(p.Defaults)
	}
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}

	vocab := p.Vocabulary(tenantID)
	if len(vocab) == 0 {
		return scopes, nil
	}
	for _, s := range scopes {
		if !ContainsScope(vocab, s) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, s)
		}
	}
	return scopes, nil
}
