package identity

import (
	"sort"
	"strings"
)

// Reserved scopes the provider grants implicitly. Requests that name no
// other scopes fall back to this set so brokers and authorize endpoints
// always receive a non-empty scope parameter.
var ReservedScopes = []string{"openid", "profile", "offline_access"}

// NormalizeScopes lowercases, de-duplicates and sorts a scope set so that
// equal inputs always produce the same slice. Cache keys depend on this.
func NormalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// JoinScopes renders a scope set as the space-separated wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// SplitScopes parses the space-separated wire form.
func SplitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// HasNonReservedScopes reports whether the request names any scope beyond
// the reserved set.
func HasNonReservedScopes(scopes []string) bool {
	reserved := make(map[string]struct{}, len(ReservedScopes))
	for _, r := range ReservedScopes {
		reserved[r] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := reserved[strings.ToLower(s)]; !ok {
			return true
		}
	}
	return false
}

// ScopesSubset reports whether every scope in want is present in got,
// case-insensitively.
func ScopesSubset(want, got []string) bool {
	have := make(map[string]struct{}, len(got))
	for _, g := range got {
		have[strings.ToLower(g)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[strings.ToLower(w)]; !ok {
			return false
		}
	}
	return true
}
