package util

import (
	"slices"
	"strings"
)

// ParseScope splits a space-delimited scope parameter into unique scope
// names, preserving first-seen order.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// JoinScope renders scopes as a space-delimited scope parameter.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopesSubset reports whether every requested scope is in allowed.
func ScopesSubset(requested, allowed []string) bool {
	for _, s := range requested {
		if !slices.Contains(allowed, s) {
			return false
		}
	}
	return true
}

// MissingScopes returns the requested scopes that are not in allowed.
func MissingScopes(requested, allowed []string) []string {
	var missing []string
	for _, s := range requested {
		if !slices.Contains(allowed, s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// IntersectScopes returns the scopes of a that are also in b, in a's order.
func IntersectScopes(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, s := range a {
		if slices.Contains(b, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
