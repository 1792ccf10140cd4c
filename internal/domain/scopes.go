package domain

import (
	"slices"
	"strings"
)

// Wildcard grants every ability when present on a token.
const Wildcard = "*"

// DefaultScope is granted when an application or request names none.
const DefaultScope = "read"

// Scopes is the fixed ability vocabulary tokens and applications draw from.
var Scopes = []string{
	"read",
	"write",
	"delete",
	"admin",
	"user:read",
	"user:write",
	"application:read",
	"application:write",
	"token:read",
	"token:write",
	"token:delete",
}

// KnownScope reports whether s belongs to the vocabulary.
func KnownScope(s string) bool {
	return slices.Contains(Scopes, s)
}

// ParseScope splits a space separated scope string, dropping empty and duplicate entries.
func ParseScope(s string) []string {
	return Normalize(strings.Fields(s))
}

// FormatScope joins scopes with single spaces.
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Normalize trims, drops empties and removes duplicates while keeping first-seen order.
func Normalize(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Intersect returns the members of requested that are also in allowed, in request order.
func Intersect(requested, allowed []string) []string {
	out := []string{}
	for _, s := range Normalize(requested) {
		if slices.Contains(allowed, s) {
			out = append(out, s)
		}
	}
	return out
}

// Difference returns the members of a that are not in b.
func Difference(a, b []string) []string {
	var out []string
	for _, s := range Normalize(a) {
		if !slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}
