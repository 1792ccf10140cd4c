package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// AuthKind classifies an authentication failure for the public error taxonomy.
type AuthKind string

const (
	InvalidClient       AuthKind = "invalid_client"
	InvalidToken        AuthKind = "invalid_token"
	TokenExpired        AuthKind = "token_expired"
	ApplicationDisabled AuthKind = "application_disabled"
)

// AuthError is returned by every credential check. It carries only the
// public classification, never the internal cause.
type AuthError struct {
	Kind AuthKind
}

func (e *AuthError) Error() string { return "authentication failed: " + string(e.Kind) }

// Is matches any *AuthError of the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidClient       = &AuthError{Kind: InvalidClient}
	ErrInvalidToken        = &AuthError{Kind: InvalidToken}
	ErrTokenExpired        = &AuthError{Kind: TokenExpired}
	ErrApplicationDisabled = &AuthError{Kind: ApplicationDisabled}

	// ErrInvalidScope means the requested scopes share nothing with the application's allowed scopes.
	ErrInvalidScope = errors.New("requested scope is invalid")

	// ErrNotFound is returned when a record does not exist or is not visible to the caller.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("resource already exists")
)

// ValidationError reports malformed input with per-field messages.
type ValidationError struct {
	Fields map[string][]string
}

// Add records a message against field.
func (e *ValidationError) Add(field, format string, args ...any) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], fmt.Sprintf(format, args...))
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

// Err returns e when it carries failures and nil otherwise.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
