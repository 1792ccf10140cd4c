package domain

import (
	"slices"
	"time"
)

// User owns applications and the tokens issued against them.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Application represents a registered third-party client.
type Application struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	ClientID         string    `json:"client_id"`
	ClientSecretHash string    `json:"-"`
	CallbackURLs     []string  `json:"callback_urls"`
	AllowedScopes    []string  `json:"allowed_scopes"`
	RateLimit        int       `json:"rate_limit"` // requests per hour
	Active           bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Allows reports whether scope is in the application's allowed set.
func (a *Application) Allows(scope string) bool {
	return slices.Contains(a.AllowedScopes, scope)
}

// Token is a persisted bearer token. The plaintext value is never stored;
// TokenHash holds its SHA-256 digest.
type Token struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	TokenHash     string     `json:"-"`
	Abilities     []string   `json:"abilities"`
	ApplicationID int64      `json:"application_id"`
	UserID        int64      `json:"user_id"`
	ExpiresAt     *time.Time `json:"expires_at"`
	LastUsedAt    *time.Time `json:"last_used_at"`
	Active        bool       `json:"is_active"`
	CreatedFromIP string     `json:"created_from_ip,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Expired reports whether the token has an expiry at or before now.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// Usable reports whether the token can authenticate at the given instant.
func (t *Token) Usable(now time.Time) bool {
	return t.Active && !t.Expired(now)
}

// Can reports whether the token grants ability. The "*" ability grants everything.
func (t *Token) Can(ability string) bool {
	return slices.Contains(t.Abilities, Wildcard) || slices.Contains(t.Abilities, ability)
}

// Session is an owner's signed-in dashboard session. The session JWT carries
// ID as its "sid" claim; revoking the row ends the session before the JWT expires.
type Session struct {
	ID        string     `json:"id"`
	UserID    int64      `json:"user_id"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Usable reports whether the session is unrevoked and unexpired at now.
func (s *Session) Usable(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
