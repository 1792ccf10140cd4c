// Package store persists users, applications and bearer tokens.
//
// Three backends implement Store: an in-memory map for tests and local
// runs, SQLite via modernc.org/sqlite and PostgreSQL via lib/pq. Lookups
// that miss return (nil, nil); mutations of missing rows return
// domain.ErrNotFound. Emails are unique and matched case-insensitively.
package store

import (
	"context"
	"time"

	"github.com/example/appauth/internal/domain"
)

// DefaultPageSize is used when a Page has no size.
const DefaultPageSize = 10

// MaxPageNumber bounds Page.Number so that offsets cannot overflow.
const MaxPageNumber = 1_000_000

// Store is the credential store.
type Store interface {
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// User operations
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, u *domain.User) error
	// DeleteUser removes the user with its applications, tokens and sessions.
	DeleteUser(ctx context.Context, id int64) error

	// Session operations
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
	// RevokeUserSessions revokes the user's unrevoked sessions and returns how many.
	RevokeUserSessions(ctx context.Context, userID int64, at time.Time) (int64, error)

	// Application operations
	CreateApplication(ctx context.Context, a *domain.Application) error
	GetApplicationByID(ctx context.Context, id int64) (*domain.Application, error)
	GetApplicationByClientID(ctx context.Context, clientID string) (*domain.Application, error)
	ListApplications(ctx context.Context, userID int64, page Page) ([]*domain.Application, int, error)
	UpdateApplication(ctx context.Context, a *domain.Application) error
	UpdateClientSecret(ctx context.Context, id int64, secretHash string, at time.Time) error
	SetApplicationActive(ctx context.Context, id int64, active bool, at time.Time) error
	DeleteApplication(ctx context.Context, id int64) error

	// Token operations
	CreateToken(ctx context.Context, t *domain.Token) error
	GetTokenByID(ctx context.Context, id int64) (*domain.Token, error)
	GetTokenByHash(ctx context.Context, hash string) (*domain.Token, error)
	ListTokens(ctx context.Context, f TokenFilter, page Page) ([]*domain.Token, int, error)
	CountTokens(ctx context.Context, f TokenFilter) (int, error)
	TouchToken(ctx context.Context, id int64, at time.Time) error
	RevokeToken(ctx context.Context, id int64, at time.Time) error
	RevokeTokens(ctx context.Context, f TokenFilter, at time.Time) (int64, error)
	DeleteTokens(ctx context.Context, f TokenFilter, limit int) (int64, error)
}

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Number > MaxPageNumber {
		p.Number = MaxPageNumber
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	return p
}

// Offset returns the number of rows skipped before the page.
func (p Page) Offset() int {
	p = p.normalize()
	return (p.Number - 1) * p.Size
}

// Limit returns the page size, defaulted.
func (p Page) Limit() int {
	return p.normalize().Size
}

// LastPage returns the number of the last page for total rows, at least 1.
func (p Page) LastPage(total int) int {
	size := p.Limit()
	if total <= 0 {
		return 1
	}
	return (total + size - 1) / size
}

// TokenFilter narrows token queries. Zero fields do not filter.
type TokenFilter struct {
	ApplicationID int64
	UserID        int64
	Active        *bool

	// ExpiresBefore matches tokens with an expiry strictly before the instant.
	ExpiresBefore time.Time
	// ExpiresFrom matches tokens with an expiry at or after the instant.
	ExpiresFrom  time.Time
	NeverExpires bool

	NeverUsed bool
	UsedSince time.Time

	UpdatedBefore time.Time
}

// Bool returns a pointer to b, for TokenFilter.Active.
func Bool(b bool) *bool { return &b }

func (f TokenFilter) match(t *domain.Token) bool {
	if f.ApplicationID != 0 && t.ApplicationID != f.ApplicationID {
		return false
	}
	if f.UserID != 0 && t.UserID != f.UserID {
		return false
	}
	if f.Active != nil && t.Active != *f.Active {
		return false
	}
	if !f.ExpiresBefore.IsZero() && (t.ExpiresAt == nil || unix(*t.ExpiresAt) >= unix(f.ExpiresBefore)) {
		return false
	}
	if !f.ExpiresFrom.IsZero() && (t.ExpiresAt == nil || unix(*t.ExpiresAt) < unix(f.ExpiresFrom)) {
		return false
	}
	if f.NeverExpires && t.ExpiresAt != nil {
		return false
	}
	if f.NeverUsed && t.LastUsedAt != nil {
		return false
	}
	if !f.UsedSince.IsZero() && (t.LastUsedAt == nil || unix(*t.LastUsedAt) < unix(f.UsedSince)) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && unix(t.UpdatedAt) >= unix(f.UpdatedBefore) {
		return false
	}
	return true
}

// Timestamps are persisted as unix seconds in every backend.
func unix(t time.Time) int64 { return t.Unix() }

func fromUnix(s int64) time.Time { return time.Unix(s, 0).UTC() }

func truncate(t time.Time) time.Time { return fromUnix(t.Unix()) }

func truncatePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := truncate(*t)
	return &v
}
