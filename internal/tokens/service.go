// Package tokens issues, authenticates and revokes bearer tokens.
//
// A token's plaintext is returned exactly once, at issuance; only its
// SHA-256 digest is persisted. A token is usable while it is active and
// not past its expiry. Expiry is evaluated lazily on every authentication
// and revocation is terminal.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/metrics"
	"github.com/example/appauth/internal/secret"
	"github.com/example/appauth/internal/store"
)

const maxNameLength = 255

// Principal is the authenticated identity behind a bearer token.
type Principal struct {
	Token       *domain.Token
	Application *domain.Application
	User        *domain.User
}

// Can reports whether the principal's token grants ability.
func (p *Principal) Can(ability string) bool {
	return p != nil && p.Token.Can(ability)
}

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueParams describes a client-credentials issuance.
type IssueParams struct {
	Application     *domain.Application
	RequestedScopes []string
	// User the token acts for; the application owner when nil.
	User *domain.User
	// TTL of zero issues a token that never expires.
	TTL       time.Duration
	Name      string
	IP        string
	UserAgent string
}

// Issue grants the intersection of the requested and allowed scopes and
// returns the plaintext token with its stored record. An empty request
// asks for the default scope; an empty intersection is ErrInvalidScope.
func (s *Service) Issue(ctx context.Context, p IssueParams) (string, *domain.Token, error) {
	requested := domain.Normalize(p.RequestedScopes)
	if len(requested) == 0 {
		requested = []string{domain.DefaultScope}
	}
	granted := domain.Intersect(requested, p.Application.AllowedScopes)
	if len(granted) == 0 {
		return "", nil, domain.ErrInvalidScope
	}

	now := s.now()
	t := &domain.Token{
		Name:          p.Name,
		Abilities:     granted,
		ApplicationID: p.Application.ID,
		UserID:        p.Application.UserID,
		Active:        true,
		CreatedFromIP: p.IP,
		UserAgent:     p.UserAgent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.Name == "" {
		t.Name = "OAuth Token for " + p.Application.Name
	}
	if p.User != nil {
		t.UserID = p.User.ID
	}
	if p.TTL > 0 {
		exp := now.Add(p.TTL)
		t.ExpiresAt = &exp
	}

	plain, err := s.persist(ctx, t)
	if err != nil {
		return "", nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues("oauth").Inc()
	log.Info().Int64("token_id", t.ID).Int64("application_id", t.ApplicationID).Str("scope", domain.FormatScope(granted)).Msg("token issued")
	return plain, t, nil
}

// CreateParams describes a token created by an application owner.
type CreateParams struct {
	Application *domain.Application
	User        *domain.User
	Name        string
	Abilities   []string
	ExpiresAt   *time.Time
	IP          string
	UserAgent   string
}

// Create issues a token with exactly the requested abilities. Every ability
// must be known and allowed for the application.
func (s *Service) Create(ctx context.Context, p CreateParams) (string, *domain.Token, error) {
	now := s.now()
	abilities := domain.Normalize(p.Abilities)

	var v domain.ValidationError
	switch {
	case strings.TrimSpace(p.Name) == "":
		v.Add("name", "The token name is required.")
	case len(p.Name) > maxNameLength:
		v.Add("name", "The name may not be greater than %d characters.", maxNameLength)
	}
	if len(abilities) == 0 {
		v.Add("abilities", "At least one ability must be specified.")
	}
	for _, a := range abilities {
		if !domain.KnownScope(a) {
			v.Add("abilities", "Invalid ability %q.", a)
		}
	}
	if denied := domain.Difference(abilities, p.Application.AllowedScopes); len(denied) > 0 {
		v.Add("abilities", "The following abilities are not allowed for this application: %s", strings.Join(denied, ", "))
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		v.Add("expires_at", "The expiration date must be in the future.")
	}
	if err := v.Err(); err != nil {
		return "", nil, err
	}

	t := &domain.Token{
		Name:          strings.TrimSpace(p.Name),
		Abilities:     abilities,
		ApplicationID: p.Application.ID,
		UserID:        p.Application.UserID,
		ExpiresAt:     p.ExpiresAt,
		Active:        true,
		CreatedFromIP: p.IP,
		UserAgent:     p.UserAgent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.User != nil {
		t.UserID = p.User.ID
	}
	plain, err := s.persist(ctx, t)
	if err != nil {
		return "", nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues("owner").Inc()
	log.Info().Int64("token_id", t.ID).Int64("application_id", t.ApplicationID).Msg("token created")
	return plain, t, nil
}

// persist generates the plaintext and stores t under its digest, retrying
// the vanishingly unlikely digest collision.
func (s *Service) persist(ctx context.Context, t *domain.Token) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		plain, err := secret.Generate(secret.Length)
		if err != nil {
			return "", fmt.Errorf("generating token: %w", err)
		}
		t.TokenHash = secret.Hash(plain)
		err = s.store.CreateToken(ctx, t)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("storing token: %w", err)
		}
		return plain, nil
	}
	return "", errors.New("could not store a unique token")
}

// Authenticate resolves a plaintext bearer token to its principal and
// records the use. A failure to record the use does not fail the call.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (*Principal, error) {
	p, err := s.authenticate(ctx, plaintext)
	var ae *domain.AuthError
	switch {
	case err == nil:
		metrics.TokenAuthTotal.WithLabelValues("success").Inc()
	case errors.As(err, &ae):
		metrics.TokenAuthTotal.WithLabelValues(string(ae.Kind)).Inc()
	default:
		metrics.TokenAuthTotal.WithLabelValues("error").Inc()
	}
	return p, err
}

func (s *Service) authenticate(ctx context.Context, plaintext string) (*Principal, error) {
	if plaintext == "" {
		return nil, domain.ErrInvalidToken
	}
	t, err := s.store.GetTokenByHash(ctx, secret.Hash(plaintext))
	if err != nil {
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	if t == nil || !t.Active {
		return nil, domain.ErrInvalidToken
	}
	now := s.now()
	if t.Expired(now) {
		return nil, domain.ErrTokenExpired
	}

	app, err := s.store.GetApplicationByID(ctx, t.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("loading application: %w", err)
	}
	if app == nil {
		return nil, domain.ErrInvalidToken
	}
	if !app.Active {
		return nil, domain.ErrApplicationDisabled
	}

	user, err := s.store.GetUserByID(ctx, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	if err := s.store.TouchToken(ctx, t.ID, now); err != nil {
		log.Warn().Err(err).Int64("token_id", t.ID).Msg("failed to record token use")
	} else {
		t.LastUsedAt = &now
	}
	return &Principal{Token: t, Application: app, User: user}, nil
}

// Can reports whether t grants ability.
func (s *Service) Can(t *domain.Token, ability string) bool {
	return t != nil && t.Can(ability)
}

// Revoke deactivates t in the store. The store is written even when t
// already reads as inactive, since t may be a stale copy.
func (s *Service) Revoke(ctx context.Context, t *domain.Token) error {
	now := s.now()
	if err := s.store.RevokeToken(ctx, t.ID, now); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if t.Active {
		metrics.TokensRevokedTotal.Inc()
	}
	t.Active = false
	t.UpdatedAt = now
	log.Info().Int64("token_id", t.ID).Msg("token revoked")
	return nil
}

// RevokePlaintext revokes the token with the given plaintext. Unknown
// tokens are treated as already revoked.
func (s *Service) RevokePlaintext(ctx context.Context, plaintext string) error {
	if plaintext == "" {
		return nil
	}
	t, err := s.store.GetTokenByHash(ctx, secret.Hash(plaintext))
	if err != nil {
		return fmt.Errorf("looking up token: %w", err)
	}
	if t == nil {
		return nil
	}
	return s.Revoke(ctx, t)
}

// RevokeAllForUser deactivates every active token of userID and returns how many were revoked.
func (s *Service) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	n, err := s.store.RevokeTokens(ctx, store.TokenFilter{UserID: userID}, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoking tokens: %w", err)
	}
	metrics.TokensRevokedTotal.Add(float64(n))
	log.Info().Int64("user_id", userID).Int64("count", n).Msg("tokens revoked")
	return n, nil
}

// Get returns the token with id or domain.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Token, error) {
	t, err := s.store.GetTokenByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	if t == nil {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

// ListForApplication returns the application's tokens, newest first.
func (s *Service) ListForApplication(ctx context.Context, applicationID int64, page store.Page) ([]*domain.Token, int, error) {
	return s.list(ctx, store.TokenFilter{ApplicationID: applicationID}, page)
}

// ListForUser returns the user's tokens, newest first, optionally only active ones.
func (s *Service) ListForUser(ctx context.Context, userID int64, activeOnly bool, page store.Page) ([]*domain.Token, int, error) {
	f := store.TokenFilter{UserID: userID}
	if activeOnly {
		f.Active = store.Bool(true)
	}
	return s.list(ctx, f, page)
}

func (s *Service) list(ctx context.Context, f store.TokenFilter, page store.Page) ([]*domain.Token, int, error) {
	out, total, err := s.store.ListTokens(ctx, f, page)
	if err != nil {
		return nil, 0, fmt.Errorf("listing tokens: %w", err)
	}
	return out, total, nil
}
