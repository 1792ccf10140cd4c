// Package registry manages registered applications and their client credentials.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/metrics"
	"github.com/example/appauth/internal/secret"
	"github.com/example/appauth/internal/store"
)

const (
	DefaultRateLimit = 1000
	MaxRateLimit     = 10000

	maxNameLength        = 255
	maxDescriptionLength = 1000

	// client id attempts before giving up on a collision streak
	maxClientIDAttempts = 5
)

var reservedClientIDs = []string{
	"00000000-0000-0000-0000-000000000000",
	"11111111-1111-1111-1111-111111111111",
	"system-reserved-id",
	"test-client-id",
}

// IsReservedClientID reports whether id is one of the sentinel client ids
// that are never handed out.
func IsReservedClientID(id string) bool {
	for _, r := range reservedClientIDs {
		if strings.EqualFold(id, r) {
			return true
		}
	}
	return false
}

// compared against on a client id miss so both failure paths hash and compare
var dummySecretHash = secret.Hash(secret.MustGenerate(secret.Length))

type Registry struct {
	store store.Store
	now   func() time.Time
	newID func() string
}

func New(s store.Store) *Registry {
	return &Registry{
		store: s,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// WithClock replaces the time source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

type CreateParams struct {
	Name         string
	Description  string
	Scopes       []string
	RateLimit    int
	CallbackURLs []string
}

// UpdateParams carries a partial update. Nil fields are left unchanged.
type UpdateParams struct {
	Name         *string
	Description  *string
	Scopes       []string
	RateLimit    *int
	CallbackURLs []string
	Active       *bool
}

func validateName(v *domain.ValidationError, name string) {
	switch {
	case strings.TrimSpace(name) == "":
		v.Add("name", "The application name is required.")
	case len(name) > maxNameLength:
		v.Add("name", "The name may not be greater than %d characters.", maxNameLength)
	}
}

func validateDescription(v *domain.ValidationError, desc string) {
	if len(desc) > maxDescriptionLength {
		v.Add("description", "The description may not be greater than %d characters.", maxDescriptionLength)
	}
}

func validateScopes(v *domain.ValidationError, scopes []string) {
	for _, s := range scopes {
		if !domain.KnownScope(s) {
			v.Add("allowed_scopes", "Invalid scope %q.", s)
		}
	}
}

func validateRateLimit(v *domain.ValidationError, n int) {
	if n < 1 {
		v.Add("rate_limit", "Rate limit must be at least 1 request per hour.")
	} else if n > MaxRateLimit {
		v.Add("rate_limit", "Rate limit cannot exceed 10,000 requests per hour.")
	}
}

func validateCallbacks(v *domain.ValidationError, urls []string) {
	for i, u := range urls {
		if err := ValidateCallbackURL(u); err != nil {
			v.Add(fmt.Sprintf("callback_urls.%d", i), "The callback URL %s.", err)
		}
	}
}

func normalizeScopes(scopes []string) []string {
	scopes = domain.Normalize(scopes)
	if len(scopes) == 0 {
		return []string{domain.DefaultScope}
	}
	return scopes
}

// Create registers an application for owner and returns it with the
// plaintext client secret. The secret is not recoverable afterwards.
func (r *Registry) Create(ctx context.Context, owner *domain.User, p CreateParams) (*domain.Application, string, error) {
	scopes := normalizeScopes(p.Scopes)
	rateLimit := p.RateLimit
	if rateLimit == 0 {
		rateLimit = DefaultRateLimit
	}
	callbacks := domain.Normalize(p.CallbackURLs)

	var v domain.ValidationError
	validateName(&v, p.Name)
	validateDescription(&v, p.Description)
	validateScopes(&v, scopes)
	validateRateLimit(&v, rateLimit)
	validateCallbacks(&v, callbacks)
	if err := v.Err(); err != nil {
		return nil, "", err
	}

	plain, err := secret.Generate(secret.Length)
	if err != nil {
		return nil, "", fmt.Errorf("generating client secret: %w", err)
	}

	now := r.now()
	app := &domain.Application{
		UserID:           owner.ID,
		Name:             strings.TrimSpace(p.Name),
		Description:      p.Description,
		ClientSecretHash: secret.Hash(plain),
		CallbackURLs:     callbacks,
		AllowedScopes:    scopes,
		RateLimit:        rateLimit,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for attempt := 0; attempt < maxClientIDAttempts; attempt++ {
		id := r.newID()
		if IsReservedClientID(id) {
			continue
		}
		existing, err := r.store.GetApplicationByClientID(ctx, id)
		if err != nil {
			return nil, "", fmt.Errorf("checking client id: %w", err)
		}
		if existing != nil {
			continue
		}
		app.ClientID = id
		err = r.store.CreateApplication(ctx, app)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("creating application: %w", err)
		}
		metrics.ApplicationsCreatedTotal.Inc()
		log.Info().Int64("application_id", app.ID).Str("client_id", app.ClientID).Int64("user_id", owner.ID).Msg("application registered")
		return app, plain, nil
	}
	return nil, "", errors.New("could not allocate a unique client id")
}

// AuthenticateClient verifies client credentials. An unknown client, a
// disabled application and a wrong secret are indistinguishable to callers.
func (r *Registry) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Application, error) {
	app, err := r.store.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("looking up client: %w", err)
	}
	if app == nil {
		secret.Matches(clientSecret, dummySecretHash)
		metrics.ClientAuthTotal.WithLabelValues("unknown_client").Inc()
		return nil, domain.ErrInvalidClient
	}
	if !secret.Matches(clientSecret, app.ClientSecretHash) {
		metrics.ClientAuthTotal.WithLabelValues("bad_secret").Inc()
		return nil, domain.ErrInvalidClient
	}
	if !app.Active {
		metrics.ClientAuthTotal.WithLabelValues("inactive").Inc()
		return nil, domain.ErrInvalidClient
	}
	metrics.ClientAuthTotal.WithLabelValues("success").Inc()
	return app, nil
}

// RegenerateSecret replaces the client secret in a single update; the old
// secret stops working immediately.
func (r *Registry) RegenerateSecret(ctx context.Context, app *domain.Application) (string, error) {
	plain, err := secret.Generate(secret.Length)
	if err != nil {
		return "", fmt.Errorf("generating client secret: %w", err)
	}
	now := r.now()
	hash := secret.Hash(plain)
	if err := r.store.UpdateClientSecret(ctx, app.ID, hash, now); err != nil {
		return "", fmt.Errorf("storing client secret: %w", err)
	}
	app.ClientSecretHash = hash
	app.UpdatedAt = now
	log.Info().Int64("application_id", app.ID).Msg("client secret regenerated")
	return plain, nil
}

// Get returns the application with id or domain.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id int64) (*domain.Application, error) {
	app, err := r.store.GetApplicationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading application: %w", err)
	}
	if app == nil {
		return nil, domain.ErrNotFound
	}
	return app, nil
}

// GetOwned is Get restricted to applications owned by ownerID.
func (r *Registry) GetOwned(ctx context.Context, id, ownerID int64) (*domain.Application, error) {
	app, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.UserID != ownerID {
		return nil, domain.ErrNotFound
	}
	return app, nil
}

func (r *Registry) List(ctx context.Context, ownerID int64, page store.Page) ([]*domain.Application, int, error) {
	apps, total, err := r.store.ListApplications(ctx, ownerID, page)
	if err != nil {
		return nil, 0, fmt.Errorf("listing applications: %w", err)
	}
	return apps, total, nil
}

// Update applies p to app and persists it. app is modified in place.
func (r *Registry) Update(ctx context.Context, app *domain.Application, p UpdateParams) error {
	next := *app
	var v domain.ValidationError
	if p.Name != nil {
		validateName(&v, *p.Name)
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		validateDescription(&v, *p.Description)
		next.Description = *p.Description
	}
	if p.Scopes != nil {
		next.AllowedScopes = normalizeScopes(p.Scopes)
		validateScopes(&v, next.AllowedScopes)
	}
	if p.RateLimit != nil {
		validateRateLimit(&v, *p.RateLimit)
		next.RateLimit = *p.RateLimit
	}
	if p.CallbackURLs != nil {
		next.CallbackURLs = domain.Normalize(p.CallbackURLs)
		validateCallbacks(&v, next.CallbackURLs)
	}
	if p.Active != nil {
		next.Active = *p.Active
	}
	if err := v.Err(); err != nil {
		return err
	}

	next.UpdatedAt = r.now()
	if err := r.store.UpdateApplication(ctx, &next); err != nil {
		return fmt.Errorf("updating application: %w", err)
	}
	*app = next
	return nil
}

// ToggleActive flips the application's active flag and returns the new value.
func (r *Registry) ToggleActive(ctx context.Context, app *domain.Application) (bool, error) {
	now := r.now()
	if err := r.store.SetApplicationActive(ctx, app.ID, !app.Active, now); err != nil {
		return app.Active, fmt.Errorf("toggling application: %w", err)
	}
	app.Active = !app.Active
	app.UpdatedAt = now
	log.Info().Int64("application_id", app.ID).Bool("active", app.Active).Msg("application status changed")
	return app.Active, nil
}

// Delete removes the application together with all of its tokens.
func (r *Registry) Delete(ctx context.Context, app *domain.Application) error {
	if err := r.store.DeleteApplication(ctx, app.ID); err != nil {
		return fmt.Errorf("deleting application: %w", err)
	}
	log.Info().Int64("application_id", app.ID).Msg("application deleted")
	return nil
}
