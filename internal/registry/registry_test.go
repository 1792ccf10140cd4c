package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/secret"
	"github.com/example/appauth/internal/store"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Registry, store.Store, *domain.User) {
	t.Helper()
	s := store.NewMemoryDB()
	u := &domain.User{Name: "Ada", Email: "ada@example.com", Password: "x", CreatedAt: now}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return New(s).WithClock(func() time.Time { return now }), s, u
}

func TestCreate(t *testing.T) {
	r, s, owner := setup(t)
	ctx := context.Background()

	app, plain, err := r.Create(ctx, owner, CreateParams{
		Name:         "Billing",
		CallbackURLs: []string{"https://billing.example.com/callback"},
	})
	require.NoError(t, err)

	assert.Len(t, plain, secret.Length)
	_, err = uuid.Parse(app.ClientID)
	assert.NoError(t, err)
	assert.Equal(t, []string{"read"}, app.AllowedScopes)
	assert.Equal(t, DefaultRateLimit, app.RateLimit)
	assert.True(t, app.Active)
	assert.Equal(t, owner.ID, app.UserID)

	stored, err := s.GetApplicationByClientID(ctx, app.ClientID)
	require.NoError(t, err)
	assert.NotEqual(t, plain, stored.ClientSecretHash)
	assert.Equal(t, secret.Hash(plain), stored.ClientSecretHash)
}

func TestCreateValidation(t *testing.T) {
	r, _, owner := setup(t)

	_, _, err := r.Create(context.Background(), owner, CreateParams{
		Name:         "",
		Scopes:       []string{"read", "superuser"},
		RateLimit:    MaxRateLimit + 1,
		CallbackURLs: []string{"https://ok.example.com", "ftp://files.example.com"},
	})
	var v *domain.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Contains(t, v.Fields, "name")
	assert.Contains(t, v.Fields, "allowed_scopes")
	assert.Contains(t, v.Fields, "rate_limit")
	assert.Contains(t, v.Fields, "callback_urls.1")
	assert.NotContains(t, v.Fields, "callback_urls.0")
}

func TestCreateRerollsReservedAndTakenIDs(t *testing.T) {
	r, s, owner := setup(t)
	ctx := context.Background()

	taken := "6f1c5d3e-8b2a-4a61-9a8e-2c3f4d5e6a7b"
	require.NoError(t, s.CreateApplication(ctx, &domain.Application{UserID: owner.ID, Name: "Existing", ClientID: taken, Active: true}))

	ids := []string{"00000000-0000-0000-0000-000000000000", "TEST-CLIENT-ID", taken, "1d2c3b4a-5e6f-4a7b-8c9d-0e1f2a3b4c5d"}
	r.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	app, _, err := r.Create(ctx, owner, CreateParams{Name: "Fresh"})
	require.NoError(t, err)
	assert.Equal(t, "1d2c3b4a-5e6f-4a7b-8c9d-0e1f2a3b4c5d", app.ClientID)
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	r, _, owner := setup(t)
	r.newID = func() string { return "system-reserved-id" }

	_, _, err := r.Create(context.Background(), owner, CreateParams{Name: "Unlucky"})
	assert.Error(t, err)
}

func TestAuthenticateClient(t *testing.T) {
	r, _, owner := setup(t)
	ctx := context.Background()
	app, plain, err := r.Create(ctx, owner, CreateParams{Name: "CLI"})
	require.NoError(t, err)

	got, err := r.AuthenticateClient(ctx, app.ClientID, plain)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)

	_, wrongSecret := r.AuthenticateClient(ctx, app.ClientID, "wrong")
	_, unknown := r.AuthenticateClient(ctx, uuid.NewString(), plain)
	assert.ErrorIs(t, wrongSecret, domain.ErrInvalidClient)
	assert.ErrorIs(t, unknown, domain.ErrInvalidClient)
	assert.Equal(t, wrongSecret.Error(), unknown.Error())

	_, err = r.ToggleActive(ctx, app)
	require.NoError(t, err)
	_, err = r.AuthenticateClient(ctx, app.ClientID, plain)
	assert.ErrorIs(t, err, domain.ErrInvalidClient)
}

func TestRegenerateSecret(t *testing.T) {
	r, _, owner := setup(t)
	ctx := context.Background()
	app, oldSecret, err := r.Create(ctx, owner, CreateParams{Name: "Rotating"})
	require.NoError(t, err)

	newSecret, err := r.RegenerateSecret(ctx, app)
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, newSecret)

	_, err = r.AuthenticateClient(ctx, app.ClientID, oldSecret)
	assert.ErrorIs(t, err, domain.ErrInvalidClient)
	_, err = r.AuthenticateClient(ctx, app.ClientID, newSecret)
	assert.NoError(t, err)
}

func TestGetOwnedUpdateDelete(t *testing.T) {
	r, s, owner := setup(t)
	ctx := context.Background()
	app, _, err := r.Create(ctx, owner, CreateParams{Name: "Owned", Scopes: []string{"read", "write"}})
	require.NoError(t, err)

	_, err = r.GetOwned(ctx, app.ID, owner.ID+1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.Get(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	name := "Renamed"
	limit := 50
	require.NoError(t, r.Update(ctx, app, UpdateParams{Name: &name, RateLimit: &limit, Scopes: []string{"admin"}}))
	assert.Equal(t, "Renamed", app.Name)

	reloaded, err := r.GetOwned(ctx, app.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Name)
	assert.Equal(t, 50, reloaded.RateLimit)
	assert.Equal(t, []string{"admin"}, reloaded.AllowedScopes)

	bad := 0
	err = r.Update(ctx, app, UpdateParams{RateLimit: &bad})
	var v *domain.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, 50, app.RateLimit, "failed update leaves app untouched")

	apps, total, err := r.List(ctx, owner.ID, store.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, apps, 1)

	require.NoError(t, s.CreateToken(ctx, &domain.Token{Name: "t", TokenHash: "h", ApplicationID: app.ID, UserID: owner.ID, Active: true}))
	require.NoError(t, r.Delete(ctx, app))
	n, err := s.CountTokens(ctx, store.TokenFilter{ApplicationID: app.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateCallbackURL(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://example.com/callback", true},
		{"http://app.example.org:8443/oauth/cb?x=1", true},
		{"https://93.184.216.34/cb", true},
		{"ftp://example.com/cb", false},
		{"not a url", false},
		{"/relative/path", false},
		{"http://localhost/cb", false},
		{"http://LOCALHOST:3000/cb", false},
		{"http://127.0.0.1/cb", false},
		{"http://0.0.0.0/cb", false},
		{"http://[::1]/cb", false},
		{"http://10.1.2.3/cb", false},
		{"http://192.168.0.10/cb", false},
		{"http://172.16.5.4/cb", false},
		{"http://169.254.169.254/latest", false},
		{"http://240.0.0.1/cb", false},
		{"http://[fd00::1]/cb", false},
		{"https://example.com/cb#frag", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateCallbackURL(tt.url)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsReservedClientID(t *testing.T) {
	assert.True(t, IsReservedClientID("Test-Client-Id"))
	assert.True(t, IsReservedClientID("11111111-1111-1111-1111-111111111111"))
	assert.False(t, IsReservedClientID(uuid.NewString()))
}
