package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/example/appauth/internal/config"
	"github.com/example/appauth/internal/store"
)

type testServer struct {
	t   *testing.T
	app *App
	h   http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	c := &cfg.Config{
		JwtSecret:  "test-secret",
		SessionTTL: time.Hour,
		TokenTTL:   30 * 24 * time.Hour,
	}
	app := NewApp(c, store.NewMemoryDB())
	return &testServer{t: t, app: app, h: app.Router()}
}

func (s *testServer) do(method, path, bearer string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	s.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

// register creates an owner and returns its session token.
func (s *testServer) register(email string) string {
	s.t.Helper()
	rec, out := s.do("POST", "/api/auth/register", "", map[string]string{
		"name":                  "Owner " + email,
		"email":                 email,
		"password":              "correct horse",
		"password_confirmation": "correct horse",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["token"].(string)
}

type client struct {
	id     int64
	key    string
	secret string
}

func (s *testServer) createApp(session string, body map[string]interface{}) client {
	s.t.Helper()
	rec, out := s.do("POST", "/api/applications", session, body)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	app := out["application"].(map[string]interface{})
	return client{
		id:     int64(app["id"].(float64)),
		key:    app["client_id"].(string),
		secret: out["client_secret"].(string),
	}
}

func (s *testServer) issue(c client, scope string) (*httptest.ResponseRecorder, map[string]interface{}) {
	s.t.Helper()
	return s.do("POST", "/api/oauth/token", "", map[string]interface{}{
		"client_id":     c.key,
		"client_secret": c.secret,
		"scope":         scope,
	})
}

func (s *testServer) accessToken(c client, scope string) string {
	s.t.Helper()
	rec, out := s.issue(c, scope)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return out["access_token"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, out := s.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, out = s.do("GET", "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ready"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com")

	rec, out := s.do("POST", "/api/auth/register", "", map[string]string{
		"name":                  "Ada again",
		"email":                 "ada@example.com",
		"password":              "correct horse",
		"password_confirmation": "correct horse",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, out["errors"], "email")

	rec, out = s.do("POST", "/api/auth/register", "", map[string]string{
		"name":                  "",
		"email":                 "not-an-email",
		"password":              "short",
		"password_confirmation": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fields := out["errors"].(map[string]interface{})
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")

	rec, out = s.do("POST", "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, out["token"])
	user := out["user"].(map[string]interface{})
	assert.Equal(t, float64(0), user["applications_count"])

	rec, out = s.do("POST", "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid login credentials", out["error_description"])
}

func TestSessionRequired(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do("GET", "/api/applications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do("GET", "/api/applications", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClientCredentialsFlow(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{
		"name":           "Reporting",
		"allowed_scopes": []string{"read", "write"},
	})

	rec, out := s.issue(c, "read")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Bearer", out["token_type"])
	assert.Equal(t, "read", out["scope"])
	assert.Equal(t, float64(30*24*3600), out["expires_in"])
	token := out["access_token"].(string)

	rec, out = s.do("POST", "/api/oauth/verify", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, c.key, out["client_id"])
	assert.Equal(t, "ada@example.com", out["user"].(map[string]interface{})["email"])

	rec, out = s.do("GET", "/api/protected/user", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", out["user"].(map[string]interface{})["email"])

	rec, out = s.do("GET", "/api/protected/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, c.key, out["client_id"])
	assert.Equal(t, float64(1), out["profile"].(map[string]interface{})["applications_count"])

	rec, out = s.do("POST", "/api/oauth/revoke", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Token revoked successfully", out["message"])

	rec, out = s.do("GET", "/api/protected/user", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", out["error"])

	// unknown tokens revoke without error
	rec, _ = s.do("POST", "/api/oauth/revoke", "", map[string]string{"token": "no-such-token"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIssueTokenFormEncoded(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Forms", "allowed_scopes": []string{"read", "write"}})

	form := url.Values{
		"client_id":     {c.key},
		"client_secret": {c.secret},
		"scope":         {"write read admin"},
	}
	req := httptest.NewRequest("POST", "/api/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.ElementsMatch(t, []string{"read", "write"}, strings.Fields(out["scope"].(string)))
}

func TestIssueTokenErrors(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Reporting", "allowed_scopes": []string{"read"}})

	rec, out := s.do("POST", "/api/oauth/token", "", map[string]string{"client_id": c.key})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", out["error"])

	rec, out = s.issue(client{key: c.key, secret: "wrong"}, "read")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", out["error"])

	rec, out = s.issue(client{key: "00000000-0000-4000-8000-000000000000", secret: c.secret}, "read")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", out["error"])

	rec, out = s.issue(c, "admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_scope", out["error"])

	rec, out = s.do("POST", "/api/oauth/token", "", map[string]interface{}{
		"client_id": c.key, "client_secret": c.secret, "user_id": 999,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", out["error"])

	rec, out = s.do("POST", "/api/oauth/verify", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", out["error"])
}

func TestDisabledApplication(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Reporting"})
	token := s.accessToken(c, "")

	rec, out := s.do("PATCH", fmt.Sprintf("/api/applications/%d/toggle-status", c.id), session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["is_active"])
	assert.Equal(t, "Application deactivated successfully.", out["message"])

	rec, out = s.do("POST", "/api/oauth/verify", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application_disabled", out["error"])

	rec, out = s.issue(c, "read")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", out["error"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Tiny", "rate_limit": 1})
	token := s.accessToken(c, "read")

	rec, _ := s.do("GET", "/api/protected/user", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, out := s.do("GET", "/api/protected/user", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_exceeded", out["error"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestInsufficientScope(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Writer", "allowed_scopes": []string{"write"}})
	token := s.accessToken(c, "write")

	rec, _ := s.do("GET", "/api/protected/user", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, out := s.do("GET", "/api/protected/profile", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "insufficient_scope", out["error"])

	rec, out = s.do("GET", "/api/protected/user", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Access token required", out["error_description"])
}

func TestApplicationManagement(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{
		"name":          "Reporting",
		"description":   "Nightly reports",
		"callback_urls": []string{"https://reports.example.com/callback"},
	})
	path := fmt.Sprintf("/api/applications/%d", c.id)

	rec, out := s.do("GET", "/api/applications", session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["total"])
	assert.Len(t, out["data"], 1)

	rec, out = s.do("GET", path, session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Nightly reports", out["application"].(map[string]interface{})["description"])
	assert.NotContains(t, out["application"], "client_secret")

	rec, out = s.do("PUT", path, session, map[string]interface{}{"name": "Reports", "rate_limit": 50})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	app := out["application"].(map[string]interface{})
	assert.Equal(t, "Reports", app["name"])
	assert.Equal(t, float64(50), app["rate_limit"])
	assert.Equal(t, "Nightly reports", app["description"])

	rec, out = s.do("PUT", path, session, map[string]interface{}{"callback_urls": []string{"http://localhost/cb"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, out["errors"], "callback_urls.0")

	rec, out = s.do("POST", path+"/regenerate-secret", session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := out["client_secret"].(string)
	assert.NotEqual(t, c.secret, fresh)

	rec, _ = s.issue(c, "read")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	c.secret = fresh
	s.accessToken(c, "read")

	rec, _ = s.do("DELETE", path, session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do("GET", path, session, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApplicationOwnership(t *testing.T) {
	s := newTestServer(t)
	ada := s.register("ada@example.com")
	bob := s.register("bob@example.com")
	c := s.createApp(ada, map[string]interface{}{"name": "Private"})
	path := fmt.Sprintf("/api/applications/%d", c.id)

	rec, out := s.do("GET", path, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", out["error"])

	rec, _ = s.do("DELETE", path, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do("GET", path+"/tokens", bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out = s.do("GET", "/api/applications", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), out["total"])
}

func TestPersonalTokens(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Reporting", "allowed_scopes": []string{"read", "write"}})
	tokensPath := fmt.Sprintf("/api/applications/%d/tokens", c.id)

	rec, out := s.do("POST", tokensPath, session, map[string]interface{}{
		"name":      "ci",
		"abilities": []string{"read"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	plain := out["plaintext_token"].(string)
	id := int64(out["token"].(map[string]interface{})["id"].(float64))
	assert.Nil(t, out["expires_at"])
	assert.NotContains(t, out["token"], "token_hash")

	rec, _ = s.do("GET", "/api/protected/user", plain, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, out = s.do("POST", tokensPath, session, map[string]interface{}{
		"name":      "too much",
		"abilities": []string{"admin"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, out["errors"], "abilities")

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	rec, out = s.do("POST", tokensPath, session, map[string]interface{}{
		"name":       "stale",
		"abilities":  []string{"read"},
		"expires_at": past,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, out["errors"], "expires_at")

	s.accessToken(c, "write")

	rec, out = s.do("GET", tokensPath, session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), out["total"])

	rec, out = s.do("GET", fmt.Sprintf("/api/api-tokens/%d", id), session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ci", out["token"].(map[string]interface{})["name"])

	rec, out = s.do("GET", "/api/api-tokens/statistics", session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), out["total_tokens"])
	assert.Equal(t, float64(2), out["active_tokens"])

	rec, _ = s.do("DELETE", fmt.Sprintf("/api/api-tokens/%d", id), session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do("GET", "/api/protected/user", plain, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out = s.do("GET", "/api/api-tokens?active=true", session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["total"])

	rec, out = s.do("POST", "/api/api-tokens/revoke-all", session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["revoked_count"])

	bob := s.register("bob@example.com")
	rec, _ = s.do("GET", fmt.Sprintf("/api/api-tokens/%d", id), bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	s.app.Config.CORSAllowedOrigins = []string{"https://dashboard.example.com"}

	req := httptest.NewRequest("OPTIONS", "/api/oauth/token", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("OPTIONS", "/api/oauth/token", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec = httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPaginationBeyondRange(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Reporting"})
	s.accessToken(c, "read")

	for _, page := range []string{"2", "1844674407370955162", "99999999999999999999", "-4", "abc"} {
		rec, out := s.do("GET", "/api/applications?page="+page, session, nil)
		require.Equal(t, http.StatusOK, rec.Code, "page=%s: %s", page, rec.Body.String())
		assert.Equal(t, float64(1), out["total"])
		assert.LessOrEqual(t, out["current_page"], float64(store.MaxPageNumber))

		rec, _ = s.do("GET", fmt.Sprintf("/api/applications/%d/tokens?page=%s", c.id, page), session, nil)
		require.Equal(t, http.StatusOK, rec.Code, "page=%s", page)

		rec, _ = s.do("GET", "/api/api-tokens?page="+page, session, nil)
		require.Equal(t, http.StatusOK, rec.Code, "page=%s", page)
	}

	_, out := s.do("GET", "/api/applications?page=1844674407370955162", session, nil)
	assert.Empty(t, out["data"])
	assert.Equal(t, float64(store.MaxPageNumber), out["current_page"])
}

func TestVerifyTokenInBody(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Reporting"})
	token := s.accessToken(c, "read")

	rec, out := s.do("POST", "/api/oauth/verify", "", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, c.key, out["client_id"])

	form := url.Values{"token": {token}}
	req := httptest.NewRequest("POST", "/api/oauth/verify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	frec := httptest.NewRecorder()
	s.h.ServeHTTP(frec, req)
	assert.Equal(t, http.StatusOK, frec.Code, frec.Body.String())

	rec, out = s.do("POST", "/api/oauth/verify", "", map[string]string{"token": "no-such-token"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", out["error"])
}

func TestIssueTokenWithoutExpiry(t *testing.T) {
	s := newTestServer(t)
	s.app.Config.TokenTTL = 0
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Forever"})

	rec, out := s.issue(c, "read")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, out, "expires_in")
	assert.Nil(t, out["expires_in"])

	rec, out = s.do("POST", "/api/oauth/verify", out["access_token"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, out["expires_at"])
}

func TestSessionRefreshRotates(t *testing.T) {
	s := newTestServer(t)
	first := s.register("ada@example.com")

	rec, out := s.do("POST", "/api/auth/token/refresh", first, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Token refreshed successfully", out["message"])
	assert.Equal(t, "Bearer", out["token_type"])
	second := out["token"].(string)
	assert.NotEqual(t, first, second)

	rec, _ = s.do("GET", "/api/applications", second, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do("GET", "/api/applications", first, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// replaying the rotated-out token ends every session of the owner
	rec, out = s.do("POST", "/api/auth/token/refresh", first, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_reuse_detected", out["error"])
	rec, _ = s.do("GET", "/api/applications", second, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out = s.do("POST", "/api/auth/token/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", out["error"])
}

func TestSessionExpiry(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	s.app.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	rec, out := s.do("POST", "/api/auth/token/refresh", session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_expired", out["error"])

	rec, _ = s.do("GET", "/api/applications", session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidateAndLogout(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	s.createApp(session, map[string]interface{}{"name": "Reporting"})

	rec, out := s.do("POST", "/api/auth/token/validate", session, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["valid"])
	user := out["user"].(map[string]interface{})
	assert.Equal(t, "ada@example.com", user["email"])
	assert.Equal(t, float64(1), user["applications_count"])

	rec, out = s.do("POST", "/api/auth/logout", session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out successfully", out["message"])

	rec, out = s.do("POST", "/api/auth/token/validate", session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, out["valid"])
	rec, _ = s.do("GET", "/api/applications", session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = s.do("POST", "/api/auth/logout", session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out = s.do("POST", "/api/auth/token/validate", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, out["valid"])

	rec, _ = s.do("POST", "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "correct horse"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	s.register("bob@example.com")

	rec, out := s.do("PUT", "/api/auth/profile", session, map[string]string{"name": "Ada Lovelace"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Profile updated successfully", out["message"])
	user := out["user"].(map[string]interface{})
	assert.Equal(t, "Ada Lovelace", user["name"])
	assert.Equal(t, "ada@example.com", user["email"])

	rec, out = s.do("PUT", "/api/auth/profile", session, map[string]string{"email": "BOB@example.com"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, out["errors"], "email")

	rec, out = s.do("PUT", "/api/auth/profile", session, map[string]string{"name": "", "password": "short", "password_confirmation": "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fields := out["errors"].(map[string]interface{})
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "password")

	rec, _ = s.do("PUT", "/api/auth/profile", session, map[string]string{
		"email":                 "ada@lovelace.example",
		"password":              "analytical engine",
		"password_confirmation": "analytical engine",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = s.do("POST", "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "correct horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, out = s.do("POST", "/api/auth/login", "", map[string]string{"email": "ADA@lovelace.example", "password": "analytical engine"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada Lovelace", out["user"].(map[string]interface{})["name"])
}

func TestDeleteAccount(t *testing.T) {
	s := newTestServer(t)
	session := s.register("ada@example.com")
	c := s.createApp(session, map[string]interface{}{"name": "Reporting"})
	token := s.accessToken(c, "read")

	rec, out := s.do("DELETE", "/api/auth/account", session, map[string]string{"password": "correct horse"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, out["errors"], "confirmation")

	rec, out = s.do("DELETE", "/api/auth/account", session, map[string]string{"password": "wrong password", "confirmation": "DELETE_MY_ACCOUNT"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid password", out["error_description"])

	rec, out = s.do("DELETE", "/api/auth/account", session, map[string]string{"password": "correct horse", "confirmation": "DELETE_MY_ACCOUNT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Account deleted successfully", out["message"])
	deleted := out["deleted_user"].(map[string]interface{})
	assert.Equal(t, "Owner ada@example.com", deleted["name"])
	assert.NotEmpty(t, deleted["deleted_at"])

	rec, _ = s.do("GET", "/api/protected/user", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = s.do("GET", "/api/applications", session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, out = s.issue(c, "read")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", out["error"])
	rec, _ = s.do("POST", "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "correct horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	u, err := s.app.Store.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}
