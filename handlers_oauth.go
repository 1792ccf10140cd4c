package main

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/tokens"
)

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
	UserID       int64  `json:"user_id"`
	Token        string `json:"token"`
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// parseTokenRequest accepts a JSON body or form parameters.
func parseTokenRequest(r *http.Request) (tokenRequest, error) {
	var req tokenRequest
	if isJSON(r) {
		err := decodeJSON(r, &req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.ClientID = r.PostForm.Get("client_id")
	req.ClientSecret = r.PostForm.Get("client_secret")
	req.Scope = r.PostForm.Get("scope")
	req.Token = r.PostForm.Get("token")
	if v := r.PostForm.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, err
		}
		req.UserID = id
	}
	return req, nil
}

// presentedToken returns the bearer token, falling back to the "token"
// parameter of a JSON or form body.
func presentedToken(r *http.Request) string {
	if raw := bearerToken(r); raw != "" {
		return raw
	}
	req, _ := parseTokenRequest(r)
	return strings.TrimSpace(req.Token)
}

// HandleIssueToken implements the client credentials grant.
// POST /api/oauth/token
func (a *App) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil || req.ClientID == "" || req.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "The request is missing required parameters")
		return
	}

	app, err := a.Registry.AuthenticateClient(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	userID := req.UserID
	if userID == 0 {
		userID = app.UserID
	}
	user, err := a.Store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusBadRequest, "invalid_grant", "The user could not be found")
		return
	}

	plain, tok, err := a.Tokens.Issue(r.Context(), tokens.IssueParams{
		Application:     app,
		RequestedScopes: domain.ParseScope(req.Scope),
		User:            user,
		TTL:             a.Config.TokenTTL,
		IP:              clientIP(r),
		UserAgent:       r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	// expires_in is null for tokens that never expire.
	var expiresIn interface{}
	if tok.ExpiresAt != nil {
		expiresIn = int64(tok.ExpiresAt.Sub(tok.CreatedAt).Seconds())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": plain,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
		"scope":        domain.FormatScope(tok.Abilities),
		"created_at":   tok.CreatedAt.Unix(),
	})
}

// HandleVerifyToken reports on the token presented in the Authorization
// header or the request body.
// POST /api/oauth/verify
func (a *App) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	raw := presentedToken(r)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "No token provided")
		return
	}
	p, err := a.Tokens.Authenticate(r.Context(), raw)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var expiresAt interface{}
	if p.Token.ExpiresAt != nil {
		expiresAt = p.Token.ExpiresAt.Unix()
	}
	resp := map[string]interface{}{
		"valid":      true,
		"user_id":    p.Token.UserID,
		"client_id":  p.Application.ClientID,
		"scope":      domain.FormatScope(p.Token.Abilities),
		"expires_at": expiresAt,
	}
	if p.User != nil {
		resp["user"] = map[string]interface{}{
			"id":    p.User.ID,
			"name":  p.User.Name,
			"email": p.User.Email,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRevokeToken revokes the bearer token or the token in the body.
// Unknown tokens are reported as revoked.
// POST /api/oauth/revoke
func (a *App) HandleRevokeToken(w http.ResponseWriter, r *http.Request) {
	raw := presentedToken(r)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "No token provided")
		return
	}
	if err := a.Tokens.RevokePlaintext(r.Context(), raw); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Token revoked successfully", nil)
}
