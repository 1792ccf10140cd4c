package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/tokens"
)

// GET /api/applications/{id}/tokens
func (a *App) HandleListApplicationTokens(w http.ResponseWriter, r *http.Request) {
	app, ok := a.ownedApplication(w, r)
	if !ok {
		return
	}
	page := pageFromRequest(r)
	list, total, err := a.Tokens.ListForApplication(r.Context(), app.ID, page)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paginated(list, page, total))
}

// POST /api/applications/{id}/tokens
func (a *App) HandleCreateApplicationToken(w http.ResponseWriter, r *http.Request) {
	app, ok := a.ownedApplication(w, r)
	if !ok {
		return
	}
	var req struct {
		Name      string     `json:"name"`
		Abilities []string   `json:"abilities"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	plain, tok, err := a.Tokens.Create(r.Context(), tokens.CreateParams{
		Application: app,
		User:        sessionUser(r.Context()),
		Name:        req.Name,
		Abilities:   req.Abilities,
		ExpiresAt:   req.ExpiresAt,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusCreated, "API token created successfully.", map[string]interface{}{
		"token":           tok,
		"plaintext_token": plain,
		"expires_at":      tok.ExpiresAt,
	})
}

// GET /api/api-tokens
func (a *App) HandleListUserTokens(w http.ResponseWriter, r *http.Request) {
	page := pageFromRequest(r)
	activeOnly := r.URL.Query().Get("active") == "true"
	list, total, err := a.Tokens.ListForUser(r.Context(), sessionUser(r.Context()).ID, activeOnly, page)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paginated(list, page, total))
}

// ownedToken loads the {id} token when its application belongs to the session user.
func (a *App) ownedToken(w http.ResponseWriter, r *http.Request) (*domain.Token, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Not found")
		return nil, false
	}
	tok, err := a.Tokens.Get(r.Context(), id)
	if err == nil {
		_, err = a.Registry.GetOwned(r.Context(), tok.ApplicationID, sessionUser(r.Context()).ID)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	return tok, true
}

// GET /api/api-tokens/{id}
func (a *App) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	tok, ok := a.ownedToken(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": tok})
}

// DELETE /api/api-tokens/{id}
func (a *App) HandleDeleteToken(w http.ResponseWriter, r *http.Request) {
	tok, ok := a.ownedToken(w, r)
	if !ok {
		return
	}
	if err := a.Tokens.Revoke(r.Context(), tok); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "API token revoked successfully.", nil)
}

// POST /api/api-tokens/revoke-all
func (a *App) HandleRevokeAllTokens(w http.ResponseWriter, r *http.Request) {
	n, err := a.Tokens.RevokeAllForUser(r.Context(), sessionUser(r.Context()).ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("Successfully revoked %d API tokens.", n), map[string]interface{}{"revoked_count": n})
}

// GET /api/api-tokens/statistics
func (a *App) HandleTokenStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := a.Tokens.Statistics(r.Context(), tokens.Filter{UserID: sessionUser(r.Context()).ID})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
