package main

import (
	"net/http"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/registry"
)

// ownedApplication loads the {id} application of the session user, writing
// the error response itself when that fails.
func (a *App) ownedApplication(w http.ResponseWriter, r *http.Request) (*domain.Application, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Not found")
		return nil, false
	}
	app, err := a.Registry.GetOwned(r.Context(), id, sessionUser(r.Context()).ID)
	if err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	return app, true
}

// GET /api/applications
func (a *App) HandleListApplications(w http.ResponseWriter, r *http.Request) {
	page := pageFromRequest(r)
	apps, total, err := a.Registry.List(r.Context(), sessionUser(r.Context()).ID, page)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paginated(apps, page, total))
}

type applicationRequest struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Scopes       []string `json:"allowed_scopes"`
	RateLimit    *int     `json:"rate_limit"`
	CallbackURLs []string `json:"callback_urls"`
	Active       *bool    `json:"is_active"`
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// POST /api/applications
func (a *App) HandleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req applicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	app, secret, err := a.Registry.Create(r.Context(), sessionUser(r.Context()), registry.CreateParams{
		Name:         deref(req.Name),
		Description:  deref(req.Description),
		Scopes:       req.Scopes,
		RateLimit:    deref(req.RateLimit),
		CallbackURLs: req.CallbackURLs,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	// the secret is only ever shown here and on regeneration
	writeMessage(w, http.StatusCreated, "Application created successfully.", map[string]interface{}{
		"application":   app,
		"client_secret": secret,
	})
}

// GET /api/applications/{id}
func (a *App) HandleGetApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := a.ownedApplication(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"application": app})
}

// PUT /api/applications/{id}
func (a *App) HandleUpdateApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := a.ownedApplication(w, r)
	if !ok {
		return
	}
	var req applicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	err := a.Registry.Update(r.Context(), app, registry.UpdateParams{
		Name:         req.Name,
		Description:  req.Description,
		Scopes:       req.Scopes,
		RateLimit:    req.RateLimit,
		CallbackURLs: req.CallbackURLs,
		Active:       req.Active,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Application updated successfully.", map[string]interface{}{"application": app})
}

// DELETE /api/applications/{id}
func (a *App) HandleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := a.ownedApplication(w, r)
	if !ok {
		return
	}
	if err := a.Registry.Delete(r.Context(), app); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Application deleted successfully.", nil)
}

// POST /api/applications/{id}/regenerate-secret
func (a *App) HandleRegenerateSecret(w http.ResponseWriter, r *http.Request) {
	app, ok := a.ownedApplication(w, r)
	if !ok {
		return
	}
	secret, err := a.Registry.RegenerateSecret(r.Context(), app)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Client secret regenerated successfully.", map[string]interface{}{"client_secret": secret})
}

// PATCH /api/applications/{id}/toggle-status
func (a *App) HandleToggleStatus(w http.ResponseWriter, r *http.Request) {
	app, ok := a.ownedApplication(w, r)
	if !ok {
		return
	}
	active, err := a.Registry.ToggleActive(r.Context(), app)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := "deactivated"
	if active {
		status = "activated"
	}
	writeMessage(w, http.StatusOK, "Application "+status+" successfully.", map[string]interface{}{"is_active": active})
}
