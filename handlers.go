package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/store"
)

const minPasswordLength = 8

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// pageFromRequest reads ?page=. Unparseable values mean the first page and
// anything past store.MaxPageNumber is clamped to it.
func pageFromRequest(r *http.Request) store.Page {
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || n < 1 {
		n = 1
	}
	if n > store.MaxPageNumber {
		n = store.MaxPageNumber
	}
	return store.Page{Number: n, Size: store.DefaultPageSize}
}

func paginated(data interface{}, page store.Page, total int) map[string]interface{} {
	if page.Number < 1 {
		page.Number = 1
	}
	return map[string]interface{}{
		"data":         data,
		"current_page": page.Number,
		"last_page":    page.LastPage(total),
		"per_page":     page.Limit(),
		"total":        total,
	}
}

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

type registerRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func validateName(v *domain.ValidationError, name string) {
	switch {
	case strings.TrimSpace(name) == "":
		v.Add("name", "The name field is required.")
	case len(name) > 255:
		v.Add("name", "The name may not be greater than 255 characters.")
	}
}

func validateEmail(v *domain.ValidationError, email string) {
	if email == "" {
		v.Add("email", "The email field is required.")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email || len(email) > 255 {
		v.Add("email", "The email must be a valid email address.")
	}
}

func validatePassword(v *domain.ValidationError, password, confirmation string) {
	if len(password) < minPasswordLength {
		v.Add("password", "The password must be at least %d characters.", minPasswordLength)
	} else if password != confirmation {
		v.Add("password", "The password confirmation does not match.")
	}
}

func (req registerRequest) validate() error {
	var v domain.ValidationError
	validateName(&v, req.Name)
	validateEmail(&v, req.Email)
	validatePassword(&v, req.Password, req.PasswordConfirmation)
	return v.Err()
}

// emailTaken is the validation failure reported for a duplicate email.
func emailTaken() *domain.ValidationError {
	var v domain.ValidationError
	v.Add("email", "The email has already been taken.")
	return &v
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	user := &domain.User{Name: strings.TrimSpace(req.Name), Email: req.Email, Password: hashed, CreatedAt: a.now()}
	if err := a.Store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			writeValidation(w, http.StatusUnprocessableEntity, emailTaken())
			return
		}
		writeDomainError(w, r, err)
		return
	}

	token, sess, err := a.startSession(r, user.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":    "User registered successfully",
		"user":       user,
		"token":      token,
		"token_type": "Bearer",
		"expires_at": sess.ExpiresAt.Unix(),
	})
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		var v domain.ValidationError
		if req.Email == "" {
			v.Add("email", "The email field is required.")
		}
		if req.Password == "" {
			v.Add("password", "The password field is required.")
		}
		writeValidation(w, http.StatusUnprocessableEntity, &v)
		return
	}

	user, err := a.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if user == nil || !comparePassword(user.Password, req.Password) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid login credentials")
		return
	}

	token, sess, err := a.startSession(r, user.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	counts, err := a.userCounts(r, user.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Login successful",
		"user":       counts.with(user),
		"token":      token,
		"token_type": "Bearer",
		"expires_at": sess.ExpiresAt.Unix(),
	})
}

type ownerCounts struct {
	applications int
	activeTokens int
}

// with renders u with its counts.
func (c ownerCounts) with(u *domain.User) map[string]interface{} {
	return map[string]interface{}{
		"id":                  u.ID,
		"name":                u.Name,
		"email":               u.Email,
		"created_at":          u.CreatedAt,
		"applications_count":  c.applications,
		"active_tokens_count": c.activeTokens,
	}
}

func (a *App) userCounts(r *http.Request, userID int64) (ownerCounts, error) {
	_, apps, err := a.Store.ListApplications(r.Context(), userID, store.Page{Size: 1})
	if err != nil {
		return ownerCounts{}, err
	}
	active, err := a.Store.CountTokens(r.Context(), store.TokenFilter{UserID: userID, Active: store.Bool(true)})
	if err != nil {
		return ownerCounts{}, err
	}
	return ownerCounts{applications: apps, activeTokens: active}, nil
}

// GET /api/protected/user
func (a *App) HandleProtectedUser(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if p == nil || p.User == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "The access token provided is invalid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": map[string]interface{}{
			"id":    p.User.ID,
			"name":  p.User.Name,
			"email": p.User.Email,
		},
	})
}

// GET /api/protected/profile
func (a *App) HandleProtectedProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if p == nil || p.User == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "The access token provided is invalid")
		return
	}
	counts, err := a.userCounts(r, p.User.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile":   counts.with(p.User),
		"scope":     domain.FormatScope(p.Token.Abilities),
		"client_id": p.Application.ClientID,
	})
}
