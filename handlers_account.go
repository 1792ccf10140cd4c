package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/metrics"
)

const deleteAccountConfirmation = "DELETE_MY_ACCOUNT"

// HandleRefreshSession rotates the presented session: the old session is
// revoked and a new one issued. Presenting an already revoked session is
// treated as replay and revokes every session of its owner.
// POST /api/auth/token/refresh
func (a *App) HandleRefreshSession(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthenticated")
		return
	}
	s, u, err := a.resolveSession(r.Context(), raw)
	switch {
	case errors.Is(err, errSessionRevoked):
		n, rerr := a.Store.RevokeUserSessions(r.Context(), u.ID, a.now())
		if rerr != nil {
			writeDomainError(w, r, rerr)
			return
		}
		metrics.SessionEventsTotal.WithLabelValues("reuse_detected").Inc()
		log.Warn().Int64("user_id", u.ID).Str("session_id", s.ID).Int64("revoked", n).Msg("revoked session presented for refresh, all sessions revoked")
		writeError(w, http.StatusUnauthorized, "token_reuse_detected", "Session reuse detected; all sessions have been revoked")
		return
	case errors.Is(err, errSessionExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", "The session has expired")
		return
	case isSessionFailure(err):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthenticated")
		return
	case err != nil:
		writeDomainError(w, r, err)
		return
	}

	if err := a.Store.RevokeSession(r.Context(), s.ID, a.now()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	token, next, err := a.startSession(r, u.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	metrics.SessionEventsTotal.WithLabelValues("refreshed").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Token refreshed successfully",
		"token":      token,
		"token_type": "Bearer",
		"expires_at": next.ExpiresAt.Unix(),
	})
}

// HandleValidateSession reports whether the presented session token is usable.
// POST /api/auth/token/validate
func (a *App) HandleValidateSession(w http.ResponseWriter, r *http.Request) {
	invalid := map[string]interface{}{"valid": false, "message": "Invalid token"}
	raw := bearerToken(r)
	if raw == "" {
		writeJSON(w, http.StatusUnauthorized, invalid)
		return
	}
	_, u, err := a.resolveSession(r.Context(), raw)
	if isSessionFailure(err) {
		writeJSON(w, http.StatusUnauthorized, invalid)
		return
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	counts, err := a.userCounts(r, u.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"user":  counts.with(u),
	})
}

// HandleLogout revokes the current session.
// POST /api/auth/logout
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r.Context())
	if err := a.Store.RevokeSession(r.Context(), s.ID, a.now()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	metrics.SessionEventsTotal.WithLabelValues("revoked").Inc()
	writeMessage(w, http.StatusOK, "Logged out successfully", nil)
}

type profileRequest struct {
	Name                 *string `json:"name"`
	Email                *string `json:"email"`
	Password             *string `json:"password"`
	PasswordConfirmation string  `json:"password_confirmation"`
}

func (req profileRequest) validate() error {
	var v domain.ValidationError
	if req.Name != nil {
		validateName(&v, *req.Name)
	}
	if req.Email != nil {
		validateEmail(&v, *req.Email)
	}
	if req.Password != nil {
		validatePassword(&v, *req.Password, req.PasswordConfirmation)
	}
	return v.Err()
}

// HandleUpdateProfile changes the owner's name, email or password. Absent
// fields are left unchanged.
// PUT /api/auth/profile
func (a *App) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	u := sessionUser(r.Context())
	if req.Name != nil {
		u.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.Password != nil {
		hashed, err := hashPassword(*req.Password)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		u.Password = hashed
	}
	if err := a.Store.UpdateUser(r.Context(), u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			writeValidation(w, http.StatusUnprocessableEntity, emailTaken())
			return
		}
		writeDomainError(w, r, err)
		return
	}

	counts, err := a.userCounts(r, u.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Profile updated successfully", map[string]interface{}{
		"user": counts.with(u),
	})
}

// HandleDeleteAccount deletes the owner after re-checking the password.
// Tokens and sessions are revoked first, then the user is removed together
// with its applications.
// DELETE /api/auth/account
func (a *App) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password     string `json:"password"`
		Confirmation string `json:"confirmation"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	var v domain.ValidationError
	if req.Password == "" {
		v.Add("password", "The password field is required.")
	}
	if req.Confirmation != deleteAccountConfirmation {
		v.Add("confirmation", "The confirmation must be %s.", deleteAccountConfirmation)
	}
	if !v.Empty() {
		writeValidation(w, http.StatusUnprocessableEntity, &v)
		return
	}

	u := sessionUser(r.Context())
	if !comparePassword(u.Password, req.Password) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid password")
		return
	}

	ctx := r.Context()
	revoked, err := a.Tokens.RevokeAllForUser(ctx, u.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if _, err := a.Store.RevokeUserSessions(ctx, u.ID, a.now()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.Store.DeleteUser(ctx, u.ID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	log.Info().Int64("user_id", u.ID).Int64("tokens_revoked", revoked).Msg("account deleted")
	writeMessage(w, http.StatusOK, "Account deleted successfully", map[string]interface{}{
		"deleted_user": map[string]interface{}{
			"id":         u.ID,
			"name":       u.Name,
			"deleted_at": a.now().UTC(),
		},
	})
}
