package main

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/example/appauth/internal/domain"
)

// APIError is the error body of every endpoint, shaped after RFC 6749 §5.2.
type APIError struct {
	Code    string              `json:"error"`
	Message string              `json:"error_description"`
	Fields  map[string][]string `json:"errors,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{
		Code:    code,
		Message: message,
	})
}

func writeValidation(w http.ResponseWriter, status int, v *domain.ValidationError) {
	writeJSON(w, status, APIError{
		Code:    "invalid_request",
		Message: "Validation failed",
		Fields:  v.Fields,
	})
}

var authErrorStatus = map[domain.AuthKind]struct {
	status  int
	message string
}{
	domain.InvalidClient:       {http.StatusUnauthorized, "Client authentication failed"},
	domain.InvalidToken:        {http.StatusUnauthorized, "The access token provided is invalid"},
	domain.TokenExpired:        {http.StatusUnauthorized, "The access token has expired"},
	domain.ApplicationDisabled: {http.StatusForbidden, "The application is currently disabled"},
}

// writeDomainError maps service errors onto HTTP responses. Anything
// unrecognised is logged and reported as server_error without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *domain.AuthError
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ae):
		m := authErrorStatus[ae.Kind]
		writeError(w, m.status, string(ae.Kind), m.message)
	case errors.As(err, &ve):
		writeValidation(w, http.StatusUnprocessableEntity, ve)
	case errors.Is(err, domain.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, "invalid_scope", "The requested scope is invalid")
	case errors.Is(err, domain.ErrNotFound):
		// hides whether the resource exists for another owner
		writeError(w, http.StatusForbidden, "forbidden", "This action is unauthorized")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "Resource already exists")
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
	}
}

func writeMessage(w http.ResponseWriter, status int, message string, extra map[string]interface{}) {
	body := map[string]interface{}{"message": message}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}
