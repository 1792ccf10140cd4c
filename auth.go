package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/metrics"
)

var (
	errNoSession      = errors.New("session not found")
	errSessionRevoked = errors.New("session revoked")
	errSessionExpired = errors.New("session expired")
)

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// startSession stores a new owner session for userID, valid for the
// configured session TTL, and returns its signed token.
func (a *App) startSession(r *http.Request, userID int64) (string, *domain.Session, error) {
	now := a.now()
	s := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		ExpiresAt: now.Add(a.Config.SessionTTL),
		CreatedAt: now,
	}
	if err := a.Store.CreateSession(r.Context(), s); err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}
	token, err := a.signSession(s)
	if err != nil {
		return "", nil, err
	}
	metrics.SessionEventsTotal.WithLabelValues("started").Inc()
	return token, s, nil
}

func (a *App) signSession(s *domain.Session) (string, error) {
	claims := jwt.MapClaims{
		"userId": s.UserID,
		"sid":    s.ID,
		"iat":    s.CreatedAt.Unix(),
		"exp":    s.ExpiresAt.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

type sessionClaims struct {
	userID    int64
	sessionID string
}

// parseSessionToken verifies raw and returns the user and session it names.
func (a *App) parseSessionToken(raw string) (sessionClaims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return sessionClaims{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return sessionClaims{}, errors.New("invalid session claims")
	}
	id, ok := claims["userId"].(float64)
	if !ok || id <= 0 {
		return sessionClaims{}, errors.New("session has no user")
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return sessionClaims{}, errors.New("session has no id")
	}
	return sessionClaims{userID: int64(id), sessionID: sid}, nil
}

// resolveSession loads the stored session and owner behind a session token.
// A revoked or expired session is returned together with errSessionRevoked
// or errSessionExpired so callers can tell replay from expiry.
func (a *App) resolveSession(ctx context.Context, raw string) (*domain.Session, *domain.User, error) {
	c, err := a.parseSessionToken(raw)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, nil, errSessionExpired
	}
	if err != nil {
		return nil, nil, errNoSession
	}
	s, err := a.Store.GetSession(ctx, c.sessionID)
	if err != nil {
		return nil, nil, err
	}
	if s == nil || s.UserID != c.userID {
		return nil, nil, errNoSession
	}
	u, err := a.Store.GetUserByID(ctx, s.UserID)
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		return nil, nil, errNoSession
	}
	if s.RevokedAt != nil {
		return s, u, errSessionRevoked
	}
	if !s.Usable(a.now()) {
		return s, u, errSessionExpired
	}
	return s, u, nil
}

func isSessionFailure(err error) bool {
	return errors.Is(err, errNoSession) || errors.Is(err, errSessionRevoked) || errors.Is(err, errSessionExpired)
}
