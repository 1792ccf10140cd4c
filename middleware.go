package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/metrics"
	"github.com/example/appauth/internal/tokens"
)

type ctxKey int

const (
	principalKey ctxKey = iota
	sessionUserKey
	sessionKey
)

func withPrincipal(ctx context.Context, p *tokens.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// principalFromContext returns the bearer principal set by RequireBearer.
func principalFromContext(ctx context.Context) *tokens.Principal {
	p, _ := ctx.Value(principalKey).(*tokens.Principal)
	return p
}

func withSession(ctx context.Context, s *domain.Session, u *domain.User) context.Context {
	ctx = context.WithValue(ctx, sessionKey, s)
	return context.WithValue(ctx, sessionUserKey, u)
}

// currentSession returns the session set by RequireSession.
func currentSession(ctx context.Context) *domain.Session {
	s, _ := ctx.Value(sessionKey).(*domain.Session)
	return s
}

// sessionUser returns the owner set by RequireSession.
func sessionUser(ctx context.Context) *domain.User {
	u, _ := ctx.Value(sessionUserKey).(*domain.User)
	return u
}

// bearerToken extracts the credential from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequireBearer authenticates third-party requests by bearer token, attaches
// the principal to the request context and enforces the application's
// hourly rate limit.
func (a *App) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Access token required")
			return
		}

		p, err := a.Tokens.Authenticate(r.Context(), raw)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		limiter := a.rateLimiter.getLimiter(p.Application.ID, p.Application.RateLimit)
		if !limiter.Allow() {
			metrics.RateLimitedTotal.Inc()
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// RequireAbility admits principals whose token grants any of abilities.
func (a *App) RequireAbility(abilities ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principalFromContext(r.Context())
			for _, ability := range abilities {
				if p.Can(ability) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_scope", "The access token does not grant the required scope")
		})
	}
}

// RequireSession authenticates application owners by session token. The
// token must name a stored session that is neither revoked nor expired.
func (a *App) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthenticated")
			return
		}
		s, u, err := a.resolveSession(r.Context(), raw)
		if isSessionFailure(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthenticated")
			return
		}
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), s, u)))
	})
}

// CORS middleware handles CORS headers
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := a.Config.CORSAllowedOrigins

		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(allowedOrigins) == 0
			for _, o := range allowedOrigins {
				if o == origin || o == "*" {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimiter holds one token bucket per application.
type RateLimiter struct {
	limiters map[int64]*limiterEntry
	mu       sync.RWMutex
}

type limiterEntry struct {
	perHour int
	limiter *rate.Limiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[int64]*limiterEntry),
	}
}

// getLimiter returns the bucket for appID, replacing it when the
// application's hourly limit has changed.
func (rl *RateLimiter) getLimiter(appID int64, limitPerHour int) *rate.Limiter {
	if limitPerHour <= 0 {
		limitPerHour = 1
	}
	rl.mu.RLock()
	e, exists := rl.limiters[appID]
	rl.mu.RUnlock()
	if exists && e.perHour == limitPerHour {
		return e.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	// Double-check after acquiring write lock
	e, exists = rl.limiters[appID]
	if !exists || e.perHour != limitPerHour {
		e = &limiterEntry{
			perHour: limitPerHour,
			limiter: rate.NewLimiter(rate.Limit(float64(limitPerHour)/3600), limitPerHour),
		}
		rl.limiters[appID] = e
	}
	return e.limiter
}

// Logging middleware logs requests
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
