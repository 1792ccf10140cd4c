package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	cfg "github.com/example/appauth/internal/config"
	"github.com/example/appauth/internal/metrics"
	"github.com/example/appauth/internal/registry"
	"github.com/example/appauth/internal/store"
	"github.com/example/appauth/internal/tokens"
)

type App struct {
	Config   *cfg.Config
	Store    store.Store
	Registry *registry.Registry
	Tokens   *tokens.Service

	jwtSecret   []byte
	rateLimiter *RateLimiter
	metrics     *prometheus.Registry
	now         func() time.Time
}

func NewApp(c *cfg.Config, s store.Store) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(reg)

	return &App{
		Config:      c,
		Store:       s,
		Registry:    registry.New(s),
		Tokens:      tokens.NewService(s),
		jwtSecret:   []byte(c.JwtSecret),
		rateLimiter: NewRateLimiter(),
		metrics:     reg,
		now:         time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write json")
	}
}

// Router wires every route onto a gorilla/mux router.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.CORS)

	// preflight requests are answered by CORS
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	r.HandleFunc("/health", a.HandleHealth).Methods("GET")
	r.HandleFunc("/ready", a.HandleReady).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{EnableOpenMetrics: true})).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	oauth := api.PathPrefix("/oauth").Subrouter()
	oauth.HandleFunc("/token", a.HandleIssueToken).Methods("POST")
	oauth.HandleFunc("/verify", a.HandleVerifyToken).Methods("POST")
	oauth.HandleFunc("/revoke", a.HandleRevokeToken).Methods("POST")

	api.HandleFunc("/auth/register", a.HandleRegister).Methods("POST")
	api.HandleFunc("/auth/login", a.HandleLogin).Methods("POST")
	api.HandleFunc("/auth/token/refresh", a.HandleRefreshSession).Methods("POST")
	api.HandleFunc("/auth/token/validate", a.HandleValidateSession).Methods("POST")

	// owner session
	session := api.NewRoute().Subrouter()
	session.Use(a.RequireSession)
	session.HandleFunc("/auth/logout", a.HandleLogout).Methods("POST")
	session.HandleFunc("/auth/profile", a.HandleUpdateProfile).Methods("PUT")
	session.HandleFunc("/auth/account", a.HandleDeleteAccount).Methods("DELETE")
	session.HandleFunc("/applications", a.HandleListApplications).Methods("GET")
	session.HandleFunc("/applications", a.HandleCreateApplication).Methods("POST")
	session.HandleFunc("/applications/{id:[0-9]+}", a.HandleGetApplication).Methods("GET")
	session.HandleFunc("/applications/{id:[0-9]+}", a.HandleUpdateApplication).Methods("PUT", "PATCH")
	session.HandleFunc("/applications/{id:[0-9]+}", a.HandleDeleteApplication).Methods("DELETE")
	session.HandleFunc("/applications/{id:[0-9]+}/regenerate-secret", a.HandleRegenerateSecret).Methods("POST")
	session.HandleFunc("/applications/{id:[0-9]+}/toggle-status", a.HandleToggleStatus).Methods("PATCH")
	session.HandleFunc("/applications/{id:[0-9]+}/tokens", a.HandleListApplicationTokens).Methods("GET")
	session.HandleFunc("/applications/{id:[0-9]+}/tokens", a.HandleCreateApplicationToken).Methods("POST")
	session.HandleFunc("/api-tokens", a.HandleListUserTokens).Methods("GET")
	session.HandleFunc("/api-tokens/revoke-all", a.HandleRevokeAllTokens).Methods("POST")
	session.HandleFunc("/api-tokens/statistics", a.HandleTokenStatistics).Methods("GET")
	session.HandleFunc("/api-tokens/{id:[0-9]+}", a.HandleGetToken).Methods("GET")
	session.HandleFunc("/api-tokens/{id:[0-9]+}", a.HandleDeleteToken).Methods("DELETE")

	// third-party bearer tokens
	protected := api.PathPrefix("/protected").Subrouter()
	protected.Use(a.RequireBearer)
	protected.HandleFunc("/user", a.HandleProtectedUser).Methods("GET")
	protected.Handle("/profile", a.RequireAbility("user:read", "read")(http.HandlerFunc(a.HandleProtectedProfile))).Methods("GET")

	return r
}

func setupLogging(c *cfg.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	setupLogging(c)

	ctx := context.Background()
	db, err := store.Open(ctx, c)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}

	app := NewApp(c, db)
	srv := &http.Server{Handler: app.Router(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("port", c.Port).Str("adapter", c.DBAdapter).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	if err := db.Close(); err != nil {
		log.Warn().Err(err).Msg("closing database")
	}
	log.Info().Msg("server exited properly")
}
