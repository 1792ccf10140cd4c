// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appauth_tokens_issued_total",
		Help: "Total number of bearer tokens issued, by origin.",
	}, []string{"origin"})
	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appauth_tokens_revoked_total",
		Help: "Total number of bearer tokens revoked.",
	})
	TokensPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appauth_tokens_pruned_total",
		Help: "Total number of bearer tokens deleted by pruning.",
	})
	TokenAuthTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appauth_token_authentications_total",
		Help: "Bearer token authentications, by result.",
	}, []string{"result"})
	ClientAuthTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appauth_client_authentications_total",
		Help: "Client credential checks, by result.",
	}, []string{"result"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appauth_rate_limited_requests_total",
		Help: "Requests rejected by the per-application rate limit.",
	})
	ApplicationsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appauth_applications_created_total",
		Help: "Total number of applications registered.",
	})
	SessionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appauth_owner_session_events_total",
		Help: "Owner session lifecycle events: started, refreshed, revoked, reuse_detected.",
	}, []string{"event"})
)

// Register adds every collector to reg. It should be called once at startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register metrics.")
		return
	}
	for name, c := range map[string]prometheus.Collector{
		"TokensIssuedTotal":        TokensIssuedTotal,
		"TokensRevokedTotal":       TokensRevokedTotal,
		"TokensPrunedTotal":        TokensPrunedTotal,
		"TokenAuthTotal":           TokenAuthTotal,
		"ClientAuthTotal":          ClientAuthTotal,
		"RateLimitedTotal":         RateLimitedTotal,
		"ApplicationsCreatedTotal": ApplicationsCreatedTotal,
		"SessionEventsTotal":       SessionEventsTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Debug().Msg("Prometheus metrics registered.")
}
