// Package httptransport exposes the inbound message webhook, the operator API
// and the health and metrics endpoints.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vaultline/internal/platform/metrics"
	"vaultline/internal/platform/middleware"
	ratelimitmw "vaultline/internal/ratelimit/middleware"
)

// RouterConfig carries everything the router mounts. Admin routes are only
// mounted when Validator is set.
type RouterConfig struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Inbound   *InboundHandler
	Admin     *AdminHandler
	Health    *HealthHandler
	Validator middleware.OperatorValidator
	RateLimit *ratelimitmw.Middleware
	Timeout   time.Duration
}

// NewRouter wires all endpoints behind the shared middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	r.Use(chimw.Timeout(cfg.Timeout))

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	if cfg.Health != nil {
		r.Get("/health", cfg.Health.handleHealth)
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.Inbound != nil {
			r.Group(func(r chi.Router) {
				if cfg.RateLimit != nil {
					r.Use(cfg.RateLimit.RateLimit("inbound"))
				}
				r.Post("/messages/inbound", cfg.Inbound.handleInbound)
			})
		}
		if cfg.Admin != nil && cfg.Validator != nil {
			r.Route("/admin", func(r chi.Router) {
				if cfg.RateLimit != nil {
					r.Use(cfg.RateLimit.RateLimit("admin"))
				}
				r.Use(middleware.RequireRole(cfg.Validator, "operator", cfg.Logger))
				cfg.Admin.Register(r)
			})
		}
	})
	return r
}
