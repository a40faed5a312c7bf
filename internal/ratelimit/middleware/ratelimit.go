// Package middleware limits HTTP callers by client IP. It guards the inbound
// webhook and the operator API; the per-address conversation budget is
// enforced inside onboarding, after the address is known.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"vaultline/internal/ratelimit/models"
	dErrors "vaultline/pkg/domain-errors"
	"vaultline/pkg/platform/httputil"
	"vaultline/pkg/requestcontext"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string) (*models.RateLimitResult, error)
}

type Middleware struct {
	limiter  RateLimiter
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every check into a pass-through. DISABLE_RATE_LIMITING
// sets it for local runs and load tests.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Warn("http rate limiting disabled")
	}
	return m
}

// RateLimit counts each request against "<scope>:<client ip>". When the
// limiter itself fails the request goes through: a broken counter store
// must not stop message intake.
func (m *Middleware) RateLimit(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m.disabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			result, err := m.limiter.Allow(ctx, models.NewIPKey(scope, requestcontext.ClientIP(ctx)))
			if err != nil {
				m.logger.ErrorContext(ctx, "ip rate limit check failed, allowing request",
					"scope", scope,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			if result.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			m.logger.WarnContext(ctx, "ip rate limit exceeded",
				"scope", scope,
				"request_id", requestcontext.RequestID(ctx),
			)
			h.Set("Retry-After", strconv.Itoa(max(result.RetryAfter, 1)))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
		})
	}
}
