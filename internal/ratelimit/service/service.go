// Package service enforces a per-key request budget against a primary store
// (Redis across processes) with an in-memory fallback behind a circuit breaker.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"vaultline/internal/ratelimit/metrics"
	"vaultline/internal/ratelimit/models"
)

// Store counts requests for a key.
type Store interface {
	Allow(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error)
}

type Limiter struct {
	primary  Store
	fallback Store
	limit    models.Limit
	breaker  *CircuitBreaker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	name     string
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithFallback sets the store used while the primary is failing. Without a
// fallback, primary errors are returned to the caller.
func WithFallback(store Store) Option {
	return func(l *Limiter) {
		l.fallback = store
	}
}

// WithBreakerThresholds sets how many consecutive failures open the circuit
// and how many successful probes close it.
func WithBreakerThresholds(failures, successes int) Option {
	return func(l *Limiter) {
		if failures > 0 && successes > 0 {
			l.breaker = newCircuitBreaker(failures, successes)
		}
	}
}

// WithName labels the limiter in logs and metrics.
func WithName(name string) Option {
	return func(l *Limiter) {
		l.name = name
	}
}

func New(primary Store, limit models.Limit, opts ...Option) (*Limiter, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary store is required")
	}
	if err := limit.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		primary: primary,
		limit:   limit,
		breaker: newCircuitBreaker(5, 3),
		logger:  slog.Default(),
		name:    "default",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow counts one request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (*models.RateLimitResult, error) {
	result, err := l.check(ctx, key)
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.ObserveDecision(l.name, result.Allowed)
	}
	return result, nil
}

func (l *Limiter) check(ctx context.Context, key string) (*models.RateLimitResult, error) {
	if l.fallback == nil {
		return l.primary.Allow(ctx, key, l.limit)
	}

	if !l.breaker.ShouldProbe() {
		return l.fallback.Allow(ctx, key, l.limit)
	}

	result, err := l.primary.Allow(ctx, key, l.limit)
	wasOpen := l.breaker.IsOpen()
	if err != nil {
		if l.breaker.RecordFailure() && !wasOpen {
			l.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback",
				"limiter", l.name, "error", err)
			l.setDegraded(true)
		}
		return l.fallback.Allow(ctx, key, l.limit)
	}
	if l.breaker.RecordSuccess() && wasOpen {
		l.logger.InfoContext(ctx, "rate limit store recovered", "limiter", l.name)
		l.setDegraded(false)
	}
	return result, nil
}

// Degraded reports whether the fallback store is answering.
func (l *Limiter) Degraded() bool {
	return l.breaker.IsOpen()
}

func (l *Limiter) setDegraded(degraded bool) {
	if l.metrics != nil {
		l.metrics.SetDegraded(l.name, degraded)
	}
}
