// Package compliance provides a fail-closed audit publisher for regulatory events.
//
// Entries are written synchronously to the audit store, inside the caller's
// transaction when there is one. If the write fails, an error is returned and
// the calling operation MUST fail.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/requestcontext"
)

// Publisher emits audit entries with fail-closed semantics.
// All writes are synchronous - the caller blocks until persistence succeeds or fails.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var errMissingAction = errors.New("audit entry requires Action")

// Emit synchronously writes an audit entry. Timestamp and Actor default to the
// request-scoped values when unset.
func (p *Publisher) Emit(ctx context.Context, entry audit.Entry) error {
	start := time.Now()

	if entry.Action == "" {
		return errMissingAction
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.Actor == "" {
		entry.Actor = requestcontext.Actor(ctx)
	}
	if reqID := requestcontext.RequestID(ctx); reqID != "" {
		if entry.Metadata == nil {
			entry.Metadata = map[string]string{}
		}
		if _, ok := entry.Metadata["request_id"]; !ok {
			entry.Metadata["request_id"] = reqID
		}
	}

	if err := p.store.Append(ctx, entry); err != nil {
		if p.metrics != nil {
			p.metrics.IncPersistFailures()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: audit persistence failed",
				"action", entry.Action,
				"identity_id", entry.IdentityID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}

	if p.metrics != nil {
		p.metrics.ObservePersistDuration(time.Since(start).Seconds())
		p.metrics.IncEntriesEmitted(entry.Action.Category())
	}
	return nil
}
