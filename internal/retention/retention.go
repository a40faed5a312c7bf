// Package retention deletes identities whose retention period has elapsed.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	id "vaultline/pkg/domain"
	dErrors "vaultline/pkg/domain-errors"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/requestcontext"
)

type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]id.IdentityID, error)
}

// Purger runs the cascading deletion for one identity. The consent ledger
// satisfies it.
type Purger interface {
	PurgeIdentity(ctx context.Context, identityID id.IdentityID) error
}

type Auditor interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

const defaultBatchSize = 100

type Metrics struct {
	Deleted prometheus.Counter
	Failed  prometheus.Counter
	Sweeps  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Deleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vaultline_retention_identities_deleted_total",
			Help: "Total number of identities deleted because their retention expired",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vaultline_retention_delete_failures_total",
			Help: "Total number of expired identities that could not be deleted",
		}),
		Sweeps: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultline_retention_sweep_duration_seconds",
			Help:    "Duration of a retention sweep",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Sweeper finds expired identities and deletes them through the same path
// as a consent withdrawal.
type Sweeper struct {
	identities ExpiredLister
	purger     Purger
	auditor    Auditor
	batchSize  int
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func New(identities ExpiredLister, purger Purger, auditor Auditor, opts ...Option) (*Sweeper, error) {
	if identities == nil || purger == nil || auditor == nil {
		return nil, errors.New("retention sweeper requires identities, purger and auditor")
	}
	s := &Sweeper{
		identities: identities,
		purger:     purger,
		auditor:    auditor,
		batchSize:  defaultBatchSize,
		logger:     slog.Default(),
		tracer:     otel.Tracer("vaultline/retention"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CleanupExpiredIdentities deletes every identity with retention_expiry at
// or before now and writes one summary audit entry. It returns how many
// identities were deleted. Identities that fail stay in place for the next
// sweep; their errors are joined into the returned error.
func (s *Sweeper) CleanupExpiredIdentities(ctx context.Context) (int, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "retention.CleanupExpiredIdentities")
	defer span.End()

	now := requestcontext.Now(ctx)
	var (
		deleted  int
		failures []error
		failed   = map[id.IdentityID]bool{}
	)
	for {
		batch, err := s.identities.ListExpired(ctx, now, s.batchSize+len(failed))
		if err != nil {
			span.RecordError(err)
			return deleted, dErrors.Wrap(err, dErrors.CodeInternal, "list expired identities")
		}
		progress := 0
		for _, identityID := range batch {
			if failed[identityID] {
				continue
			}
			err := s.purger.PurgeIdentity(ctx, identityID)
			switch {
			case err == nil:
				deleted++
				progress++
			case dErrors.HasCode(err, dErrors.CodeNotFound):
				// Deleted concurrently by a withdrawal.
				progress++
			default:
				failed[identityID] = true
				failures = append(failures, err)
				s.logger.ErrorContext(ctx, "failed to delete expired identity",
					"identity_id", identityID,
					"error", err,
				)
			}
		}
		if progress == 0 {
			break
		}
	}

	span.SetAttributes(attribute.Int("retention.deleted", deleted), attribute.Int("retention.failed", len(failed)))
	if s.metrics != nil {
		s.metrics.Deleted.Add(float64(deleted))
		s.metrics.Failed.Add(float64(len(failed)))
		s.metrics.Sweeps.Observe(time.Since(start).Seconds())
	}

	if err := s.auditor.Emit(ctx, audit.Entry{
		Action: audit.ActionRetentionSweep,
		Metadata: map[string]string{
			"deleted": strconv.Itoa(deleted),
			"failed":  strconv.Itoa(len(failed)),
			"cutoff":  now.Format(time.RFC3339),
		},
	}); err != nil {
		span.RecordError(err)
		return deleted, dErrors.Wrap(err, dErrors.CodeLedgerWrite, "audit retention sweep")
	}

	s.logger.InfoContext(ctx, "retention sweep finished",
		"log_type", "audit",
		"deleted", deleted,
		"failed", len(failed),
		"request_id", requestcontext.RequestID(ctx),
	)
	if len(failures) > 0 {
		return deleted, dErrors.Wrap(errors.Join(failures...), dErrors.CodeStoreWrite, "some expired identities were not deleted")
	}
	return deleted, nil
}
