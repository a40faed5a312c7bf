package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "vaultline/pkg/platform/audit"
)

// Metrics holds Prometheus metrics for audit persistence.
type Metrics struct {
	EntriesEmitted  *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

// NewMetrics registers the audit metrics on reg. A nil reg registers nothing,
// which keeps repeated construction in tests safe.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultline_audit_entries_emitted_total",
			Help: "Total number of audit entries persisted, by category",
		}, []string{"category"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vaultline_audit_persist_failures_total",
			Help: "Total number of audit entries that failed to persist",
		}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultline_audit_persist_duration_seconds",
			Help:    "Time spent persisting one audit entry",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}

func (m *Metrics) IncEntriesEmitted(category audit.EventCategory) {
	m.EntriesEmitted.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	m.PersistDuration.Observe(seconds)
}
