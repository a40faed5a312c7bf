package service

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	id "vaultline/pkg/domain"
)

type Metrics struct {
	Recorded            *prometheus.CounterVec
	CascadeDeletions    *prometheus.CounterVec
	LedgerWriteFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Recorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultline_consent_records_total",
			Help: "Total number of consent records appended, by category and decision",
		}, []string{"category", "granted"}),
		CascadeDeletions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultline_consent_cascade_deletions_total",
			Help: "Total number of identities deleted through the cascading path",
		}, []string{"reason"}),
		LedgerWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vaultline_consent_ledger_write_failures_total",
			Help: "Total number of consent transactions that failed to commit",
		}),
	}
}

func (m *Metrics) IncRecorded(category id.ConsentCategory, granted bool) {
	m.Recorded.WithLabelValues(string(category), strconv.FormatBool(granted)).Inc()
}

func (m *Metrics) IncCascadeDeletions(reason string) {
	m.CascadeDeletions.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncLedgerWriteFailures() {
	m.LedgerWriteFailures.Inc()
}
