package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vaultline/internal/onboarding/models"
	audit "vaultline/pkg/platform/audit"
)

type Metrics struct {
	Messages        *prometheus.CounterVec
	MessageDuration *prometheus.HistogramVec
	Transitions     *prometheus.CounterVec
	Failures        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultline_onboarding_messages_total",
			Help: "Total number of inbound messages, by stage and outcome",
		}, []string{"stage", "outcome"}),
		MessageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultline_onboarding_message_duration_seconds",
			Help:    "Time to process one inbound message",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultline_onboarding_transitions_total",
			Help: "Total number of stage changes",
		}, []string{"from", "to"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultline_onboarding_failures_total",
			Help: "Total number of messages that failed, by audit action",
		}, []string{"action"}),
	}
}

func (m *Metrics) ObserveMessage(stage models.Stage, outcome string, d time.Duration) {
	m.Messages.WithLabelValues(string(stage), outcome).Inc()
	m.MessageDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) IncTransition(from, to models.Stage) {
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) IncFailure(action audit.Action) {
	m.Failures.WithLabelValues(string(action)).Inc()
}
