package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions    *prometheus.CounterVec
	Degraded     *prometheus.GaugeVec
	RedisLatency prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultline_ratelimit_decisions_total",
			Help: "Rate limit decisions by limiter and outcome",
		}, []string{"limiter", "outcome"}),
		Degraded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultline_ratelimit_degraded",
			Help: "1 while a limiter answers from its in-memory fallback",
		}, []string{"limiter"}),
		RedisLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultline_ratelimit_redis_allow_duration_ms",
			Help:    "Latency of Redis rate limit checks in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}),
	}
}

func (m *Metrics) ObserveDecision(limiter string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	m.Decisions.WithLabelValues(limiter, outcome).Inc()
}

func (m *Metrics) SetDegraded(limiter string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1
	}
	m.Degraded.WithLabelValues(limiter).Set(v)
}

func (m *Metrics) ObserveRedisLatency(d time.Duration) {
	m.RedisLatency.Observe(float64(d.Microseconds()) / 1000.0)
}
