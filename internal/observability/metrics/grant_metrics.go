package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GrantMetrics tracks allocation outcomes and pool pressure.
type GrantMetrics struct {
	attempts    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	reserveMiss prometheus.Counter
}

func NewGrantMetrics(registerer prometheus.Registerer, cfg Config) *GrantMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)
	m := &GrantMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatbroker_grant_attempts_total",
			Help:        "Grant attempts by source type and outcome.",
			ConstLabels: constLabels,
		}, []string{"source_type", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "seatbroker_grant_duration_seconds",
			Help:        "End-to-end grant latency including the membership invite.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"source_type"}),
		reserveMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "seatbroker_grant_reserve_conflicts_total",
			Help:        "Seat reservations lost to a concurrent claim.",
			ConstLabels: constLabels,
		}),
	}
	registerer.MustRegister(m.attempts, m.latency, m.reserveMiss)
	return m
}

func (m *GrantMetrics) ObserveGrant(sourceType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	sourceType = strings.TrimSpace(sourceType)
	m.attempts.WithLabelValues(sourceType, outcome).Inc()
	m.latency.WithLabelValues(sourceType).Observe(elapsed.Seconds())
}

func (m *GrantMetrics) IncReserveConflict() {
	if m == nil {
		return
	}
	m.reserveMiss.Inc()
}
