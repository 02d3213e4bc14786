// Package metrics exposes the engine's Prometheus collectors. A nil
// *Metrics is a valid no-op receiver so the engine can run unmetered in
// tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger core's collectors.
type Metrics struct {
	submissions   *prometheus.CounterVec
	oracleLatency prometheus.Histogram
	lockHold      prometheus.Histogram
	reversals     *prometheus.CounterVec
	eventFailures prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "submissions_total",
			Help:      "Transaction submissions by type and terminal status.",
		}, []string{"type", "status"}),
		oracleLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "oracle_latency_seconds",
			Help:      "Pricing oracle lookup latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		lockHold: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "lock_hold_seconds",
			Help:      "Time spent holding account locks per transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		reversals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "reversals_total",
			Help:      "Reversal attempts by terminal status.",
		}, []string{"status"}),
		eventFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "event_publish_failures_total",
			Help:      "Transaction events that could not be published.",
		}),
	}
}

func (m *Metrics) ObserveSubmission(txType, status string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(txType, status).Inc()
}

func (m *Metrics) ObserveOracle(d time.Duration) {
	if m == nil {
		return
	}
	m.oracleLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveLockHold(d time.Duration) {
	if m == nil {
		return
	}
	m.lockHold.Observe(d.Seconds())
}

func (m *Metrics) ObserveReversal(status string) {
	if m == nil {
		return
	}
	m.reversals.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveEventFailure() {
	if m == nil {
		return
	}
	m.eventFailures.Inc()
}
