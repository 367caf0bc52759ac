// metrics.go - Prometheus instrumentation for engine operations.
//
// Metrics are optional: an Engine with a nil *Metrics records nothing, which
// keeps tests and embedded uses free of a registry.
package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's instrumentation.
type Metrics struct {
	TransfersCommitted prometheus.Counter
	TransfersRejected  prometheus.Counter
	AdjustmentsApplied prometheus.Counter
	ConflictRetries    prometheus.Counter
	OverridesApplied   prometheus.Counter
}

// NewMetrics registers the engine counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransfersCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "transfers_committed_total",
			Help:      "Transfers that committed successfully.",
		}),
		TransfersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "transfers_rejected_total",
			Help:      "Transfers rejected by validation, stock, or policy checks.",
		}),
		AdjustmentsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "adjustments_applied_total",
			Help:      "Manual adjustments committed.",
		}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "conflict_retries_total",
			Help:      "Optimistic concurrency conflicts that triggered a retry.",
		}),
		OverridesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "negative_stock_overrides_total",
			Help:      "Committed operations that drove a balance below zero.",
		}),
	}
	reg.MustRegister(
		m.TransfersCommitted,
		m.TransfersRejected,
		m.AdjustmentsApplied,
		m.ConflictRetries,
		m.OverridesApplied,
	)
	return m
}

func (m *Metrics) incCommitted() {
	if m != nil {
		m.TransfersCommitted.Inc()
	}
}

func (m *Metrics) incRejected() {
	if m != nil {
		m.TransfersRejected.Inc()
	}
}

func (m *Metrics) incAdjustment() {
	if m != nil {
		m.AdjustmentsApplied.Inc()
	}
}

func (m *Metrics) incConflictRetry() {
	if m != nil {
		m.ConflictRetries.Inc()
	}
}

func (m *Metrics) incOverride() {
	if m != nil {
		m.OverridesApplied.Inc()
	}
}
