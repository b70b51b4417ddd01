package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the access module.
type Metrics struct {
	// Decision outcomes by action, outcome, and reason.
	DecisionOutcome *prometheus.CounterVec

	// Full decision latency including the grant lookup.
	DecideLatency prometheus.Histogram

	// Grant management operations by op and result.
	GrantOps *prometheus.CounterVec
}

// New creates a Metrics instance with all access module metrics registered.
func New() *Metrics {
	return &Metrics{
		DecisionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "captrack_access_decisions_total",
			Help: "Total authorization decisions by action, outcome, and reason",
		}, []string{"action", "outcome", "reason"}),

		DecideLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "captrack_access_decide_duration_seconds",
			Help:    "Duration of one authorization decision including grant lookup",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		GrantOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "captrack_access_grant_operations_total",
			Help: "Total grant management operations by op and result",
		}, []string{"op", "result"}),
	}
}

// IncDecision records one decision outcome.
func (m *Metrics) IncDecision(action, outcome, reason string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(action, outcome, reason).Inc()
	}
}

// ObserveDecide records the duration of one decision.
func (m *Metrics) ObserveDecide(d time.Duration) {
	if m != nil {
		m.DecideLatency.Observe(d.Seconds())
	}
}

// DecideTimer returns a started timer against the decision latency histogram.
func (m *Metrics) DecideTimer() *prometheus.Timer {
	if m == nil {
		return prometheus.NewTimer(nil)
	}
	return prometheus.NewTimer(m.DecideLatency)
}

// IncGrantOp records one grant/revoke/list operation result.
func (m *Metrics) IncGrantOp(op, result string) {
	if m != nil {
		m.GrantOps.WithLabelValues(op, result).Inc()
	}
}
