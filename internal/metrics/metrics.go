// Package metrics exposes Prometheus collectors for the allocation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for allocation operations.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Recorder records allocation operations. A nil *Recorder is valid and
// records nothing, which keeps tests free of registry plumbing.
type Recorder struct {
	operations *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabsplit",
			Subsystem: "allocation",
			Name:      "operations_total",
			Help:      "Allocation operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabsplit",
			Subsystem: "allocation",
			Name:      "conflict_retries_total",
			Help:      "Store conflicts retried by the arbiter.",
		}, []string{"operation"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tabsplit",
			Subsystem: "allocation",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in allocation operations, including lock waits.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
	}
	reg.MustRegister(r.operations, r.retries, r.duration)
	return r
}

// Observe records one finished operation.
func (r *Recorder) Observe(operation, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Retry records one conflict retry.
func (r *Recorder) Retry(operation string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(operation).Inc()
}
