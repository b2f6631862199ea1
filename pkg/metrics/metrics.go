// Package metrics provides Prometheus instrumentation for the sync core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// PendingOperations tracks the current depth of the operation log.
	PendingOperations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_pending_operations",
			Help: "Operations waiting in the durable log",
		},
	)

	// OperationsSubmitted counts submitted operations by type and outcome.
	OperationsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_operations_submitted_total",
			Help: "Operations submitted to the executor",
		},
		[]string{"type", "outcome"},
	)

	// DrainRuns counts drain cycles by result.
	DrainRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_drain_runs_total",
			Help: "Drain cycles by result",
		},
		[]string{"result"},
	)

	// RemoteWriteDuration tracks remote store write latency.
	RemoteWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_remote_write_duration_seconds",
			Help:    "Remote store write latency",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"type", "status"},
	)

	// DeadLetteredOperations tracks operations parked after exhausting retries.
	DeadLetteredOperations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_dead_lettered_operations",
			Help: "Operations parked after exhausting retries",
		},
	)

	// MessagesTotal counts messages added to conversation trees.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Messages added to conversation trees",
		},
		[]string{"role"},
	)

	// ThreadsTotal counts threads created.
	ThreadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_threads_total",
			Help: "Threads created",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
