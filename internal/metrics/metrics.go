// Package metrics declares the Prometheus collectors shared by the server
// and worker processes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcomes recorded by the worker pool.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeDeferred  = "deferred"
	OutcomeMissing   = "missing"
	OutcomeError     = "error"
)

var (
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rustler_ingest_total",
			Help: "Uploads accepted or rejected by the ingestion service",
		},
		[]string{"result"},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rustler_tasks_processed_total",
			Help: "Processing tasks handled by workers, by outcome",
		},
		[]string{"outcome"},
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rustler_task_duration_seconds",
			Help:    "Time spent handling one processing task",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rustler_reconcile_requeued_total",
			Help: "File records re-enqueued by the reconciliation sweep",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rustler_queue_depth",
			Help: "Tasks in the file queue, by state",
		},
		[]string{"state"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rustler_http_requests_total",
			Help: "HTTP requests served by the API",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rustler_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveTask records the outcome and duration of one handled task.
func ObserveTask(outcome string, started time.Time) {
	TasksProcessed.WithLabelValues(outcome).Inc()
	TaskDuration.Observe(time.Since(started).Seconds())
}

// SetQueueDepth publishes a queue stats snapshot.
func SetQueueDepth(ready, inflight, dead int64) {
	QueueDepth.WithLabelValues("ready").Set(float64(ready))
	QueueDepth.WithLabelValues("inflight").Set(float64(inflight))
	QueueDepth.WithLabelValues("dead").Set(float64(dead))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer returns an HTTP server exposing /metrics on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
