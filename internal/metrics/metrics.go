// Package metrics provides Prometheus metrics for the batch decider, batch
// worker and write path.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Decider metrics
	DispatchMessages *prometheus.CounterVec
	DeciderErrors    *prometheus.CounterVec
	DeciderRun       prometheus.Histogram

	// Worker metrics
	BatchesCreated *prometheus.CounterVec
	WorkerErrors   *prometheus.CounterVec

	// Write path
	ReportsRecorded *prometheus.CounterVec
}

// New registers metrics on reg under namespace. Use prometheus.NewRegistry in
// tests; the process uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "reportflow"
	}
	factory := promauto.With(reg)

	return &Metrics{
		DispatchMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_messages_total",
				Help:      "Dispatch messages enqueued by the batch decider",
			},
			[]string{"receiver", "queue", "empty"},
		),
		DeciderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decider_errors_total",
				Help:      "Per-receiver batch decider failures",
			},
			[]string{"receiver", "op"},
		),
		DeciderRun: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decider_run_seconds",
				Help:      "Time to evaluate every receiver once",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
		),
		BatchesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_created_total",
				Help:      "Batch nodes recorded by batch workers",
			},
			[]string{"receiver"},
		),
		WorkerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_errors_total",
				Help:      "Dispatch messages a batch worker failed to handle",
			},
			[]string{"queue"},
		),
		ReportsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_recorded_total",
				Help:      "Report nodes recorded in the lineage store",
			},
			[]string{"action"},
		),
	}
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// This blocks, so call it in a goroutine.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// AddDispatch counts enqueued dispatch messages.
func (m *Metrics) AddDispatch(receiver, queue string, empty bool, n int) {
	if m == nil {
		return
	}
	m.DispatchMessages.WithLabelValues(receiver, queue, strconv.FormatBool(empty)).Add(float64(n))
}

// IncDeciderError counts a failed decider operation for a receiver.
func (m *Metrics) IncDeciderError(receiver, op string) {
	if m == nil {
		return
	}
	m.DeciderErrors.WithLabelValues(receiver, op).Inc()
}

// ObserveDeciderRun records the duration of one decider pass.
func (m *Metrics) ObserveDeciderRun(d time.Duration) {
	if m == nil {
		return
	}
	m.DeciderRun.Observe(d.Seconds())
}

// AddBatches counts batch nodes recorded for a receiver.
func (m *Metrics) AddBatches(receiver string, n int) {
	if m == nil {
		return
	}
	m.BatchesCreated.WithLabelValues(receiver).Add(float64(n))
}

// IncWorkerError counts a message a worker failed to handle.
func (m *Metrics) IncWorkerError(queue string) {
	if m == nil {
		return
	}
	m.WorkerErrors.WithLabelValues(queue).Inc()
}

// IncReportsRecorded counts a recorded node by action.
func (m *Metrics) IncReportsRecorded(action string) {
	if m == nil {
		return
	}
	m.ReportsRecorded.WithLabelValues(action).Inc()
}
