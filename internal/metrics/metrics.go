// Package metrics exposes Prometheus collectors for the tokenization layer.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tokenization",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenization",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tokenization",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	pipelinePhases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenization",
			Subsystem: "pipeline",
			Name:      "phase_events_total",
			Help:      "Transaction phase events emitted, by action and phase.",
		},
		[]string{"action", "phase"},
	)

	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenization",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Completed pipeline runs, by action and terminal phase.",
		},
		[]string{"action", "outcome"},
	)

	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tokenization",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~6.8m
		},
		[]string{"action"},
	)

	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenization",
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Transport retries, by operation.",
		},
		[]string{"operation"},
	)

	encodings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenization",
			Subsystem: "compliance",
			Name:      "encodings_total",
			Help:      "Compliance parameter encodings, by module type and result.",
		},
		[]string{"module_type", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		pipelinePhases,
		pipelineRuns,
		pipelineDuration,
		retries,
		encodings,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight increments the in-flight HTTP request gauge.
func IncInFlight() { httpInFlight.Inc() }

// DecInFlight decrements the in-flight HTTP request gauge.
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPhase records a single phase event.
func RecordPhase(action, phase string) {
	if action == "" {
		action = "unknown"
	}
	pipelinePhases.WithLabelValues(action, phase).Inc()
}

// RecordRun records a finished pipeline run.
func RecordRun(action, outcome string, duration time.Duration) {
	if action == "" {
		action = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	pipelineRuns.WithLabelValues(action, outcome).Inc()
	pipelineDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordRetry records a transport retry.
func RecordRetry(operation string) {
	retries.WithLabelValues(operation).Inc()
}

// RecordEncode records a compliance encoding attempt.
func RecordEncode(moduleType string, success bool) {
	if moduleType == "" {
		moduleType = "unknown"
	}
	result := "false"
	if success {
		result = "true"
	}
	encodings.WithLabelValues(moduleType, result).Inc()
}
