// Package metrics defines the Prometheus collectors for the analysis pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClientRequests counts calls to the analysis service by endpoint and outcome
	// (ok, timeout, connection, analysis, rejected).
	ClientRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_analysis_client_requests_total",
			Help: "Requests sent to the analysis service",
		},
		[]string{"endpoint", "outcome"},
	)

	ClientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_analysis_client_request_duration_seconds",
			Help:    "Latency of analysis service calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "journal_analysis_breaker_state",
			Help: "Circuit breaker state for the analysis service",
		},
		[]string{"name"},
	)

	FallbackUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_analysis_fallback_total",
			Help: "Analyses served by the local keyword heuristic",
		},
		[]string{"reason"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_analysis_duration_seconds",
			Help:    "End-to-end orchestrator duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// JobOutcomes counts per-attempt results: succeeded, noop, retried, failed
	JobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_analysis_jobs_total",
			Help: "Analysis job attempts by outcome",
		},
		[]string{"outcome"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "journal_analysis_job_duration_seconds",
			Help:    "Time spent running one job attempt",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_analysis_jobs_enqueued_total",
			Help: "Analysis jobs enqueued",
		},
	)

	TagFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_tag_materialization_failures_total",
			Help: "Tag materialization errors swallowed by the orchestrator",
		},
	)
)

// ObserveClient records one analysis service call
func ObserveClient(endpoint, outcome string, elapsed time.Duration) {
	ClientRequests.WithLabelValues(endpoint, outcome).Inc()
	ClientRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}
