// Package metrics provides Prometheus metrics for ingestion, cost control and search.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iety"

var (
	// PipelineBatchesTotal tracks batches processed per pipeline
	PipelineBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Total number of batches processed by pipeline",
		},
		[]string{"pipeline"},
	)

	// PipelineRecordsTotal tracks records by outcome (fetched, transformed, skipped, error, upserted)
	PipelineRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Total number of records by pipeline and outcome",
		},
		[]string{"pipeline", "outcome"},
	)

	// PipelineRunsTotal tracks finished runs by terminal status
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by terminal status",
		},
		[]string{"pipeline", "status"},
	)

	// RateLimitWaitSeconds tracks time spent waiting for tokens
	RateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for rate limiter tokens in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service"},
	)

	// RateLimitRejectionsTotal tracks non-blocking acquisitions that failed
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of rejected try-acquire calls",
		},
		[]string{"service"},
	)

	// BudgetState is 0 for normal, 1 for warning, 2 for halted
	BudgetState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "state",
			Help:      "Budget circuit breaker state (0=normal, 1=warning, 2=halted)",
		},
	)

	// BudgetPercentUsed mirrors the last computed spend/limit ratio
	BudgetPercentUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "percent_used",
			Help:      "Fraction of the monthly budget used",
		},
	)

	// CostUSDTotal tracks logged spend
	CostUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cost",
			Name:      "usd_total",
			Help:      "Total logged cost in USD by service and operation",
		},
		[]string{"service", "operation"},
	)

	// EmbeddingCacheHitsTotal tracks texts served from stored embeddings
	EmbeddingCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "cache_hits_total",
			Help:      "Total number of texts whose embedding was reused by content hash",
		},
	)

	// SearchLatencySeconds tracks search latency by search type
	SearchLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "latency_seconds",
			Help:      "Search latency in seconds by search type",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"type"},
	)
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
