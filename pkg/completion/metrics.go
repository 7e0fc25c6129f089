package completion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_completions_total",
		Help: "Completion requests by outcome and serving provider",
	}, []string{"status", "provider"})

	completionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_completion_duration_seconds",
		Help:    "End-to-end completion latency including provider calls",
		Buckets: prometheus.DefBuckets,
	})

	completionTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_completion_tokens",
		Help:    "Token count per completion",
		Buckets: []float64{1, 10, 50, 100, 500, 1_000, 2_000, 4_000, 8_000, 16_000},
	})
)
