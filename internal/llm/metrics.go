package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTTFTMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_ttft_ms",
		Help:    "Time to first token (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 10),
	})

	metricSentences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_sentences_total",
		Help: "Sentences segmented from completion streams",
	})

	metricRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_retries_total",
		Help: "Streaming requests retried",
	})

	metricFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_failures_total",
		Help: "Streaming requests failed past the retry budget",
	})
)
