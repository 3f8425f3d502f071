package tts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFirstChunkMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_first_chunk_ms",
		Help:    "Time from request to first audio chunk (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 10),
	})

	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_audio_bytes_total",
		Help: "Total synthesized audio bytes streamed",
	})

	metricRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_retries_total",
		Help: "Synthesis requests retried",
	})

	metricFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_failures_total",
		Help: "Synthesis requests failed past the retry",
	})
)
