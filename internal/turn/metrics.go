package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_state_transitions_total",
		Help: "State machine transitions by edge",
	}, []string{"from", "to"})

	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_turns_total",
		Help: "Closed turns by outcome",
	}, []string{"outcome"})

	metricTurnLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_latency_ms",
		Help:    "Final transcript to first audio chunk (ms)",
		Buckets: prometheus.ExponentialBuckets(100, 1.6, 10),
	})

	metricTokensWasted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_tokens_wasted_total",
		Help: "Completion tokens discarded by silent speculation cancels",
	})

	metricInterruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_interruptions_total",
		Help: "Barge-ins during COMMITTED or SPEAKING",
	})

	metricOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_audio_overflow_total",
		Help: "Inbound audio frames dropped on ring overflow",
	})

	metricDebounceMS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "turn_debounce_ms",
		Help: "Current adaptive silence debounce (last session to update wins)",
	})
)
