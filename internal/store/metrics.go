package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_records_enqueued_total",
		Help: "Turn records accepted by the async writer",
	})

	metricWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_records_written_total",
		Help: "Turn records persisted",
	})

	metricRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_write_retries_total",
		Help: "Turn record writes retried",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_records_dropped_total",
		Help: "Turn records dropped after retry exhaustion or queue overflow",
	})
)
