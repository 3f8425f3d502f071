package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Active client websocket connections",
	})

	metricMessagesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_out_total",
		Help: "Server messages written to clients",
	})
)
