package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gaugeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_active",
		Help: "Active sessions",
	})

	metricExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_expired_total",
		Help: "Sessions expired by the inactivity reaper",
	})
)
