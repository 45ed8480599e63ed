package explore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	openExplorations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rfiscope",
		Subsystem: "explore",
		Name:      "open",
		Help:      "Explorations currently open",
	})

	expiredExplorations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rfiscope",
		Subsystem: "explore",
		Name:      "expired_total",
		Help:      "Explorations dropped after sitting idle",
	})

	staleRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rfiscope",
		Subsystem: "explore",
		Name:      "stale_requests_total",
		Help:      "Viewport requests rejected because a newer one arrived",
	})

	// wsConnections tracks open viewport websockets
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rfiscope",
		Subsystem: "explore",
		Name:      "websocket_connections",
		Help:      "Open viewport websocket connections",
	})
)
