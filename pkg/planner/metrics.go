package planner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// planRejections counts plans refused before reading rows.
	// Labels: reason (too_large, no_data, invalid, error)
	planRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rfiscope",
		Subsystem: "planner",
		Name:      "rejections_total",
		Help:      "Plot plans rejected by the range query planner",
	}, []string{"reason"})

	// estimatedRows tracks the row estimate of accepted plans
	estimatedRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rfiscope",
		Subsystem: "planner",
		Name:      "estimated_rows",
		Help:      "Estimated sample rows per accepted plan",
		Buckets:   prometheus.ExponentialBuckets(100, 4, 10),
	})
)
