package tiering

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// backfillDuration measures whole backfill runs
	backfillDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rfiscope",
		Subsystem: "backfill",
		Name:      "duration_seconds",
		Help:      "Duration of tier backfill runs in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	})

	// sessionsProcessed counts rebuilt sessions.
	// Labels: status (ok, error)
	sessionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rfiscope",
		Subsystem: "backfill",
		Name:      "sessions_total",
		Help:      "Sessions processed by tier backfill",
	}, []string{"status"})

	// tierMembers tracks how many samples each view level keeps per session.
	// Labels: level
	tierMembers = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rfiscope",
		Subsystem: "backfill",
		Name:      "tier_members",
		Help:      "Samples flagged per view level per session",
		Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
	}, []string{"level"})
)
