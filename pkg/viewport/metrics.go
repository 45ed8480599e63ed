package viewport

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// reductions counts served viewports.
	// Labels: tier (view level name or exact), derived (true, false)
	reductions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rfiscope",
		Subsystem: "viewport",
		Name:      "reductions_total",
		Help:      "Viewport reductions by serving tier",
	}, []string{"tier", "derived"})

	// requeries counts reductions that went back to the source
	requeries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rfiscope",
		Subsystem: "viewport",
		Name:      "requeries_total",
		Help:      "Viewport reductions that fetched from the source instead of the session cache",
	})

	// reducedPoints tracks the size of reduced results
	reducedPoints = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rfiscope",
		Subsystem: "viewport",
		Name:      "points",
		Help:      "Points returned per viewport reduction",
		Buckets:   prometheus.ExponentialBuckets(10, 4, 9),
	})
)

func observeReduction(r *Result) {
	reductions.WithLabelValues(r.Tier, strconv.FormatBool(r.Derived)).Inc()
	if r.Requeried {
		requeries.Inc()
	}
	reducedPoints.Observe(float64(len(r.Points)))
}
