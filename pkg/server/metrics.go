package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	plotsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rfiscope",
		Subsystem: "plot",
		Name:      "coalesced_total",
		Help:      "Plot requests answered by an identical request already in flight",
	})

	backfillRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rfiscope",
		Subsystem: "server",
		Name:      "scheduled_backfill_runs_total",
		Help:      "Scheduled backfill runs by outcome",
	}, []string{"outcome"})

	badgerGCRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rfiscope",
		Subsystem: "server",
		Name:      "badger_gc_runs_total",
		Help:      "Value log GC passes by whether a file was rewritten",
	}, []string{"rewrote"})
)
