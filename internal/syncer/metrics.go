// internal/syncer/metrics.go
package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dirsync_passes_total",
		Help: "Sync passes by outcome.",
	}, []string{"outcome"})

	guardTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dirsync_deletion_guard_trips_total",
		Help: "Passes aborted by the deletion guard, by entity type.",
	}, []string{"entity"})

	recordsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dirsync_records_applied_total",
		Help: "Records written by committed passes.",
	}, []string{"entity", "op"})
)
