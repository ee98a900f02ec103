package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Runs tracks reconciliation passes by outcome
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_reconcile_runs_total",
			Help: "Total number of reconciliation passes",
		},
		[]string{"result"}, // "unchanged", "changed", "failed", "skipped"
	)

	// Records tracks ids found by the diff step
	Records = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_reconcile_records_total",
			Help: "Total number of records detected as outdated, deleted or new",
		},
		[]string{"kind"}, // "outdated", "deleted", "new"
	)

	// Duration tracks how long a reconciliation pass takes
	Duration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cms_reconcile_duration_seconds",
			Help:    "Duration of reconciliation passes",
			Buckets: prometheus.DefBuckets,
		},
	)
)
