package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshRuns tracks completed refresh runs by task and result
	RefreshRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_refresh_runs_total",
			Help: "Total number of background refresh runs",
		},
		[]string{"task", "result"}, // "success", "failure", "discarded"
	)

	// RefreshSkipped tracks ticks skipped because the previous run was still in flight
	RefreshSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_refresh_skipped_total",
			Help: "Total number of refresh ticks skipped due to an in-flight run",
		},
		[]string{"task"},
	)

	// RefreshDuration tracks refresh run duration
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cms_refresh_duration_seconds",
			Help:    "Duration of background refresh runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)
)
