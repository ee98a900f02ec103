package refdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshTotal tracks reference data refreshes by result
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_refdata_refresh_total",
			Help: "Total number of reference data refreshes",
		},
		[]string{"result"}, // "success", "failure"
	)

	// LastSuccess tracks when the current snapshot was loaded
	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cms_refdata_last_success_timestamp_seconds",
			Help: "Unix time of the last successful reference data refresh",
		},
	)
)
