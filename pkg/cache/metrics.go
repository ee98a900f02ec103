package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by region
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"region"},
	)

	// CacheMisses tracks cache misses by region (absent or expired)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"region"},
	)

	// CacheEntries tracks the current number of entries by region
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cms_cache_entries",
			Help: "Current number of entries held per cache region",
		},
		[]string{"region"},
	)

	// CacheEvictions tracks removed entries by region and reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_cache_evictions_total",
			Help: "Total number of cache entries removed",
		},
		[]string{"region", "reason"}, // "capacity", "expired", "deleted", "invalidated", "cleared"
	)
)
