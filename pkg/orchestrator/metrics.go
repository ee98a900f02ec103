package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProducerCalls tracks producer invocations on cache misses
	ProducerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_cache_producer_calls_total",
			Help: "Total number of producer calls made to populate the cache",
		},
		[]string{"region", "result"}, // "success", "error"
	)

	// SharedMisses tracks callers that waited on an in-flight producer instead of calling their own
	SharedMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_cache_shared_misses_total",
			Help: "Total number of cache misses served by an already in-flight producer",
		},
		[]string{"region"},
	)

	// WarmUpEntries tracks warm-up outcomes
	WarmUpEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_cache_warmup_entries_total",
			Help: "Total number of keys processed by cache warm-up",
		},
		[]string{"region", "result"}, // "loaded", "skipped", "failed"
	)
)
