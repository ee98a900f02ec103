// Package cache provides the in-process storage primitives of the CMS cache.
//
// Store is a generic, capacity- and TTL-bounded map with LRU eviction:
//
// - Per-call TTL with a region default as fallback
// - Lazy expiry checked on access (no background sweep required)
// - Optional sliding expiration on read
// - Enabled flag that makes the store behave as empty (diagnostic bypass)
// - Pattern-based bulk invalidation
// - Eviction notifications and Prometheus metrics per region
//
// # Basic Usage
//
//	store := cache.NewStore[[]Project](cache.Options{
//		Name:       "projects",
//		MaxEntries: 50,
//		DefaultTTL: 30 * time.Minute,
//		Sliding:    true,
//	})
//
//	key := cache.BuildKey("/api/projects", cache.Params{cache.P("limit", -1)}, cache.LanguageDE)
//	store.Set(key, projects, 0)
//
//	if v, ok := store.Get(key); ok {
//		// hit
//	}
//
// # Cache Keys
//
// BuildKey derives a deterministic key from a resource path, an ordered list of
// typed parameters and a language. BuildBaseKey drops the language so that the
// DE and EN variants of one resource can be addressed together; LanguageKey
// turns a base key back into a per-language storage key.
//
//	/api/projects?lang=DE
//	/api/projects?format=talk&lang=EN&limit=-1
//
// # Metrics
//
//   - cms_cache_hits_total{region}
//   - cms_cache_misses_total{region}
//   - cms_cache_entries{region}
//   - cms_cache_evictions_total{region,reason}
//
// Every process holds its own independent stores; there is no shared cache and
// no invalidation broadcast between replicas.
package cache
