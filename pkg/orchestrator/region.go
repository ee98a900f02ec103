package orchestrator

import (
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/cms-cache/pkg/cache"
	"github.com/Sternrassler/cms-cache/pkg/logging"
)

// RegionConfig configures a cache region.
type RegionConfig struct {
	// Name identifies the region (e.g. "projects", "project", "filters").
	Name string

	// MaxEntries bounds the region (default: cache.DefaultMaxEntries).
	MaxEntries int

	// DefaultTTL applies when callers pass ttl <= 0.
	DefaultTTL time.Duration

	// Disabled starts the region in bypass mode.
	Disabled bool

	// Sliding extends an entry's TTL on every hit.
	Sliding bool

	// Now overrides the clock (tests only).
	Now func() time.Time
}

// RegionHandle is the type-erased view of a region used by the Orchestrator
// for cross-region invalidation and diagnostics.
type RegionHandle interface {
	Name() string
	Delete(key string) bool
	InvalidatePattern(re *regexp.Regexp) int
	InvalidateAny(match func(key string, value any) bool) int
	PurgeExpired() int
	Clear()
	SetEnabled(enabled bool)
	Enabled() bool
	Stats() cache.RegionStats
}

// Region is a named cache.Store with in-flight de-duplication of misses.
type Region[T any] struct {
	store  *cache.Store[T]
	group  singleflight.Group
	logger zerolog.Logger
}

// NewRegion creates a region.
func NewRegion[T any](cfg RegionConfig) *Region[T] {
	logger := logging.NewLogger("cache").With().Str("region", cfg.Name).Logger()

	store := cache.NewStore[T](cache.Options{
		Name:       cfg.Name,
		MaxEntries: cfg.MaxEntries,
		DefaultTTL: cfg.DefaultTTL,
		Disabled:   cfg.Disabled,
		Sliding:    cfg.Sliding,
		Now:        cfg.Now,
		OnEvict: func(key string, reason cache.EvictReason) {
			logger.Debug().Str("key", key).Str("reason", string(reason)).Msg("Cache entry evicted")
		},
	})

	return &Region[T]{
		store:  store,
		logger: logger,
	}
}

// Name returns the region name.
func (r *Region[T]) Name() string {
	return r.store.Name()
}

// Store exposes the underlying store.
func (r *Region[T]) Store() *cache.Store[T] {
	return r.store
}

// Get returns the cached value for key.
func (r *Region[T]) Get(key string) (T, bool) {
	return r.store.Get(key)
}

// Set stores value under key. ttl <= 0 uses the region default.
func (r *Region[T]) Set(key string, value T, ttl time.Duration) {
	r.store.Set(key, value, ttl)
}

// Peek returns the entry for key without touching recency or TTL.
func (r *Region[T]) Peek(key string) (cache.Entry[T], bool) {
	return r.store.Peek(key)
}

// Has reports whether key holds a live entry.
func (r *Region[T]) Has(key string) bool {
	return r.store.Has(key)
}

// Delete removes key.
func (r *Region[T]) Delete(key string) bool {
	return r.store.Delete(key)
}

// InvalidatePattern removes every key matching re.
func (r *Region[T]) InvalidatePattern(re *regexp.Regexp) int {
	return r.store.InvalidatePattern(re)
}

// InvalidateAny removes every entry for which match returns true.
func (r *Region[T]) InvalidateAny(match func(key string, value any) bool) int {
	return r.store.InvalidateFunc(func(key string, value T) bool {
		return match(key, value)
	})
}

// PurgeExpired drops expired entries.
func (r *Region[T]) PurgeExpired() int {
	return r.store.PurgeExpired()
}

// Clear removes all entries.
func (r *Region[T]) Clear() {
	r.store.Clear()
}

// SetEnabled toggles bypass mode.
func (r *Region[T]) SetEnabled(enabled bool) {
	r.store.SetEnabled(enabled)
}

// Enabled reports whether the region is active.
func (r *Region[T]) Enabled() bool {
	return r.store.Enabled()
}

// Stats returns diagnostics for the region.
func (r *Region[T]) Stats() cache.RegionStats {
	return r.store.Stats()
}
