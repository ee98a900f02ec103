// Package orchestrator composes cache regions into higher-level population
// and invalidation patterns.
//
// Typed operations (GetOrSet, PreloadBothLanguages, WarmUp, ...) are package
// functions over *Region[T]; cross-region operations (invalidation, stats,
// global enable/disable) live on Orchestrator, which holds every region
// through the type-erased RegionHandle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/cms-cache/pkg/cache"
)

var (
	// ErrDuplicateRegion is returned when two regions share a name.
	ErrDuplicateRegion = errors.New("region already registered")

	// ErrUnknownRegion is returned for lookups of unregistered regions.
	ErrUnknownRegion = errors.New("unknown region")
)

// Orchestrator is the registry of cache regions.
type Orchestrator struct {
	mu      sync.RWMutex
	regions map[string]RegionHandle
	order   []string
	logger  zerolog.Logger
}

// New creates an empty orchestrator.
func New(logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		regions: make(map[string]RegionHandle),
		logger:  logger,
	}
}

// Register adds regions to the registry.
func (o *Orchestrator) Register(regions ...RegionHandle) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, r := range regions {
		if _, exists := o.regions[r.Name()]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateRegion, r.Name())
		}
		o.regions[r.Name()] = r
		o.order = append(o.order, r.Name())
	}
	return nil
}

// Region returns the region registered under name.
func (o *Orchestrator) Region(name string) (RegionHandle, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	r, ok := o.regions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, name)
	}
	return r, nil
}

// scope resolves region names; an empty list means all regions.
func (o *Orchestrator) scope(names []string) []RegionHandle {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(names) == 0 {
		out := make([]RegionHandle, 0, len(o.order))
		for _, name := range o.order {
			out = append(out, o.regions[name])
		}
		return out
	}

	out := make([]RegionHandle, 0, len(names))
	for _, name := range names {
		r, ok := o.regions[name]
		if !ok {
			o.logger.Warn().Str("region", name).Msg("Invalidation scope names an unknown region")
			continue
		}
		out = append(out, r)
	}
	return out
}

// InvalidateLanguageVersion deletes the lang variant of baseKey in the given
// regions (all regions when none are named).
func (o *Orchestrator) InvalidateLanguageVersion(baseKey string, lang cache.Language, regions ...string) int {
	key := cache.LanguageKey(baseKey, lang)

	removed := 0
	for _, r := range o.scope(regions) {
		if r.Delete(key) {
			removed++
		}
	}

	o.logger.Info().Str("key", key).Int("removed", removed).Msg("Language version invalidated")
	return removed
}

// InvalidateRelated deletes every key matching pattern in the given regions
// (all regions when none are named). A nil pattern removes nothing.
func (o *Orchestrator) InvalidateRelated(pattern *regexp.Regexp, regions ...string) int {
	if pattern == nil {
		return 0
	}

	removed := 0
	for _, r := range o.scope(regions) {
		removed += r.InvalidatePattern(pattern)
	}

	o.logger.Info().Str("pattern", pattern.String()).Int("removed", removed).Msg("Related entries invalidated")
	return removed
}

// InvalidateRelatedString compiles pattern and calls InvalidateRelated.
func (o *Orchestrator) InvalidateRelatedString(pattern string, regions ...string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("compile invalidation pattern: %w", err)
	}
	return o.InvalidateRelated(re, regions...), nil
}

// RecordIDs extracts the record ids carried by a cached value. It returns nil
// for values that hold no records.
type RecordIDs func(value any) []string

// InvalidateRecords deletes every entry whose key carries one of ids as its
// exact "id" parameter or whose value carries a record with one of ids.
// Empty ids are ignored.
func (o *Orchestrator) InvalidateRecords(ids []string, idsOf RecordIDs, regions ...string) int {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			wanted[id] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return 0
	}

	match := func(key string, value any) bool {
		if id, ok := keyID(key); ok {
			if _, hit := wanted[id]; hit {
				return true
			}
		}
		if idsOf == nil {
			return false
		}
		for _, id := range idsOf(value) {
			if _, ok := wanted[id]; ok {
				return true
			}
		}
		return false
	}

	removed := 0
	for _, r := range o.scope(regions) {
		removed += r.InvalidateAny(match)
	}

	o.logger.Info().Strs("ids", ids).Int("removed", removed).Msg("Records invalidated")
	return removed
}

// keyID returns the value of the "id" parameter of a key built by
// cache.BuildKey.
func keyID(key string) (string, bool) {
	_, query, ok := strings.Cut(key, "?")
	if !ok {
		return "", false
	}
	for _, part := range strings.FieldsFunc(query, func(r rune) bool { return r == '&' || r == '?' }) {
		if v, found := strings.CutPrefix(part, "id="); found {
			return v, true
		}
	}
	return "", false
}

// SetEnabled toggles every region between normal and bypass mode.
func (o *Orchestrator) SetEnabled(enabled bool) {
	for _, r := range o.scope(nil) {
		r.SetEnabled(enabled)
	}
	o.logger.Info().Bool("enabled", enabled).Msg("Cache enabled flag changed")
}

// Clear empties every region.
func (o *Orchestrator) Clear() {
	for _, r := range o.scope(nil) {
		r.Clear()
	}
}

// Stats returns diagnostics for every region, keyed by region name.
// The result is informational only.
func (o *Orchestrator) Stats() map[string]cache.RegionStats {
	regions := o.scope(nil)
	out := make(map[string]cache.RegionStats, len(regions))
	for _, r := range regions {
		out[r.Name()] = r.Stats()
	}
	return out
}

// RegionNames returns the registered region names in registration order.
func (o *Orchestrator) RegionNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	names := make([]string, len(o.order))
	copy(names, o.order)
	return names
}

// RunMaintenance purges expired entries and logs region sizes every interval
// until ctx is cancelled.
func (o *Orchestrator) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.maintain()
		}
	}
}

func (o *Orchestrator) maintain() {
	stats := o.Stats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, r := range o.scope(nil) {
		if purged := r.PurgeExpired(); purged > 0 {
			o.logger.Debug().Str("region", r.Name()).Int("purged", purged).Msg("Expired entries purged")
		}
	}

	ev := o.logger.Debug()
	for _, name := range names {
		ev = ev.Int(name, stats[name].Size)
	}
	ev.Msg("Cache region sizes")
}
