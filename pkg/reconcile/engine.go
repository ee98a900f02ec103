// Package reconcile keeps cached collections fresh by diffing them against a
// cheap modified index and fetching only the records that changed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/cms-cache/pkg/orchestrator"
)

var (
	// ErrIndexFetch marks a failed modified-index fetch.
	ErrIndexFetch = errors.New("modified index fetch failed")

	// ErrRecordFetch marks a failed full-record fetch.
	ErrRecordFetch = errors.New("record fetch failed")
)

// IndexFetcher returns (id, modified) for every record currently live remotely.
type IndexFetcher func(ctx context.Context) ([]IndexEntry, error)

// RecordFetcher returns full records for the given ids.
type RecordFetcher[R any] func(ctx context.Context, ids []string) ([]R, error)

// Config configures an Engine.
type Config struct {
	// IncludeNew also fetches ids that are present in the modified index but
	// absent from the cached collection. Without it, records created remotely
	// after the last full load only show up on the next full fetch.
	IncludeNew bool

	// MinInterval throttles GetOrSetTracked: a key reconciled less than
	// MinInterval ago is served from cache without an index fetch.
	// Zero reconciles on every call.
	MinInterval time.Duration

	// Now overrides the clock (default: time.Now).
	Now func() time.Time
}

// Result is the outcome of one reconciliation pass.
type Result[R any] struct {
	// Records is the merged collection, or the cached one when nothing
	// changed or a fetch failed.
	Records []R

	// Plan lists what the diff found.
	Plan Plan

	// Changed reports whether Records differs from the cached collection.
	Changed bool

	// Err is set when a fetch failed. It is informational: Records still
	// holds the cached collection.
	Err error
}

// Engine reconciles collections of R.
type Engine[R any] struct {
	cfg      Config
	identify Identify[R]
	logger   zerolog.Logger

	group singleflight.Group

	mu          sync.Mutex
	lastChecked map[string]time.Time
}

// New creates an engine.
func New[R any](identify Identify[R], cfg Config, logger zerolog.Logger) *Engine[R] {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine[R]{
		cfg:         cfg,
		identify:    identify,
		logger:      logger,
		lastChecked: make(map[string]time.Time),
	}
}

// Reconcile diffs cached against a fresh modified index and merges the deltas.
//
// When nothing changed no records are fetched. Fetch failures are logged and
// the cached collection is returned unchanged with Result.Err set.
func (e *Engine[R]) Reconcile(ctx context.Context, cached []R, fetchIndex IndexFetcher, fetchRecords RecordFetcher[R]) Result[R] {
	start := time.Now()
	defer func() {
		Duration.Observe(time.Since(start).Seconds())
	}()

	index, err := fetchIndex(ctx)
	if err != nil {
		err = zerr.With(fmt.Errorf("%w: %w", ErrIndexFetch, err), "cached", len(cached))
		return e.fail(cached, Plan{}, err)
	}

	plan := Diff(Index(cached, e.identify), index, e.cfg.IncludeNew)
	Records.WithLabelValues("outdated").Add(float64(len(plan.Outdated)))
	Records.WithLabelValues("deleted").Add(float64(len(plan.Deleted)))
	Records.WithLabelValues("new").Add(float64(len(plan.New)))

	if plan.Empty() {
		Runs.WithLabelValues("unchanged").Inc()
		e.logger.Debug().Int("records", len(cached)).Msg("Collection up to date")
		return Result[R]{Records: cached, Plan: plan}
	}

	var fetched []R
	if ids := plan.FetchIDs(); len(ids) > 0 {
		fetched, err = fetchRecords(ctx, ids)
		if err != nil {
			err = zerr.With(fmt.Errorf("%w: %w", ErrRecordFetch, err), "ids", len(ids))
			return e.fail(cached, plan, err)
		}
	}

	merged := Merge(cached, fetched, plan.Deleted, e.identify)
	Runs.WithLabelValues("changed").Inc()

	e.logger.Info().
		Int("outdated", len(plan.Outdated)).
		Int("deleted", len(plan.Deleted)).
		Int("new", len(plan.New)).
		Int("fetched", len(fetched)).
		Int("records", len(merged)).
		Msg("Collection reconciled")

	return Result[R]{Records: merged, Plan: plan, Changed: true}
}

func (e *Engine[R]) fail(cached []R, plan Plan, err error) Result[R] {
	Runs.WithLabelValues("failed").Inc()
	e.logger.Warn().Err(err).Msg("Reconciliation failed, keeping cached collection")
	return Result[R]{Records: cached, Plan: plan, Err: err}
}

// Refresh reconciles the collection cached at key and stores the result with
// ttl. It reports false without fetching anything when key is not cached; the
// caller must then do a full initial fetch. On failure the cached entry is
// left untouched.
func (e *Engine[R]) Refresh(ctx context.Context, r *orchestrator.Region[[]R], key string, fetchIndex IndexFetcher, fetchRecords RecordFetcher[R], ttl time.Duration) (Result[R], bool) {
	entry, ok := r.Peek(key)
	if !ok {
		Runs.WithLabelValues("skipped").Inc()
		e.logger.Debug().Str("key", key).Msg("Nothing cached, reconciliation skipped")
		return Result[R]{}, false
	}

	res := e.Reconcile(ctx, entry.Value, fetchIndex, fetchRecords)
	if res.Err == nil {
		r.Set(key, res.Records, ttl)
		e.markChecked(key)
	}
	return res, true
}

// GetOrSetTracked serves a collection from cache, reconciling it first when
// due, or performs a full fetch through orchestrator.GetOrSet when nothing is
// cached. Concurrent reconciliations of the same key share one pass.
//
// Reconciliation failures never surface as errors; only a failing full fetch does.
func (e *Engine[R]) GetOrSetTracked(ctx context.Context, r *orchestrator.Region[[]R], key string, fullFetch orchestrator.Producer[[]R], fetchIndex IndexFetcher, fetchRecords RecordFetcher[R], ttl time.Duration) ([]R, error) {
	if r.Has(key) {
		if !e.due(key) {
			if v, ok := r.Get(key); ok {
				return v, nil
			}
		} else {
			v, _, _ := e.group.Do(key, func() (any, error) {
				res, found := e.Refresh(ctx, r, key, fetchIndex, fetchRecords, ttl)
				if !found {
					return nil, nil
				}
				return res.Records, nil
			})
			if records, ok := v.([]R); ok {
				return records, nil
			}
		}
	}

	return orchestrator.GetOrSet(ctx, r, key, func(ctx context.Context) ([]R, error) {
		records, err := fullFetch(ctx)
		if err == nil {
			e.markChecked(key)
		}
		return records, err
	}, ttl)
}

// RefreshFunc adapts the engine to a scheduler refresh function: it performs a
// full fetch when key is not cached and a reconciliation pass otherwise. A
// failed pass is returned as an error so the scheduler keeps the old value.
func (e *Engine[R]) RefreshFunc(r *orchestrator.Region[[]R], key string, fullFetch orchestrator.Producer[[]R], fetchIndex IndexFetcher, fetchRecords RecordFetcher[R]) func(ctx context.Context) ([]R, error) {
	return func(ctx context.Context) ([]R, error) {
		entry, ok := r.Peek(key)
		if !ok {
			records, err := fullFetch(ctx)
			if err != nil {
				return nil, zerr.With(zerr.Wrap(err, "full fetch"), "key", key)
			}
			e.markChecked(key)
			return records, nil
		}

		res := e.Reconcile(ctx, entry.Value, fetchIndex, fetchRecords)
		if res.Err != nil {
			return nil, zerr.With(res.Err, "key", key)
		}
		e.markChecked(key)
		return res.Records, nil
	}
}

func (e *Engine[R]) due(key string) bool {
	if e.cfg.MinInterval <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastChecked[key]
	return !ok || e.cfg.Now().Sub(last) >= e.cfg.MinInterval
}

func (e *Engine[R]) markChecked(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastChecked[key] = e.cfg.Now()
}
