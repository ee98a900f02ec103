package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/cms-cache/pkg/cache"
)

// warmUpConcurrency bounds parallel fetches during WarmUp.
const warmUpConcurrency = 4

// Producer computes the value for a missing key.
type Producer[T any] func(ctx context.Context) (T, error)

// LanguageFetcher fetches the variant of a resource for one language.
type LanguageFetcher[T any] func(ctx context.Context, lang cache.Language) (T, error)

// KeyFetcher fetches the value for a cache key.
type KeyFetcher[T any] func(ctx context.Context, key string) (T, error)

// GetOrSet returns the cached value for key or populates it with produce.
//
// On a hit produce is never called. Concurrent misses on the same key share a
// single produce call; its error is returned unmodified to every waiter and
// nothing is stored. The producer runs detached from the caller's
// cancellation so that one waiter giving up does not fail the others; a
// cancelled caller returns ctx.Err() immediately.
func GetOrSet[T any](ctx context.Context, r *Region[T], key string, produce Producer[T], ttl time.Duration) (T, error) {
	var zero T

	if v, ok := r.store.Get(key); ok {
		r.logger.Debug().Str("key", key).Msg("Cache hit")
		return v, nil
	}
	r.logger.Debug().Str("key", key).Msg("Cache miss")

	ch := r.group.DoChan(key, func() (any, error) {
		// A flight that finished between our miss and this call may have
		// populated the key already.
		if e, ok := r.store.Peek(key); ok {
			return e.Value, nil
		}

		v, err := produce(context.WithoutCancel(ctx))
		if err != nil {
			ProducerCalls.WithLabelValues(r.Name(), "error").Inc()
			return nil, err
		}
		ProducerCalls.WithLabelValues(r.Name(), "success").Inc()

		r.store.Set(key, v, ttl)
		r.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cache entry stored")
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			SharedMisses.WithLabelValues(r.Name()).Inc()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// GetLanguageVersion is GetOrSet for the per-language key derived from baseKey.
func GetLanguageVersion[T any](ctx context.Context, r *Region[T], baseKey string, lang cache.Language, fetch LanguageFetcher[T], ttl time.Duration) (T, error) {
	return GetOrSet(ctx, r, cache.LanguageKey(baseKey, lang), func(ctx context.Context) (T, error) {
		return fetch(ctx, lang)
	}, ttl)
}

// Bilingual holds both language variants of one logical resource.
type Bilingual[T any] struct {
	DE T
	EN T
}

// Get returns the variant for lang.
func (b Bilingual[T]) Get(lang cache.Language) T {
	if lang == cache.LanguageDE {
		return b.DE
	}
	return b.EN
}

func (b *Bilingual[T]) set(lang cache.Language, v T) {
	if lang == cache.LanguageDE {
		b.DE = v
		return
	}
	b.EN = v
}

// PreloadBothLanguages makes sure both language variants of baseKey are cached.
// Only missing variants are fetched (in parallel); cached ones are reused as is.
func PreloadBothLanguages[T any](ctx context.Context, r *Region[T], baseKey string, fetch LanguageFetcher[T], ttl time.Duration) (Bilingual[T], error) {
	var out Bilingual[T]

	g, gctx := errgroup.WithContext(ctx)
	for _, lang := range cache.Languages {
		key := cache.LanguageKey(baseKey, lang)
		if v, ok := r.store.Get(key); ok {
			out.set(lang, v)
			continue
		}

		g.Go(func() error {
			v, err := GetOrSet(gctx, r, key, func(ctx context.Context) (T, error) {
				return fetch(ctx, lang)
			}, ttl)
			if err != nil {
				return fmt.Errorf("preload %s: %w", lang, err)
			}
			// DE and EN are distinct fields, so the two goroutines never write the same memory.
			out.set(lang, v)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Bilingual[T]{}, err
	}

	r.logger.Debug().Str("key", baseKey).Msg("Both languages preloaded")
	return out, nil
}

// SwitchLanguageVersion returns the cached variant of baseKey for lang without
// fetching anything.
func SwitchLanguageVersion[T any](r *Region[T], baseKey string, lang cache.Language) (T, bool) {
	return r.store.Get(cache.LanguageKey(baseKey, lang))
}

// LanguagePresence reports which language variants of a resource are cached.
type LanguagePresence struct {
	DE   bool `json:"de"`
	EN   bool `json:"en"`
	Both bool `json:"both"`
}

// HasBothLanguages checks which variants of baseKey are cached.
func HasBothLanguages[T any](r *Region[T], baseKey string) LanguagePresence {
	p := LanguagePresence{
		DE: r.store.Has(cache.LanguageKey(baseKey, cache.LanguageDE)),
		EN: r.store.Has(cache.LanguageKey(baseKey, cache.LanguageEN)),
	}
	p.Both = p.DE && p.EN
	return p
}

// BatchEntry is one item for BatchSet.
type BatchEntry[T any] struct {
	Key   string
	Value T
	TTL   time.Duration
}

// BatchSet stores several entries at once.
func BatchSet[T any](r *Region[T], entries []BatchEntry[T]) {
	for _, e := range entries {
		r.store.Set(e.Key, e.Value, e.TTL)
	}
	r.logger.Debug().Int("count", len(entries)).Msg("Batch stored")
}

// WarmUpResult summarizes a WarmUp run.
type WarmUpResult struct {
	Requested int `json:"requested"`
	Loaded    int `json:"loaded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// WarmUp fetches every key not yet cached. Failures are logged and counted but
// never returned; warm-up is best effort.
func WarmUp[T any](ctx context.Context, r *Region[T], keys []string, fetch KeyFetcher[T], ttl time.Duration) WarmUpResult {
	var loaded, skipped, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(warmUpConcurrency)

	for _, key := range keys {
		if r.store.Has(key) {
			skipped.Add(1)
			WarmUpEntries.WithLabelValues(r.Name(), "skipped").Inc()
			continue
		}

		g.Go(func() error {
			_, err := GetOrSet(ctx, r, key, func(ctx context.Context) (T, error) {
				return fetch(ctx, key)
			}, ttl)
			if err != nil {
				failed.Add(1)
				WarmUpEntries.WithLabelValues(r.Name(), "failed").Inc()
				r.logger.Warn().Err(err).Str("key", key).Msg("Cache warm-up failed")
				return nil
			}
			loaded.Add(1)
			WarmUpEntries.WithLabelValues(r.Name(), "loaded").Inc()
			return nil
		})
	}
	_ = g.Wait()

	result := WarmUpResult{
		Requested: len(keys),
		Loaded:    int(loaded.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}

	r.logger.Info().
		Int("requested", result.Requested).
		Int("loaded", result.Loaded).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Cache warm-up completed")

	return result
}
