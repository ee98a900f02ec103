package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/cms-cache/pkg/cache"
	"github.com/Sternrassler/cms-cache/pkg/logging"
)

func newTestRegion[T any](t *testing.T) *Region[T] {
	t.Helper()
	return NewRegion[T](RegionConfig{Name: "test_" + t.Name(), MaxEntries: 100, DefaultTTL: time.Minute})
}

func TestGetOrSet_ProducerCalledOnce(t *testing.T) {
	r := newTestRegion[string](t)
	ctx := context.Background()

	var calls atomic.Int32
	produce := func(context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	v, err := GetOrSet(ctx, r, "k", produce, 0)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = GetOrSet(ctx, r, "k", produce, 0)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	assert.EqualValues(t, 1, calls.Load())
}

func TestGetOrSet_ConcurrentMissesShareProducer(t *testing.T) {
	r := newTestRegion[int](t)

	var calls atomic.Int32
	release := make(chan struct{})
	produce := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = GetOrSet(context.Background(), r, "k", produce, 0)
		}(i)
	}

	// Let every caller reach the in-flight producer before it completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetOrSet_ErrorPropagatedAndNotCached(t *testing.T) {
	r := newTestRegion[string](t)
	errBoom := errors.New("boom")

	_, err := GetOrSet(context.Background(), r, "k", func(context.Context) (string, error) {
		return "", errBoom
	}, 0)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, errBoom, err, "producer errors must not be wrapped")
	assert.False(t, r.Has("k"))

	v, err := GetOrSet(context.Background(), r, "k", func(context.Context) (string, error) {
		return "ok", nil
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGetOrSet_CallerCancellation(t *testing.T) {
	r := newTestRegion[string](t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	done := make(chan error, 1)
	go func() {
		_, err := GetOrSet(ctx, r, "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "late", nil
		}, 0)
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("GetOrSet did not return after cancellation")
	}
}

func TestGetOrSet_DisabledRegionBypasses(t *testing.T) {
	r := NewRegion[int](RegionConfig{Name: "test_disabled_bypass", Disabled: true})

	var calls int
	produce := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v1, err := GetOrSet(context.Background(), r, "k", produce, 0)
	require.NoError(t, err)
	v2, err := GetOrSet(context.Background(), r, "k", produce, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}

type countingFetcher struct {
	mu    sync.Mutex
	calls map[cache.Language]int
	err   error
}

func (f *countingFetcher) fetch(_ context.Context, lang cache.Language) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[cache.Language]int)
	}
	f.calls[lang]++
	if f.err != nil {
		return "", f.err
	}
	return "content-" + string(lang), nil
}

func (f *countingFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func TestPreloadBothLanguages(t *testing.T) {
	const base = "/api/projects?limit=-1"

	tests := []struct {
		name       string
		cached     []cache.Language
		wantCalls  int
		wantFetchB map[cache.Language]int
	}{
		{
			name:       "nothing cached",
			wantCalls:  2,
			wantFetchB: map[cache.Language]int{cache.LanguageDE: 1, cache.LanguageEN: 1},
		},
		{
			name:       "DE cached",
			cached:     []cache.Language{cache.LanguageDE},
			wantCalls:  1,
			wantFetchB: map[cache.Language]int{cache.LanguageEN: 1},
		},
		{
			name:      "both cached",
			cached:    []cache.Language{cache.LanguageDE, cache.LanguageEN},
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegion[string](t)
			for _, lang := range tt.cached {
				r.Set(cache.LanguageKey(base, lang), "content-"+string(lang), 0)
			}

			f := &countingFetcher{}
			got, err := PreloadBothLanguages(context.Background(), r, base, f.fetch, 0)
			require.NoError(t, err)

			assert.Equal(t, "content-DE", got.DE)
			assert.Equal(t, "content-EN", got.EN)
			assert.Equal(t, "content-DE", got.Get(cache.LanguageDE))
			assert.Equal(t, tt.wantCalls, f.total())
			for lang, n := range tt.wantFetchB {
				assert.Equal(t, n, f.calls[lang], "fetches for %s", lang)
			}

			presence := HasBothLanguages(r, base)
			assert.True(t, presence.Both)
		})
	}
}

func TestPreloadBothLanguages_Error(t *testing.T) {
	r := newTestRegion[string](t)
	errDown := errors.New("cms down")
	f := &countingFetcher{err: errDown}

	_, err := PreloadBothLanguages(context.Background(), r, "/api/projects", f.fetch, 0)
	require.ErrorIs(t, err, errDown)
	assert.False(t, HasBothLanguages(r, "/api/projects").DE)
}

func TestSwitchLanguageVersion(t *testing.T) {
	r := newTestRegion[string](t)
	r.Set(cache.LanguageKey("/api/projects", cache.LanguageDE), "de", 0)

	v, ok := SwitchLanguageVersion(r, "/api/projects", cache.LanguageDE)
	assert.True(t, ok)
	assert.Equal(t, "de", v)

	_, ok = SwitchLanguageVersion(r, "/api/projects", cache.LanguageEN)
	assert.False(t, ok)

	presence := HasBothLanguages(r, "/api/projects")
	assert.Equal(t, LanguagePresence{DE: true}, presence)
}

func TestGetLanguageVersion(t *testing.T) {
	r := newTestRegion[string](t)
	f := &countingFetcher{}

	v, err := GetLanguageVersion(context.Background(), r, "/api/projects", cache.LanguageEN, f.fetch, 0)
	require.NoError(t, err)
	assert.Equal(t, "content-EN", v)
	assert.True(t, r.Has("/api/projects?lang=EN"))

	_, err = GetLanguageVersion(context.Background(), r, "/api/projects", cache.LanguageEN, f.fetch, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, f.total())
}

func TestBatchSet(t *testing.T) {
	r := newTestRegion[int](t)

	BatchSet(r, []BatchEntry[int]{
		{Key: "a", Value: 1},
		{Key: "b", Value: 2, TTL: time.Hour},
	})

	v, ok := r.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, r.Store().Len())
}

func TestWarmUp(t *testing.T) {
	r := newTestRegion[string](t)
	r.Set("cached", "x", 0)

	fetch := func(_ context.Context, key string) (string, error) {
		if key == "broken" {
			return "", fmt.Errorf("fetch %s failed", key)
		}
		return "v-" + key, nil
	}

	result := WarmUp(context.Background(), r, []string{"cached", "a", "b", "broken"}, fetch, 0)

	assert.Equal(t, WarmUpResult{Requested: 4, Loaded: 2, Skipped: 1, Failed: 1}, result)
	assert.True(t, r.Has("a"))
	assert.True(t, r.Has("b"))
	assert.False(t, r.Has("broken"))
}

func TestStoreLogging_OneLinePerOperation(t *testing.T) {
	var buf bytes.Buffer
	logging.Setup(logging.Config{Level: logging.LevelDebug, Output: &buf})
	t.Cleanup(func() { logging.Setup(logging.DefaultConfig()) })

	r := newTestRegion[string](t)
	ctx := context.Background()

	// Direct and batched writes stay silent.
	r.Set("a", "1", 0)
	BatchSet(r, []BatchEntry[string]{{Key: "b", Value: "2"}, {Key: "c", Value: "3"}})
	assert.Equal(t, 0, bytes.Count(buf.Bytes(), []byte("Cache entry stored")))

	_, err := GetOrSet(ctx, r, "d", func(context.Context) (string, error) { return "4", nil }, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Cache entry stored")))
}
