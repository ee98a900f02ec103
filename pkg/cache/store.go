package cache

import (
	"container/list"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// DefaultMaxEntries is used when Options.MaxEntries is not positive.
const DefaultMaxEntries = 1000

// EvictReason describes why an entry left the store.
type EvictReason string

const (
	// EvictCapacity means the entry was the least recently used one when the store was full.
	EvictCapacity EvictReason = "capacity"

	// EvictExpired means the entry's TTL elapsed.
	EvictExpired EvictReason = "expired"

	// EvictDeleted means the entry was removed by Delete.
	EvictDeleted EvictReason = "deleted"

	// EvictInvalidated means the entry matched an invalidation pattern.
	EvictInvalidated EvictReason = "invalidated"

	// EvictCleared means the whole store was cleared.
	EvictCleared EvictReason = "cleared"
)

// Options configures a Store.
type Options struct {
	// Name identifies the region in logs, metrics and stats.
	Name string

	// MaxEntries bounds the number of entries (default: DefaultMaxEntries).
	MaxEntries int

	// DefaultTTL applies when Set is called without a TTL. Zero means entries
	// written without a TTL never expire.
	DefaultTTL time.Duration

	// Disabled makes every operation behave as if the store were empty.
	Disabled bool

	// Sliding extends an entry's expiry by its TTL on every successful Get.
	Sliding bool

	// OnEvict is notified after an entry has been removed. It runs outside
	// the store lock and must not be relied on for business logic.
	OnEvict func(key string, reason EvictReason)

	// Now overrides the clock (default: time.Now).
	Now func() time.Time
}

// Store is a concurrency-safe, capacity- and TTL-bounded map with LRU eviction.
//
// A map gives O(1) key lookup and a doubly-linked list keeps recency order
// (front = most recently used). Expiry is checked lazily on access.
type Store[T any] struct {
	mu sync.Mutex

	name       string
	maxEntries int
	defaultTTL time.Duration
	sliding    bool
	enabled    bool

	items map[string]*list.Element
	lru   *list.List

	onEvict func(key string, reason EvictReason)
	now     func() time.Time
}

type node[T any] struct {
	key   string
	entry Entry[T]
}

type eviction struct {
	key    string
	reason EvictReason
}

// NewStore creates an empty store.
func NewStore[T any](opts Options) *Store[T] {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Name == "" {
		opts.Name = "default"
	}

	return &Store[T]{
		name:       opts.Name,
		maxEntries: opts.MaxEntries,
		defaultTTL: opts.DefaultTTL,
		sliding:    opts.Sliding,
		enabled:    !opts.Disabled,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		onEvict:    opts.OnEvict,
		now:        opts.Now,
	}
}

// Name returns the region name.
func (s *Store[T]) Name() string {
	return s.name
}

// Set inserts or replaces the value for key.
//
// ttl <= 0 falls back to the store's default TTL. When the store is full the
// least recently used entry is evicted first. Set is a no-op on a disabled store.
func (s *Store[T]) Set(key string, value T, ttl time.Duration) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}

	now := s.now()
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	entry := Entry[T]{
		Value:    value,
		StoredAt: now,
		ttl:      ttl,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	var evicted []eviction
	if el, ok := s.items[key]; ok {
		el.Value.(*node[T]).entry = entry
		s.lru.MoveToFront(el)
	} else {
		evicted = s.makeRoomLocked(now)
		s.items[key] = s.lru.PushFront(&node[T]{key: key, entry: entry})
	}
	size := len(s.items)
	s.mu.Unlock()

	CacheEntries.WithLabelValues(s.name).Set(float64(size))
	s.notify(evicted)
}

// Get returns the value for key. Missing and expired keys report false.
// A hit refreshes recency and, for sliding stores, extends the expiry.
func (s *Store[T]) Get(key string) (T, bool) {
	var zero T

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		CacheMisses.WithLabelValues(s.name).Inc()
		return zero, false
	}

	el, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		CacheMisses.WithLabelValues(s.name).Inc()
		return zero, false
	}

	now := s.now()
	n := el.Value.(*node[T])
	if n.entry.IsExpired(now) {
		s.removeLocked(el)
		s.mu.Unlock()
		CacheMisses.WithLabelValues(s.name).Inc()
		s.notify([]eviction{{key: key, reason: EvictExpired}})
		return zero, false
	}

	if s.sliding && n.entry.ttl > 0 {
		refreshed := n.entry
		refreshed.ExpiresAt = now.Add(n.entry.ttl)
		n.entry = refreshed
	}
	s.lru.MoveToFront(el)
	value := n.entry.Value
	s.mu.Unlock()

	CacheHits.WithLabelValues(s.name).Inc()
	return value, true
}

// Peek returns the entry for key without touching recency or expiry.
func (s *Store[T]) Peek(key string) (Entry[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return Entry[T]{}, false
	}
	el, ok := s.items[key]
	if !ok {
		return Entry[T]{}, false
	}
	n := el.Value.(*node[T])
	if n.entry.IsExpired(s.now()) {
		return Entry[T]{}, false
	}
	return n.entry, true
}

// Has reports whether a live entry exists for key.
func (s *Store[T]) Has(key string) bool {
	_, ok := s.Peek(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (s *Store[T]) Delete(key string) bool {
	s.mu.Lock()
	el, ok := s.items[key]
	if ok {
		s.removeLocked(el)
	}
	size := len(s.items)
	s.mu.Unlock()

	if ok {
		CacheEntries.WithLabelValues(s.name).Set(float64(size))
		s.notify([]eviction{{key: key, reason: EvictDeleted}})
	}
	return ok
}

// Clear removes every entry.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	evicted := make([]eviction, 0, len(s.items))
	for key := range s.items {
		evicted = append(evicted, eviction{key: key, reason: EvictCleared})
	}
	s.items = make(map[string]*list.Element)
	s.lru.Init()
	s.mu.Unlock()

	CacheEntries.WithLabelValues(s.name).Set(0)
	s.notify(evicted)
}

// InvalidatePattern deletes every key matching re and returns how many were removed.
func (s *Store[T]) InvalidatePattern(re *regexp.Regexp) int {
	if re == nil {
		return 0
	}

	s.mu.Lock()
	var evicted []eviction
	for key, el := range s.items {
		if re.MatchString(key) {
			s.removeLocked(el)
			evicted = append(evicted, eviction{key: key, reason: EvictInvalidated})
		}
	}
	size := len(s.items)
	s.mu.Unlock()

	if len(evicted) > 0 {
		CacheEntries.WithLabelValues(s.name).Set(float64(size))
	}
	s.notify(evicted)
	return len(evicted)
}

// InvalidateFunc deletes every live entry for which match returns true.
// match runs under the store lock and must not call back into the store.
func (s *Store[T]) InvalidateFunc(match func(key string, value T) bool) int {
	if match == nil {
		return 0
	}

	s.mu.Lock()
	var evicted []eviction
	for key, el := range s.items {
		if match(key, el.Value.(*node[T]).entry.Value) {
			s.removeLocked(el)
			evicted = append(evicted, eviction{key: key, reason: EvictInvalidated})
		}
	}
	size := len(s.items)
	s.mu.Unlock()

	if len(evicted) > 0 {
		CacheEntries.WithLabelValues(s.name).Set(float64(size))
	}
	s.notify(evicted)
	return len(evicted)
}

// InvalidatePatternString compiles pattern and calls InvalidatePattern.
func (s *Store[T]) InvalidatePatternString(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("compile invalidation pattern: %w", err)
	}
	return s.InvalidatePattern(re), nil
}

// PurgeExpired removes all expired entries and returns how many were removed.
//
// Expiry is otherwise only checked on access, so entries that are written once
// and never read again stay resident until this runs or they are evicted.
func (s *Store[T]) PurgeExpired() int {
	s.mu.Lock()
	evicted := s.purgeExpiredLocked(s.now())
	size := len(s.items)
	s.mu.Unlock()

	if len(evicted) > 0 {
		CacheEntries.WithLabelValues(s.name).Set(float64(size))
	}
	s.notify(evicted)
	return len(evicted)
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return 0
	}
	return len(s.items)
}

// Keys returns live keys in MRU -> LRU order.
func (s *Store[T]) Keys() []string {
	entries := s.Entries()
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// Values returns live values in MRU -> LRU order.
func (s *Store[T]) Values() []T {
	entries := s.Entries()
	values := make([]T, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values
}

// Entries returns a snapshot of live entries in MRU -> LRU order.
func (s *Store[T]) Entries() []KeyedEntry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil
	}

	now := s.now()
	out := make([]KeyedEntry[T], 0, s.lru.Len())
	for el := s.lru.Front(); el != nil; el = el.Next() {
		n := el.Value.(*node[T])
		if n.entry.IsExpired(now) {
			continue
		}
		out = append(out, KeyedEntry[T]{Key: n.key, Entry: n.entry})
	}
	return out
}

// RemainingTTL returns the time left for key. Entries without expiry report -1.
func (s *Store[T]) RemainingTTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return 0, false
	}
	el, ok := s.items[key]
	if !ok {
		return 0, false
	}
	now := s.now()
	n := el.Value.(*node[T])
	if n.entry.IsExpired(now) {
		return 0, false
	}
	return n.entry.TTL(now), true
}

// SetEnabled toggles the store. Disabling does not drop entries; reads simply
// report nothing until the store is enabled again.
func (s *Store[T]) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports whether the store is active.
func (s *Store[T]) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Stats returns a diagnostic snapshot of the store.
func (s *Store[T]) Stats() RegionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := RegionStats{
		Name:       s.name,
		Size:       len(s.items),
		MaxEntries: s.maxEntries,
		DefaultTTL: s.defaultTTL,
		Enabled:    s.enabled,
		Keys:       make([]KeyTTL, 0, len(s.items)),
	}

	now := s.now()
	for el := s.lru.Front(); el != nil; el = el.Next() {
		n := el.Value.(*node[T])
		stats.Keys = append(stats.Keys, KeyTTL{
			Key:          n.key,
			RemainingTTL: n.entry.TTL(now),
			Age:          n.entry.Age(now),
		})
	}
	return stats
}

// makeRoomLocked frees one slot when the store is full. Expired entries are
// reclaimed before any live entry is evicted.
func (s *Store[T]) makeRoomLocked(now time.Time) []eviction {
	if len(s.items) < s.maxEntries {
		return nil
	}

	evicted := s.purgeExpiredLocked(now)
	for len(s.items) >= s.maxEntries {
		el := s.lru.Back()
		if el == nil {
			break
		}
		key := el.Value.(*node[T]).key
		s.removeLocked(el)
		evicted = append(evicted, eviction{key: key, reason: EvictCapacity})
	}
	return evicted
}

func (s *Store[T]) purgeExpiredLocked(now time.Time) []eviction {
	var evicted []eviction
	for key, el := range s.items {
		if el.Value.(*node[T]).entry.IsExpired(now) {
			s.removeLocked(el)
			evicted = append(evicted, eviction{key: key, reason: EvictExpired})
		}
	}
	return evicted
}

func (s *Store[T]) removeLocked(el *list.Element) {
	delete(s.items, el.Value.(*node[T]).key)
	s.lru.Remove(el)
}

func (s *Store[T]) notify(evicted []eviction) {
	for _, ev := range evicted {
		CacheEvictions.WithLabelValues(s.name, string(ev.reason)).Inc()
		if s.onEvict != nil {
			s.onEvict(ev.key, ev.reason)
		}
	}
}

// KeyTTL describes one key in RegionStats.
type KeyTTL struct {
	Key          string        `json:"key"`
	RemainingTTL time.Duration `json:"remaining_ttl"`
	Age          time.Duration `json:"age"`
}

// RegionStats is the diagnostic view of a store. It is never used for control flow.
type RegionStats struct {
	Name       string        `json:"name"`
	Size       int           `json:"size"`
	MaxEntries int           `json:"max_entries"`
	DefaultTTL time.Duration `json:"default_ttl"`
	Enabled    bool          `json:"enabled"`
	Keys       []KeyTTL      `json:"keys"`
}
