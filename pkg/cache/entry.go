package cache

import (
	"time"
)

// Entry is one cached value together with its bookkeeping timestamps.
// Entries are replaced wholesale on update and never mutated in place.
type Entry[T any] struct {
	// Value is the cached payload.
	Value T

	// StoredAt is when the value was written by Set.
	StoredAt time.Time

	// ExpiresAt is when the entry becomes invalid. The zero time means the
	// entry never expires.
	ExpiresAt time.Time

	// ttl is the lifetime granted by Set; sliding reads extend by this amount.
	ttl time.Duration
}

// IsExpired reports whether the entry has expired at the given instant.
func (e *Entry[T]) IsExpired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return !e.ExpiresAt.After(now)
}

// TTL returns the time left until expiration at the given instant.
// Returns 0 if already expired and -1 if the entry never expires.
func (e *Entry[T]) TTL(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return -1
	}
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the value was stored.
func (e *Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// KeyedEntry pairs an entry with its key for snapshot iteration.
type KeyedEntry[T any] struct {
	Key string
	Entry[T]
}
