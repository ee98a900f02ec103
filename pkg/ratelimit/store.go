package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "cms:rate_limit:remaining"
	RedisKeyResetTimestamp = "cms:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "cms:rate_limit:last_update"
)

// StateStore persists the rate limit state. Load returns ok=false when no
// state has been saved yet.
type StateStore interface {
	Load(ctx context.Context) (state *State, ok bool, err error)
	Save(ctx context.Context, state *State) error
}

// MemoryStore keeps the state in process. It is the default store.
type MemoryStore struct {
	mu    sync.RWMutex
	state *State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored state.
func (m *MemoryStore) Load(_ context.Context) (*State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == nil {
		return nil, false, nil
	}
	s := *m.state
	return &s, true, nil
}

// Save replaces the stored state.
func (m *MemoryStore) Save(_ context.Context, state *State) error {
	s := *state

	m.mu.Lock()
	m.state = &s
	m.mu.Unlock()
	return nil
}

// RedisStore shares the state between replicas talking to the same CMS, so
// they spend one budget together. Only the rate limit state lives in Redis.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a store backed by the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// Load reads the state written by any replica.
func (r *RedisStore) Load(ctx context.Context) (*State, bool, error) {
	remaining, err := r.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := r.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := r.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, false, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &State{
		Remaining:  remaining,
		LastUpdate: lastUpdate,
	}
	if resetTimestamp > 0 {
		state.ResetAt = time.Unix(resetTimestamp, 0)
	}
	state.UpdateHealth()

	return state, true, nil
}

// Save writes all fields in one pipeline. Keys expire shortly after the
// window resets so a dead replica cannot leave a stale block behind.
func (r *RedisStore) Save(ctx context.Context, state *State) error {
	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	ttl := time.Until(state.ResetAt) + DefaultResetWindow
	if ttl <= 0 {
		ttl = DefaultResetWindow
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, ttl)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
