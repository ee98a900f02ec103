//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(ctx)
	})

	return client
}

func TestRedisStore_Integration_RoundTrip(t *testing.T) {
	client := setupRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	if _, ok, err := store.Load(ctx); ok || err != nil {
		t.Fatalf("Load() on empty redis = ok %v, err %v", ok, err)
	}

	saved := &State{
		Remaining:  12,
		ResetAt:    time.Now().Add(2 * time.Minute).Truncate(time.Second),
		LastUpdate: time.Now().UTC(),
	}
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load() = ok %v, err %v", ok, err)
	}
	if loaded.Remaining != 12 {
		t.Errorf("Remaining = %d, want 12", loaded.Remaining)
	}
	if !loaded.ResetAt.Equal(saved.ResetAt) {
		t.Errorf("ResetAt = %v, want %v", loaded.ResetAt, saved.ResetAt)
	}
	if !loaded.LastUpdate.Equal(saved.LastUpdate) {
		t.Errorf("LastUpdate = %v, want %v", loaded.LastUpdate, saved.LastUpdate)
	}
	if loaded.IsHealthy {
		t.Error("state with 12 remaining should not be healthy")
	}

	ttl, err := client.TTL(ctx, RedisKeyRemaining).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 {
		t.Errorf("remaining key TTL = %v, want an expiry", ttl)
	}
}

func TestTracker_Integration_SharedBudget(t *testing.T) {
	client := setupRedis(t)
	logger := zerolog.Nop()
	ctx := context.Background()

	// Two replicas sharing one Redis.
	first := NewTracker(NewRedisStore(client), TrackerConfig{}, logger)
	second := NewTracker(NewRedisStore(client), TrackerConfig{}, logger)

	headers := http.Header{}
	headers.Set("RateLimit-Remaining", "3")
	headers.Set("RateLimit-Reset", "60")
	if err := first.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	allowed, err := second.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("second replica allowed a request although the shared budget is critical")
	}
}

func TestTracker_Integration_ShouldAllowRequest_Warning(t *testing.T) {
	client := setupRedis(t)
	tracker := NewTracker(NewRedisStore(client), TrackerConfig{ThrottleDelay: 200 * time.Millisecond}, zerolog.Nop())
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("X-RateLimit-Remaining", "15")
	headers.Set("X-RateLimit-Reset", "60")
	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	start := time.Now()
	allowed, err := tracker.ShouldAllowRequest(ctx)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if !allowed {
		t.Error("ShouldAllowRequest() = false, want true for warning state")
	}
	if duration < 180*time.Millisecond {
		t.Errorf("ShouldAllowRequest() throttle duration = %v, want >= 200ms", duration)
	}
}

func TestTracker_Integration_StateReset(t *testing.T) {
	client := setupRedis(t)
	tracker := NewTracker(NewRedisStore(client), TrackerConfig{}, zerolog.Nop())
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("RateLimit-Remaining", "2")
	headers.Set("RateLimit-Reset", "2")
	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	if allowed, _ := tracker.ShouldAllowRequest(ctx); allowed {
		t.Fatal("request allowed in critical state")
	}

	time.Sleep(3 * time.Second)

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if !allowed {
		t.Error("request still blocked after the window reset")
	}
}
