//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/cms-cache/internal/content"
	mockcms "github.com/Sternrassler/cms-cache/internal/testutil"
	"github.com/Sternrassler/cms-cache/pkg/cache"
	"github.com/Sternrassler/cms-cache/pkg/cms"
	"github.com/Sternrassler/cms-cache/pkg/metrics"
	"github.com/Sternrassler/cms-cache/pkg/orchestrator"
	"github.com/Sternrassler/cms-cache/pkg/ratelimit"
	"github.com/Sternrassler/cms-cache/pkg/reconcile"
	"github.com/Sternrassler/cms-cache/pkg/scheduler"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// fastBackoff keeps retry tests quick.
func fastBackoff(cms.ErrorClass) cms.RetryConfig {
	return cms.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func newClient(t *testing.T, mock *mockcms.MockCMS, store ratelimit.StateStore, maxRetries int) *cms.Client {
	t.Helper()

	c, err := cms.New(cms.Config{
		BaseURL:        mock.URL(),
		Paths:          mock.Paths(),
		MaxRetries:     maxRetries,
		Backoff:        fastBackoff,
		RateLimitStore: store,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func newService(t *testing.T, remote content.Remote, ttl time.Duration) *content.Service {
	t.Helper()

	svc, err := content.New(remote, content.Config{
		Enabled:   true,
		Projects:  orchestrator.RegionConfig{Name: content.RegionProjects, MaxEntries: 10, DefaultTTL: ttl},
		Project:   orchestrator.RegionConfig{Name: content.RegionProject, MaxEntries: 10, DefaultTTL: ttl},
		Filters:   orchestrator.RegionConfig{Name: content.RegionFilters, MaxEntries: 10, DefaultTTL: ttl},
		Refresh:   scheduler.TaskConfig{Interval: time.Hour},
		Reconcile: reconcile.Config{IncludeNew: true},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Close(ctx)
	})
	return svc
}

func seed(mock *mockcms.MockCMS) {
	mock.PutProject(mockcms.MockProject{UUID: "p1", Modified: "1", TitleDE: "Eins", TitleEN: "One"})
	mock.PutProject(mockcms.MockProject{UUID: "p2", Modified: "1", TitleDE: "Zwei", TitleEN: "Two"})
}

// TestFullRequestFlow tests the complete flow: Rate Limit → CMS → Cache → Reconcile.
func TestFullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := mockcms.NewMockCMS()
	defer mock.Close()
	seed(mock)

	svc := newService(t, newClient(t, mock, ratelimit.NewRedisStore(redisClient), 2), time.Minute)
	ctx := context.Background()

	projects, err := svc.Projects(ctx, cache.LanguageDE)
	if err != nil {
		t.Fatalf("Projects failed: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("Projects = %d, want 2", len(projects))
	}
	if mock.RequestCount(mock.Paths().Projects) != 1 {
		t.Errorf("Full fetches = %d, want 1", mock.RequestCount(mock.Paths().Projects))
	}

	// Rate limit state lands in Redis
	remaining, err := redisClient.Get(ctx, ratelimit.RedisKeyRemaining).Int()
	if err != nil {
		t.Fatalf("Rate limit state not in Redis: %v", err)
	}
	if remaining != 100 {
		t.Errorf("Remaining = %d, want 100", remaining)
	}

	// A change is picked up by the next reconciliation without a full fetch
	mock.PutProject(mockcms.MockProject{UUID: "p2", Modified: "2", TitleDE: "Zwei neu", TitleEN: "Two new"})

	projects, err = svc.Projects(ctx, cache.LanguageDE)
	if err != nil {
		t.Fatalf("Projects failed: %v", err)
	}
	if !strings.Contains(string(projects[1].Raw), "Zwei neu") {
		t.Errorf("Project p2 = %s, want updated title", projects[1].Raw)
	}
	if mock.RequestCount(mock.Paths().Projects) != 1 {
		t.Errorf("Full fetches = %d, want 1 (reconcile only)", mock.RequestCount(mock.Paths().Projects))
	}
	if got := mock.LastByIDQuery(); len(got) != 1 || got[0] != "p2" {
		t.Errorf("By-id query = %v, want [p2]", got)
	}
}

// TestBothLanguages tests that both language versions are cached side by side.
func TestBothLanguages(t *testing.T) {
	mock := mockcms.NewMockCMS()
	defer mock.Close()
	seed(mock)

	svc := newService(t, newClient(t, mock, nil, 0), time.Minute)

	both, err := svc.ProjectsBothLanguages(context.Background())
	if err != nil {
		t.Fatalf("ProjectsBothLanguages failed: %v", err)
	}
	if !strings.Contains(string(both.Get(cache.LanguageDE)[0].Raw), "Eins") {
		t.Errorf("DE = %s, want German title", both.Get(cache.LanguageDE)[0].Raw)
	}
	if !strings.Contains(string(both.Get(cache.LanguageEN)[0].Raw), "One") {
		t.Errorf("EN = %s, want English title", both.Get(cache.LanguageEN)[0].Raw)
	}
	if !svc.Stats().Languages.Both {
		t.Error("Expected both languages cached")
	}
}

// TestRateLimitSharedAcrossClients tests that a 429 seen by one client blocks
// another client sharing the same Redis state.
func TestRateLimitSharedAcrossClients(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := mockcms.NewMockCMS()
	defer mock.Close()
	mock.SetResponse(mock.Paths().Projects, mockcms.NewRateLimitResponse("60"))

	ctx := context.Background()
	first := newClient(t, mock, ratelimit.NewRedisStore(redisClient), 0)

	_, err := first.FetchProjects(ctx, cache.LanguageEN)
	var apiErr *cms.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("First request error = %v, want 429 APIError", err)
	}

	second := newClient(t, mock, ratelimit.NewRedisStore(redisClient), 0)
	_, err = second.FetchProjects(ctx, cache.LanguageEN)
	if !errors.Is(err, cms.ErrRateLimited) {
		t.Fatalf("Second client error = %v, want ErrRateLimited", err)
	}

	if mock.TotalRequests() != 1 {
		t.Errorf("CMS requests = %d, want 1 (second client blocked)", mock.TotalRequests())
	}
}

// TestRetry5xxErrors tests that 5xx errors trigger retries.
func TestRetry5xxErrors(t *testing.T) {
	mock := mockcms.NewMockCMS()
	defer mock.Close()
	seed(mock)

	var attempts atomic.Int32
	mock.SetHandler(mock.Paths().Modified, func(w http.ResponseWriter, r *http.Request) {
		// First 2 attempts fail with 500
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "server error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"uuid":"p1","modified":"1"}]`))
	})

	c := newClient(t, mock, nil, 2)

	index, err := c.FetchModifiedIndex(context.Background())
	if err != nil {
		t.Fatalf("Request failed after retries: %v", err)
	}
	if len(index) != 1 || index[0].ID != "p1" {
		t.Errorf("Index = %+v, want [p1]", index)
	}
	if attempts.Load() != 3 {
		t.Errorf("Request attempts = %d, want 3 (2 retries + 1 success)", attempts.Load())
	}
}

// TestNoRetry4xxErrors tests that 4xx errors do NOT trigger retries.
func TestNoRetry4xxErrors(t *testing.T) {
	mock := mockcms.NewMockCMS()
	defer mock.Close()

	mock.SetResponse(mock.Paths().Locations, mockcms.MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "not found"}`,
	})

	c := newClient(t, mock, nil, 3)

	_, err := c.FetchLocations(context.Background())
	var apiErr *cms.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("Error = %v, want 404 APIError", err)
	}

	// Should only make 1 request (no retries)
	if mock.RequestCount(mock.Paths().Locations) != 1 {
		t.Errorf("CMS requests = %d, want 1 (no retries for 4xx)", mock.RequestCount(mock.Paths().Locations))
	}
}

// TestMetricsIncremented tests that client metrics are exported.
func TestMetricsIncremented(t *testing.T) {
	mock := mockcms.NewMockCMS()
	defer mock.Close()
	seed(mock)

	c := newClient(t, mock, nil, 0)
	if _, err := c.FetchProjects(context.Background(), cache.LanguageEN); err != nil {
		t.Fatalf("FetchProjects failed: %v", err)
	}

	count, err := testutil.GatherAndCount(metrics.Gatherer, "cms_client_requests_total")
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if count == 0 {
		t.Error("Expected cms_client_requests_total to be exported")
	}
}

// TestCacheExpiration tests that an expired collection is fetched again.
func TestCacheExpiration(t *testing.T) {
	mock := mockcms.NewMockCMS()
	defer mock.Close()
	seed(mock)

	svc := newService(t, newClient(t, mock, nil, 0), 100*time.Millisecond)
	ctx := context.Background()

	if _, err := svc.Projects(ctx, cache.LanguageEN); err != nil {
		t.Fatalf("Projects failed: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := svc.Projects(ctx, cache.LanguageEN); err != nil {
		t.Fatalf("Projects failed: %v", err)
	}
	if mock.RequestCount(mock.Paths().Projects) != 2 {
		t.Errorf("Full fetches = %d, want 2 (entry expired)", mock.RequestCount(mock.Paths().Projects))
	}
}
