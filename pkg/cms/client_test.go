package cms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/cms-cache/pkg/cache"
	"github.com/Sternrassler/cms-cache/pkg/ratelimit"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()

	cfg := DefaultConfig(serverURL)
	cfg.Auth = "Basic dGVzdDp0ZXN0"
	cfg.Backoff = fastPolicy
	cfg.ThrottleDelay = time.Millisecond

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing base url",
			cfg:     Config{},
			wantErr: "base url is required",
		},
		{
			name:    "unsupported scheme",
			cfg:     Config{BaseURL: "ftp://cms.example.org"},
			wantErr: "must be http or https",
		},
		{
			name:    "negative retries",
			cfg:     Config{BaseURL: "https://cms.example.org", MaxRetries: -1},
			wantErr: "max_retries must be >= 0",
		},
		{
			name: "valid minimal config",
			cfg:  Config{BaseURL: "https://cms.example.org/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("New() error = %v", err)
				}
				if client.config.UserAgent == "" {
					t.Error("UserAgent default not applied")
				}
				if client.config.Paths != DefaultPaths() {
					t.Errorf("Paths = %+v, want defaults", client.config.Paths)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://cms.example.org")

	if cfg.BaseURL != "https://cms.example.org" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.MaxRetries)
	}
	if cfg.Paths.Projects != "/api/projects" {
		t.Errorf("Paths.Projects = %q", cfg.Paths.Projects)
	}
}

func TestDo_HeadersSet(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Get(context.Background(), "/api/projects", nil, cache.LanguageDE)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	if got.Get("User-Agent") != client.config.UserAgent {
		t.Errorf("User-Agent = %q, want %q", got.Get("User-Agent"), client.config.UserAgent)
	}
	if got.Get("Authorization") != "Basic dGVzdDp0ZXN0" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get(LanguageHeader) != "de" {
		t.Errorf("%s = %q, want de", LanguageHeader, got.Get(LanguageHeader))
	}
	if got.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
}

func TestDo_NoLanguageHeaderForReferenceData(t *testing.T) {
	var sawLanguage atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(LanguageHeader) != "" {
			sawLanguage.Store(true)
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.FetchLocations(context.Background()); err != nil {
		t.Fatalf("FetchLocations() error = %v", err)
	}
	if sawLanguage.Load() {
		t.Error("reference data request carried a language header")
	}
}

func TestDo_RateLimitBlock(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	store := ratelimit.NewMemoryStore()
	now := time.Now()
	if err := store.Save(context.Background(), &ratelimit.State{
		Remaining:  3,
		ResetAt:    now.Add(60 * time.Second),
		LastUpdate: now,
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cfg := DefaultConfig(server.URL)
	cfg.RateLimitStore = store
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.FetchProjects(context.Background(), cache.LanguageEN)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server was hit %d times while blocked", hits.Load())
	}
}

func TestDo_RateLimitHeadersRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "42")
		w.Header().Set("RateLimit-Reset", "30")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.FetchFormats(context.Background()); err != nil {
		t.Fatalf("FetchFormats() error = %v", err)
	}

	state, err := client.RateLimitState(context.Background())
	if err != nil {
		t.Fatalf("RateLimitState() error = %v", err)
	}
	if state.Remaining != 42 {
		t.Errorf("Remaining = %d, want 42", state.Remaining)
	}
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedClass ErrorClass
		expectedCalls int32
	}{
		{"404 client error, no retry", http.StatusNotFound, ErrorClassClient, 1},
		{"401 client error, no retry", http.StatusUnauthorized, ErrorClassClient, 1},
		{"500 server error, retried", http.StatusInternalServerError, ErrorClassServer, 3},
		{"503 server error, retried", http.StatusServiceUnavailable, ErrorClassServer, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte("boom"))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			_, err := client.FetchProjects(context.Background(), cache.LanguageEN)

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.Class != tt.expectedClass {
				t.Errorf("Class = %q, want %q", apiErr.Class, tt.expectedClass)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != "boom" {
				t.Errorf("Message = %q, want body text", apiErr.Message)
			}
			if calls.Load() != tt.expectedCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.expectedCalls)
			}
		})
	}
}

func TestDo_RetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"uuid":"a","modified":"1"}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	projects, err := client.FetchProjects(context.Background(), cache.LanguageEN)
	if err != nil {
		t.Fatalf("FetchProjects() failed: %v", err)
	}
	if len(projects) != 1 || projects[0].UUID != "a" {
		t.Errorf("projects = %+v", projects)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts (2 retries), got %d", attempts.Load())
	}
}

func TestDo_RetryOnRateLimit(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.FetchFormats(context.Background()); err != nil {
		t.Fatalf("FetchFormats() error = %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestDo_RetryExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.FetchProjects(context.Background(), cache.LanguageEN)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
}

func TestDo_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, url)
	_, err := client.FetchLocations(context.Background())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted after network failures", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("network failure reported as API error: %v", apiErr)
	}
}
