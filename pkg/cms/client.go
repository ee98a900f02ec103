// Package cms provides the HTTP client for the remote headless CMS, with
// rate limiting, retry with backoff and typed calls for projects and the
// reference collections.
package cms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/cms-cache/pkg/cache"
	"github.com/Sternrassler/cms-cache/pkg/logging"
	"github.com/Sternrassler/cms-cache/pkg/ratelimit"
)

// LanguageHeader carries the requested content language.
const LanguageHeader = "X-Language"

// maxErrorBody bounds how much of an error response is kept in APIError.Message.
const maxErrorBody = 512

// Paths are the CMS endpoints, relative to BaseURL.
type Paths struct {
	Projects  string `yaml:"projects"`
	Modified  string `yaml:"modified"`
	ByID      string `yaml:"by_id"`
	Locations string `yaml:"locations"`
	Formats   string `yaml:"formats"`
	Contexts  string `yaml:"contexts"`
}

// DefaultPaths returns the standard endpoint layout.
func DefaultPaths() Paths {
	return Paths{
		Projects:  "/api/projects",
		Modified:  "/api/projects/modified",
		ByID:      "/api/projects/by-id",
		Locations: "/2025/locations",
		Formats:   "/2025/formats",
		Contexts:  "/2025/contexts",
	}
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the CMS, e.g. "https://cms.example.org".
	BaseURL string

	// Auth is sent verbatim as Authorization header when set
	// (e.g. "Basic dXNlcjpwYXNz").
	Auth string

	// UserAgent header.
	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// MaxRetries after the first attempt.
	MaxRetries int

	// Backoff overrides the per-class backoff (default: RetryConfigForErrorClass).
	Backoff BackoffPolicy

	Paths Paths

	// RateLimitStore holds the rate limit state (default: in-memory).
	RateLimitStore ratelimit.StateStore

	// ThrottleDelay applied while the rate limit is in the warning range.
	ThrottleDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		UserAgent:  "cms-cache/1.0",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		Paths:      DefaultPaths(),
	}
}

// Client talks to the CMS.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	retry       retrier
	config      Config
	logger      zerolog.Logger
}

// New creates a new CMS client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "cms-cache/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Paths = withDefaultPaths(cfg.Paths)

	logger := logging.NewLogger("cms-client")

	rateLimiter := ratelimit.NewTracker(cfg.RateLimitStore, ratelimit.TrackerConfig{
		ThrottleDelay: cfg.ThrottleDelay,
	}, logger)

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     base,
		rateLimiter: rateLimiter,
		retry: retrier{
			policy:      cfg.Backoff,
			maxAttempts: cfg.MaxRetries + 1,
			logger:      logger,
		},
		config: cfg,
		logger: logger,
	}, nil
}

func withDefaultPaths(p Paths) Paths {
	d := DefaultPaths()
	if p.Projects == "" {
		p.Projects = d.Projects
	}
	if p.Modified == "" {
		p.Modified = d.Modified
	}
	if p.ByID == "" {
		p.ByID = d.ByID
	}
	if p.Locations == "" {
		p.Locations = d.Locations
	}
	if p.Formats == "" {
		p.Formats = d.Formats
	}
	if p.Contexts == "" {
		p.Contexts = d.Contexts
	}
	return p
}

// Do performs an HTTP request with rate limiting and retry. A response is
// only returned for 2xx statuses; any other final status is an *APIError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg("Request blocked by rate limiter")
		requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.Auth != "" {
		req.Header.Set("Authorization", c.config.Auth)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Str("language", req.Header.Get(LanguageHeader)).
		Msg("Executing CMS request")

	var resp *http.Response
	err = c.retry.do(ctx, func() error {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			c.logger.Warn().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			return reqErr
		}

		if err := c.rateLimiter.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		if resp.StatusCode < 300 {
			return nil
		}

		apiErr := responseError(resp, endpoint)
		errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.Class)).
			Msg("CMS request error")
		return apiErr
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// responseError reads (and closes) the body of a failed response.
func responseError(resp *http.Response, endpoint string) *APIError {
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = resp.Status
	}

	class := classifyStatus(resp.StatusCode)
	if class == "" {
		// 3xx responses are not followed further; treat as client error.
		class = ErrorClassClient
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Class:      class,
		Endpoint:   endpoint,
		Message:    message,
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// Get performs a GET request to a CMS path. A non-empty lang is sent as
// lower-case X-Language header.
func (c *Client) Get(ctx context.Context, path string, query url.Values, lang cache.Language) (*http.Response, error) {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if lang != "" {
		req.Header.Set(LanguageHeader, strings.ToLower(string(lang)))
	}

	return c.Do(req)
}

// RateLimitState returns the current rate limit state.
func (c *Client) RateLimitState(ctx context.Context) (*ratelimit.State, error) {
	return c.rateLimiter.GetState(ctx)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
