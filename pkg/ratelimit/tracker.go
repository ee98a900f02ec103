package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Rate limit headers, checked in this order.
var (
	remainingHeaders = []string{"RateLimit-Remaining", "X-RateLimit-Remaining"}
	resetHeaders     = []string{"RateLimit-Reset", "X-RateLimit-Reset"}
)

// DefaultThrottleDelay is the pause applied to requests in the warning range.
const DefaultThrottleDelay = time.Second

// resetEpochCutoff separates "seconds until reset" from a unix timestamp.
const resetEpochCutoff = 1_000_000_000

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cms_rate_limit_remaining",
		Help: "Number of requests remaining in the current CMS rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to critical rate limit",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to warning rate limit",
	})
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// ThrottleDelay applied in the warning range (default: 1s).
	ThrottleDelay time.Duration

	// Now overrides the clock (default: time.Now).
	Now func() time.Time
}

// Tracker monitors the remote rate limit and gates requests.
type Tracker struct {
	store  StateStore
	cfg    TrackerConfig
	logger zerolog.Logger
}

// NewTracker creates a new rate limit tracker. A nil store selects a MemoryStore.
func NewTracker(store StateStore, cfg TrackerConfig, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = DefaultThrottleDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// GetState returns the current state, or a default healthy state when none
// has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, ok, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate limit state: %w", err)
	}
	if !ok {
		t.logger.Debug().Msg("No rate limit state recorded, returning default healthy state")
		return defaultState(t.cfg.Now()), nil
	}
	return state, nil
}

// UpdateFromHeaders records the rate limit headers of a successful response.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	return t.UpdateFromResponse(ctx, http.StatusOK, headers)
}

// UpdateFromResponse records the rate limit headers of a response. A 429
// response drains the budget until Retry-After (or the reset header) passes.
// Responses without rate limit headers leave the state untouched.
func (t *Tracker) UpdateFromResponse(ctx context.Context, statusCode int, headers http.Header) error {
	now := t.cfg.Now()

	var state *State
	if statusCode == http.StatusTooManyRequests {
		wait, ok := parseRetryAfter(headers.Get("Retry-After"), now)
		if !ok {
			wait, ok = t.parseReset(headers, now)
		}
		if !ok {
			wait = DefaultResetWindow
		}
		state = &State{Remaining: 0, ResetAt: now.Add(wait), LastUpdate: now}
	} else {
		remainStr := firstHeader(headers, remainingHeaders)
		if remainStr == "" {
			return nil
		}

		remain, err := strconv.Atoi(remainStr)
		if err != nil {
			return fmt.Errorf("parse rate limit remaining header: %w", err)
		}

		wait, ok := t.parseReset(headers, now)
		if !ok {
			wait = DefaultResetWindow
		}
		state = &State{Remaining: remain, ResetAt: now.Add(wait), LastUpdate: now}
	}
	state.UpdateHealth()

	if err := t.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save rate limit state: %w", err)
	}

	rateLimitRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Int("status", statusCode).
			Msg("CMS rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("CMS rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("CMS rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request may be sent. It returns false when
// the budget is critical and the window has not reset yet. In the warning
// range it pauses for ThrottleDelay; a cancelled ctx ends the pause with an error.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.WindowElapsed(t.cfg.Now()) {
		return true, nil
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("CMS rate limit critical - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("delay", t.cfg.ThrottleDelay).
			Msg("CMS rate limit warning - throttling request")

		rateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(t.cfg.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}

func (t *Tracker) parseReset(headers http.Header, now time.Time) (time.Duration, bool) {
	resetStr := firstHeader(headers, resetHeaders)
	if resetStr == "" {
		return 0, false
	}

	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil || reset < 0 {
		t.logger.Debug().Str("value", resetStr).Msg("Ignoring malformed rate limit reset header")
		return 0, false
	}

	if reset >= resetEpochCutoff {
		wait := time.Unix(reset, 0).Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return time.Duration(reset) * time.Second, true
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		wait := at.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}

func firstHeader(headers http.Header, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(headers.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
