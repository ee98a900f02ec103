// Package ratelimit tracks the remote CMS request budget and gates outgoing
// requests. It reads the RateLimit-Remaining and RateLimit-Reset headers (and
// their X- prefixed variants) plus Retry-After on 429 responses.
package ratelimit

import (
	"time"
)

// Thresholds for rate limit decisions.
const (
	// RemainingThresholdCritical blocks all requests when the remaining budget
	// falls below this value.
	RemainingThresholdCritical = 5

	// RemainingThresholdWarning applies throttling when the remaining budget
	// falls below this value.
	RemainingThresholdWarning = 20

	// RemainingThresholdHealthy indicates normal operation.
	RemainingThresholdHealthy = 50
)

// DefaultRemaining is assumed until the first response carries rate limit headers.
const DefaultRemaining = 100

// DefaultResetWindow is used when a response reports a remaining budget
// without a reset time.
const DefaultResetWindow = 60 * time.Second

// State represents the current remote rate limit state.
type State struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated from a response.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= RemainingThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// defaultState returns the optimistic state used before any headers were seen.
func defaultState(now time.Time) *State {
	return &State{
		Remaining:  DefaultRemaining,
		ResetAt:    now.Add(DefaultResetWindow),
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// WindowElapsed reports whether the reset time has passed. An elapsed window
// no longer restricts requests even though Remaining still shows the old value.
func (s *State) WindowElapsed(now time.Time) bool {
	return !s.ResetAt.IsZero() && !now.Before(s.ResetAt)
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < RemainingThresholdCritical
}

// NeedsThrottling returns true if requests should be throttled.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < RemainingThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingThresholdHealthy
}
