package cms

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// BackoffPolicy selects the retry configuration for an error class.
type BackoffPolicy func(ErrorClass) RetryConfig

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass returns the retry configuration for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassServer:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassRateLimit:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassNetwork:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// backoff returns the un-jittered wait before retry number attempt (1-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1)))
	if c.MaxBackoff > 0 && (d > c.MaxBackoff || d < 0) {
		d = c.MaxBackoff
	}
	return d
}

// retrier runs a request with exponential backoff. The error of every
// attempt is classified on its own, so a request that first fails on the
// network and then with a 503 uses the server backoff for the second wait.
type retrier struct {
	policy BackoffPolicy

	// maxAttempts overrides the per-class MaxAttempts when positive.
	maxAttempts int

	logger zerolog.Logger
}

func (r retrier) config(class ErrorClass) RetryConfig {
	policy := r.policy
	if policy == nil {
		policy = RetryConfigForErrorClass
	}
	cfg := policy(class)
	if r.maxAttempts > 0 {
		cfg.MaxAttempts = r.maxAttempts
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return cfg
}

// do executes fn until it succeeds, fails with a non-retryable error, the
// attempts of the current error class are used up, or ctx is done.
func (r retrier) do(ctx context.Context, fn func() error) error {
	var (
		lastErr error
		class   ErrorClass
		attempt int
	)

	for attempt = 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info().
					Str("error_class", string(class)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
		}

		class = classifyError(err)
		if !shouldRetry(class) {
			return lastErr
		}

		cfg := r.config(class)
		if attempt >= cfg.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()

		// ±20% jitter
		wait := time.Duration(float64(cfg.backoff(attempt)) * (0.8 + rand.Float64()*0.4))

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > wait {
			wait = apiErr.RetryAfter
			if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
				wait = cfg.MaxBackoff
			}
		}
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		r.logger.Debug().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	r.logger.Warn().
		Err(lastErr).
		Str("error_class", string(class)).
		Int("attempts", attempt).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, lastErr)
}
