package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geo_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// BackoffStrategy selects how the wait between attempts grows.
type BackoffStrategy string

const (
	// BackoffQuadratic waits BaseDelay * attempt^2.
	BackoffQuadratic BackoffStrategy = "quadratic"

	// BackoffExponential waits BaseDelay * 2^attempt.
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy holds the configuration for retry logic.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// BaseDelay is the unit the backoff strategy scales.
	BaseDelay time.Duration

	// MaxBackoff caps a single wait. Zero means uncapped.
	MaxBackoff time.Duration

	// Strategy is quadratic or exponential.
	Strategy BackoffStrategy

	// Jitter is the +/- fraction of randomness applied to each wait (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		Strategy:    BackoffQuadratic,
		Jitter:      0.2,
	}
}

// withDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Strategy == "" {
		p.Strategy = def.Strategy
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based), without jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch p.Strategy {
	case BackoffExponential:
		if attempt > 30 {
			attempt = 30
		}
		d = p.BaseDelay * time.Duration(int64(1)<<uint(attempt))
	default:
		d = p.BaseDelay * time.Duration(attempt*attempt)
	}

	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	factor := 1 - p.Jitter + rand.Float64()*2*p.Jitter
	return time.Duration(float64(d) * factor)
}

// retryWithBackoff executes fn until it succeeds, returns a non-retryable error
// or the policy's attempts are used up. It returns the number of attempts made.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, key string, logger zerolog.Logger, fn func(attempt int) error) (int, error) {
	var lastErr error
	var lastClass ErrorClass

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("key", key).
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err
		lastClass = ClassOf(err)

		if !shouldRetry(lastClass) {
			logger.Debug().
				Err(err).
				Str("key", key).
				Str("error_class", string(lastClass)).
				Msg("Non-retryable error")
			return attempt, err
		}

		if attempt >= policy.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(lastClass)).Inc()

		wait := policy.jittered(policy.Backoff(attempt))
		retryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(wait.Seconds())

		logger.Debug().
			Err(err).
			Str("key", key).
			Str("error_class", string(lastClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying call after backoff")

		select {
		case <-ctx.Done():
			logger.Warn().
				Str("key", key).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return attempt, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(wait):
		}
	}

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	logger.Error().
		Err(lastErr).
		Str("key", key).
		Str("error_class", string(lastClass)).
		Int("max_attempts", policy.MaxAttempts).
		Msg("Retry attempts exhausted")

	return policy.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, policy.MaxAttempts, lastErr)
}
