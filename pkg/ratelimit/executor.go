package ratelimit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Result is the outcome of one Call. Exactly one of Value or Err is meaningful:
// Err is nil on success and a *CallError otherwise.
type Result[T any] struct {
	Key      string
	Value    T
	Err      error
	Attempts int
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Executor runs remote calls under a shared PermitPool with a retry policy.
type Executor struct {
	pool   *PermitPool
	policy RetryPolicy
	logger zerolog.Logger
}

// NewExecutor creates an Executor. A nil pool gets a fresh pool of DefaultPermits.
func NewExecutor(pool *PermitPool, policy RetryPolicy, logger zerolog.Logger) *Executor {
	if pool == nil {
		pool = NewPermitPool(DefaultPermits)
	}
	return &Executor{
		pool:   pool,
		policy: policy.withDefaults(),
		logger: logger,
	}
}

// Pool returns the executor's permit pool.
func (e *Executor) Pool() *PermitPool {
	return e.pool
}

// Policy returns the effective retry policy.
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Call runs fn for key with at most one permit held for the whole retry loop,
// backoff waits included. It never panics: a panic in fn becomes a permanent
// failure. Failures are reported through Result.Err, never returned separately.
func Call[T any](ctx context.Context, e *Executor, key string, fn func(ctx context.Context) (T, error)) Result[T] {
	res := Result[T]{Key: key}

	if err := e.pool.Acquire(ctx); err != nil {
		res.Err = &CallError{
			Key:   key,
			Class: ErrorClassCancelled,
			Err:   fmt.Errorf("%w: %w", ErrContextCancelled, err),
		}
		return res
	}
	defer e.pool.Release()

	attempts, err := retryWithBackoff(ctx, e.policy, key, e.logger, func(attempt int) (callErr error) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().
					Str("key", key).
					Int("attempt", attempt).
					Interface("panic", r).
					Msg("Recovered panic in remote call")
				callErr = Permanent(fmt.Errorf("panic: %v", r))
			}
		}()

		v, err := fn(ctx)
		if err != nil {
			return err
		}
		res.Value = v
		return nil
	})

	res.Attempts = attempts
	if err != nil {
		var zero T
		res.Value = zero
		res.Err = &CallError{
			Key:      key,
			Attempts: attempts,
			Class:    ClassOf(err),
			Err:      err,
		}
	}
	return res
}
