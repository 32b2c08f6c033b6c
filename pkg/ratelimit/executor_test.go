package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPermitPool_Default(t *testing.T) {
	assert.Equal(t, DefaultPermits, NewPermitPool(0).Size())
	assert.Equal(t, 3, NewPermitPool(3).Size())
}

func TestPermitPool_AcquireCancelled(t *testing.T) {
	pool := NewPermitPool(1)
	require.NoError(t, pool.Acquire(context.Background()))
	defer pool.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := pool.Acquire(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, pool.InUse())
}

func TestCall_Success(t *testing.T) {
	exec := NewExecutor(NewPermitPool(2), fastPolicy(), zerolog.Nop())

	res := Call(context.Background(), exec, "1", func(context.Context) ([]int, error) {
		return []int{10, 11}, nil
	})

	require.True(t, res.OK())
	assert.Equal(t, []int{10, 11}, res.Value)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "1", res.Key)
	assert.Equal(t, 0, exec.Pool().InUse())
}

func TestCall_FailsFourTimesThenSucceeds(t *testing.T) {
	exec := NewExecutor(NewPermitPool(1), fastPolicy(), zerolog.Nop())

	calls := 0
	res := Call(context.Background(), exec, "1", func(context.Context) (string, error) {
		calls++
		if calls < 5 {
			return "", errors.New("timeout")
		}
		return "ok", nil
	})

	require.True(t, res.OK())
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 5, res.Attempts)
}

func TestCall_AllAttemptsFail(t *testing.T) {
	exec := NewExecutor(NewPermitPool(1), fastPolicy(), zerolog.Nop())

	calls := 0
	res := Call(context.Background(), exec, "42", func(context.Context) (int, error) {
		calls++
		return 7, errors.New("boom")
	})

	require.False(t, res.OK())
	assert.Equal(t, 5, calls)
	assert.Zero(t, res.Value)

	var callErr *CallError
	require.ErrorAs(t, res.Err, &callErr)
	assert.Equal(t, "42", callErr.Key)
	assert.Equal(t, 5, callErr.Attempts)
	assert.Equal(t, ErrorClassUnknown, callErr.Class)
	assert.ErrorIs(t, res.Err, ErrRetryExhausted)
}

func TestCall_RecoversPanic(t *testing.T) {
	exec := NewExecutor(NewPermitPool(1), fastPolicy(), zerolog.Nop())

	calls := 0
	res := Call(context.Background(), exec, "9", func(context.Context) (int, error) {
		calls++
		panic("unexpected payload")
	})

	require.False(t, res.OK())
	assert.Equal(t, 1, calls)

	var callErr *CallError
	require.ErrorAs(t, res.Err, &callErr)
	assert.Equal(t, ErrorClassPermanent, callErr.Class)
	assert.Equal(t, 0, exec.Pool().InUse())
}

func TestCall_RespectsPermitLimit(t *testing.T) {
	const permits = 3
	exec := NewExecutor(NewPermitPool(permits), fastPolicy(), zerolog.Nop())

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Call(context.Background(), exec, "k", func(context.Context) (bool, error) {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return true, nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(permits))
	assert.Equal(t, 0, exec.Pool().InUse())
}

func TestCall_CancelledBeforeAcquire(t *testing.T) {
	exec := NewExecutor(NewPermitPool(1), fastPolicy(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	res := Call(ctx, exec, "1", func(context.Context) (int, error) {
		called = true
		return 1, nil
	})

	assert.False(t, called)
	require.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrContextCancelled)
	assert.Equal(t, ErrorClassCancelled, ClassOf(res.Err))
	assert.Equal(t, 0, exec.Pool().InUse())
}

func TestCall_CancelledDuringBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Minute, Strategy: BackoffQuadratic}
	exec := NewExecutor(NewPermitPool(1), policy, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	res := Call(ctx, exec, "42", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, &RemoteError{StatusCode: 503, ErrorClass: ErrorClassServer, Message: "unavailable"}
	})

	assert.Equal(t, 1, calls)
	require.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrContextCancelled)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, ErrorClassCancelled, ClassOf(res.Err))

	var callErr *CallError
	require.ErrorAs(t, res.Err, &callErr)
	assert.Equal(t, ErrorClassCancelled, callErr.Class)
	assert.Contains(t, res.Err.Error(), "[cancelled]")
	assert.Equal(t, 0, exec.Pool().InUse())
}
