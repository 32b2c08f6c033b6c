package eutils

import (
	"errors"
	"time"

	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// newBreaker trips when at least BreakerMinRequests attempts were seen in the
// current window and the failure ratio reaches BreakerFailureRate.
// Client errors are authoritative answers and count as successes.
func newBreaker(name string, cfg Config, logger zerolog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	minRequests := cfg.BreakerMinRequests
	if minRequests == 0 {
		minRequests = 20
	}
	failureRate := cfg.BreakerFailureRate
	if failureRate <= 0 || failureRate > 1 {
		failureRate = 0.6
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= failureRate
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var remote *ratelimit.RemoteError
			if errors.As(err, &remote) {
				return remote.ErrorClass == ratelimit.ErrorClassClient ||
					remote.ErrorClass == ratelimit.ErrorClassCancelled
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
