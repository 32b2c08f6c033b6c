package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the executor.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of remote call failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors. Not retried.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses, upstream rate limit payloads
	// and an open circuit breaker.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents a payload with an unexpected shape.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassPermanent represents an error explicitly marked with Permanent.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassCancelled represents a cancelled parent context.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassUnknown represents any other error. Treated as transient.
	ErrorClassUnknown ErrorClass = "unknown"
)

// RemoteError represents an upstream failure with additional context.
type RemoteError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("remote %s error", e.ErrorClass)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	msg = msg + ": " + e.Message
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ParseError reports a payload that could not be decoded into the expected shape.
// It is retried like any transient failure.
type ParseError struct {
	What string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %v", e.What, e.Err)
	}
	return "parse " + e.What
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Returns nil for a nil error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// CallError is the failure side of a Result: the key that triggered the call,
// how many attempts were made and the last error seen.
type CallError struct {
	Key      string
	Attempts int
	Class    ErrorClass
	Err      error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	return fmt.Sprintf("key %s failed after %d attempt(s) [%s]: %v", e.Key, e.Attempts, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CallError) Unwrap() error {
	return e.Err
}

// ClassOf classifies an error for retry decisions and observability.
// A *CallError keeps the class it was recorded with.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var call *CallError
	if errors.As(err, &call) && call.Class != "" {
		return call.Class
	}

	if errors.Is(err, ErrContextCancelled) {
		return ErrorClassCancelled
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return ErrorClassPermanent
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.ErrorClass
	}

	var parse *ParseError
	if errors.As(err, &parse) {
		return ErrorClassParse
	}

	if errors.Is(err, context.Canceled) {
		return ErrorClassCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassNetwork
	}

	return ErrorClassUnknown
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient, ErrorClassPermanent, ErrorClassCancelled:
		return false
	case "":
		return false
	default:
		return true
	}
}
