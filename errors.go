package fetch

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the distinct failure channels.
var (
	// ErrRateLimited is returned when the rate limit stage denies a request.
	ErrRateLimited = errors.New("fetch: rate limited")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("fetch: circuit open")

	// ErrRetryBudgetExceeded is returned when the retry budget is exhausted.
	ErrRetryBudgetExceeded = errors.New("fetch: retry budget exceeded")
)

// Error type labels used in RequestError.Type.
const (
	ErrorTypeNetwork             = "Network"
	ErrorTypeServer              = "Server"
	ErrorTypeClient              = "Client"
	ErrorTypeRateLimit           = "RateLimit"
	ErrorTypeCircuitOpen         = "CircuitOpen"
	ErrorTypeRetryBudgetExceeded = "RetryBudgetExceeded"
	ErrorTypeValidation          = "Validation"
)

// RequestError is a structured failure surfaced to the caller. It carries
// enough request context to diagnose which call failed and how far the retry
// loop got.
type RequestError struct {
	Type       string
	Message    string
	Cause      error
	Method     string
	URL        string
	Attempt    int
	MaxRetries int
	StatusCode int
	Timestamp  time.Time
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types so errors.Is matches two RequestErrors of the
// same Type.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*RequestError); ok {
		return e.Type == t.Type
	}
	return false
}

// RateLimitError reports a denied request together with the wait the caller
// should observe before trying again. It wraps ErrRateLimited.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

// Error implements the error interface. The message always contains the
// phrase "Rate limit exceeded" so callers matching on text keep working.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("Rate limit exceeded for key %q: retry after %s", e.Key, e.RetryAfter)
}

// Unwrap lets errors.Is(err, ErrRateLimited) succeed.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// IsTransient reports whether an error represents a failure that might
// succeed on retry: network errors, 5xx responses, rate limiting and open
// circuits. Validation and other client errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Type {
		case ErrorTypeNetwork, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeClient:
			return reqErr.StatusCode == 429
		default:
			return false
		}
	}

	return false
}
