package fetch

import (
	"net/http"
	"sync/atomic"
	"time"
)

// CircuitState is the current breaker state.
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreakerConfig holds circuit breaker thresholds. Zero values take
// the defaults noted on each field.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening; default 5
	RecoveryTimeout  time.Duration // open duration before probing; default 60s
	SuccessThreshold int           // half-open successes before closing; default 2
}

// CircuitBreaker trips after consecutive downstream failures and rejects
// requests until a recovery probe succeeds. Safe for concurrent use.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       int64
	failures    int64
	lastFailure int64
	successes   int64
}

// NewCircuitBreaker creates a breaker with defaults applied.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	return &CircuitBreaker{
		config: config,
		state:  int64(StateClosed),
	}
}

// Allow reports whether a request may proceed, transitioning open to
// half-open once the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	now := time.Now().UnixNano()
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if now-lastFailure >= int64(cb.config.RecoveryTimeout) {
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
				atomic.StoreInt64(&cb.successes, 0)
				return true
			}
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordFailure counts a failed attempt, opening the circuit at the
// threshold or immediately from half-open.
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.lastFailure, time.Now().UnixNano())

	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		if atomic.AddInt64(&cb.failures, 1) >= int64(cb.config.FailureThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateOpen))
		}
	case StateOpen:
		// Only lastFailure moves while open.
	case StateHalfOpen:
		atomic.AddInt64(&cb.failures, 1)
		atomic.StoreInt64(&cb.state, int64(StateOpen))
		atomic.StoreInt64(&cb.successes, 0)
	}
}

// RecordSuccess counts a successful attempt, closing the circuit once the
// half-open success threshold is met.
func (cb *CircuitBreaker) RecordSuccess() {
	if CircuitState(atomic.LoadInt64(&cb.state)) != StateHalfOpen {
		return
	}
	if atomic.AddInt64(&cb.successes, 1) >= int64(cb.config.SuccessThreshold) {
		atomic.StoreInt64(&cb.state, int64(StateClosed))
		atomic.StoreInt64(&cb.failures, 0)
		atomic.StoreInt64(&cb.successes, 0)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

// Breaker wraps a CircuitBreaker as a pipeline stage. Transport errors and
// 5xx responses count as failures; an open circuit fails the call with a
// *RequestError wrapping ErrCircuitOpen. Place it inside the retry stage so
// retries probe the breaker per attempt.
func Breaker(cb *CircuitBreaker, metrics *MetricsCollector) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if !cb.Allow() {
			if metrics != nil {
				metrics.RecordError(ErrorTypeCircuitOpen, req.Method, endpointLabel(req))
			}
			return nil, &RequestError{
				Type:      ErrorTypeCircuitOpen,
				Message:   "circuit breaker is open",
				Cause:     ErrCircuitOpen,
				Method:    req.Method,
				URL:       req.URL.String(),
				Timestamp: time.Now(),
			}
		}

		resp, err := next.RoundTrip(req)

		if err != nil || (resp != nil && resp.StatusCode >= 500) {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
		if metrics != nil {
			metrics.RecordCircuitBreakerState("default", cb.State())
		}

		return resp, err
	}
}
