package fetch

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fgrzl/fetch-go/internal/backoff"
)

// ShouldRetryFunc decides whether a failed attempt is retried. It receives
// the response (nil on transport error), the transport error (nil when a
// response arrived) and the 1-based number of the retry being considered.
type ShouldRetryFunc func(resp *http.Response, err error, attempt int) bool

// OnRetryFunc observes a scheduled retry before the backoff wait. It must
// not block; a panic inside it is fatal to the call, nothing is swallowed.
type OnRetryFunc func(attempt int, delay time.Duration, resp *http.Response, err error)

// RetryConfig configures the retry stage. The zero value gives 3 retries
// with exponential backoff from 1s capped at 30s.
type RetryConfig struct {
	// MaxRetries bounds re-attempts; total invocations of the downstream
	// chain is MaxRetries+1. Zero takes the default of 3; negative disables
	// retries entirely.
	MaxRetries int

	// Delay is the base backoff duration.
	Delay time.Duration

	// MaxDelay caps every computed backoff, jitter included.
	MaxDelay time.Duration

	// Backoff selects the delay schedule. Defaults to backoff.Exponential.
	Backoff backoff.Strategy

	// Jitter in [0,1] adds up to Jitter*delay of uniform random wait.
	Jitter float64

	// ShouldRetry gates each retry. Default: transport error or 5xx.
	ShouldRetry ShouldRetryFunc

	// OnRetry is invoked once per scheduled retry, before the wait.
	OnRetry OnRetryFunc

	// RespectRetryAfter honors a Retry-After header on 429/503 responses
	// in place of the computed backoff, still capped at MaxDelay.
	RespectRetryAfter bool

	// Budget, if set, bounds retries process-wide across calls.
	Budget *RetryBudget

	Metrics *MetricsCollector
	Logger  Logger
}

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultMaxDelay   = 30 * time.Second
)

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Delay == 0 {
		c.Delay = defaultRetryDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Exponential{}
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = DefaultShouldRetry
	}
	return c
}

// DefaultShouldRetry retries transport errors and 5xx responses.
func DefaultShouldRetry(resp *http.Response, err error, attempt int) bool {
	if err != nil {
		return true
	}
	return resp != nil && resp.StatusCode >= 500
}

// Retry returns a middleware that re-invokes the entire downstream chain
// while the retry predicate holds, waiting out the configured backoff
// between attempts. The first 2xx response returns immediately. A
// non-retryable or exhausted response is returned as-is; an exhausted
// transport error is returned as a *RequestError of type Network. Backoff
// waits honor the request context.
//
// Because the retry loop sits around its next continuation rather than the
// raw transport, per-attempt side effects in inner stages (auth header
// recomputation, per-attempt rate limit charges) re-run on every attempt.
func Retry(config RetryConfig) Middleware {
	config = config.withDefaults()

	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		attempt := 0
		for {
			resp, err := next.RoundTrip(req)
			if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}

			if attempt >= config.MaxRetries || !config.ShouldRetry(resp, err, attempt+1) {
				return finalOutcome(config, req, resp, err, attempt)
			}

			if config.Budget != nil && !config.Budget.Allow() {
				if config.Metrics != nil {
					config.Metrics.RecordRetryBudgetExceeded(endpointLabel(req))
				}
				if config.Logger != nil {
					config.Logger.Warn("Retry budget exceeded", "method", req.Method, "url", req.URL.String())
				}
				drainBody(resp)
				return nil, &RequestError{
					Type:       ErrorTypeRetryBudgetExceeded,
					Message:    "retry budget exceeded",
					Cause:      ErrRetryBudgetExceeded,
					Method:     req.Method,
					URL:        req.URL.String(),
					Attempt:    attempt,
					MaxRetries: config.MaxRetries,
					Timestamp:  time.Now(),
				}
			}

			attempt++
			delay := config.Backoff.Delay(attempt, config.Delay, config.MaxDelay)
			if config.Jitter > 0 {
				delay = backoff.Jitter(delay, config.Jitter, config.MaxDelay)
			}
			if config.RespectRetryAfter && resp != nil {
				if ra := parseRetryAfter(resp.Header.Get("Retry-After"), resp.StatusCode); ra > 0 {
					if ra > config.MaxDelay {
						ra = config.MaxDelay
					}
					delay = ra
				}
			}

			if config.OnRetry != nil {
				config.OnRetry(attempt, delay, resp, err)
			}
			if config.Metrics != nil {
				config.Metrics.RecordRetry(req.Method, endpointLabel(req), attempt)
			}
			if config.Logger != nil {
				config.Logger.Info("Scheduling retry", "attempt", attempt, "maxRetries", config.MaxRetries, "backoff", delay, "url", req.URL.String())
			}

			// The failed response is never read by the caller; drain it so
			// the underlying connection can be reused.
			drainBody(resp)

			if waitErr := sleepBackoff(req, delay); waitErr != nil {
				return nil, waitErr
			}
		}
	}
}

func finalOutcome(config RetryConfig, req *http.Request, resp *http.Response, err error, attempt int) (*http.Response, error) {
	if err == nil {
		// Retries exhausted (or predicate declined) on a valued response:
		// hand it back rather than escalating to an error.
		return resp, nil
	}
	return nil, &RequestError{
		Type:       ErrorTypeNetwork,
		Message:    "network request failed",
		Cause:      err,
		Method:     req.Method,
		URL:        req.URL.String(),
		Attempt:    attempt,
		MaxRetries: config.MaxRetries,
		Timestamp:  time.Now(),
	}
}

func sleepBackoff(req *http.Request, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}

func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// parseRetryAfter parses a Retry-After header on 429/503 responses. Both
// delay-seconds and HTTP-date forms are supported; values above one hour
// are capped.
func parseRetryAfter(value string, statusCode int) time.Duration {
	if value == "" {
		return 0
	}
	if statusCode != http.StatusTooManyRequests && statusCode != http.StatusServiceUnavailable {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds <= 0 {
			return 0
		}
		d := time.Duration(seconds) * time.Second
		if d > time.Hour {
			d = time.Hour
		}
		return d
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d > 0 && d <= time.Hour {
			return d
		}
	}

	return 0
}

// RetryBudget bounds the total number of retries allowed per window across
// all calls sharing it, protecting downstreams from retry storms.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// NewRetryBudget allows at most maxRetries retries per window.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow reports whether another retry fits in the current window and
// charges it if so.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	if atomic.LoadInt64(&rb.current) >= rb.maxRetries {
		return false
	}
	return atomic.AddInt64(&rb.current, 1) <= rb.maxRetries
}
