package fetch

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// OnRateLimitExceededFunc is consulted when a request is denied. Returning a
// non-nil response short-circuits the pipeline with that response; the
// request never reaches downstream stages. Returning nil forwards the
// request anyway, making the limiter advisory for that call.
type OnRateLimitExceededFunc func(retryAfter time.Duration, req *http.Request) *http.Response

// RateLimitConfig configures the token bucket stage. The zero value allows
// 60 requests per minute through one global bucket.
type RateLimitConfig struct {
	// MaxRequests is the bucket capacity: the number of requests a full
	// window refills.
	MaxRequests int

	// Window is the time it takes an empty bucket to refill completely.
	// Refill is continuous; there are no window-boundary resets.
	Window time.Duration

	// KeyFunc maps a request to its bucket. Nil uses one global bucket.
	// Buckets are created lazily per key and never evicted, so an unbounded
	// key space grows the bucket map without bound; supply a bounded key
	// space for long-lived processes.
	KeyFunc KeyFunc

	// SkipPatterns lists URL substrings that bypass rate limiting entirely.
	// A matching request is neither checked nor charged.
	SkipPatterns []string

	// OnRateLimitExceeded overrides the default denial error.
	OnRateLimitExceeded OnRateLimitExceededFunc

	Metrics *MetricsCollector
	Logger  Logger
}

const (
	defaultMaxRequests = 60
	defaultWindow      = time.Minute
	globalBucketKey    = "global"
)

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = defaultMaxRequests
	}
	if c.Window == 0 {
		c.Window = defaultWindow
	}
	return c
}

// RateLimit returns a middleware bounding throughput per key with a
// continuously refilling token bucket. Denied requests fail with a
// *RateLimitError (message contains "Rate limit exceeded") unless
// OnRateLimitExceeded is set.
func RateLimit(config RateLimitConfig) Middleware {
	return rateLimitMiddleware(config, time.Now)
}

func rateLimitMiddleware(config RateLimitConfig, now func() time.Time) Middleware {
	config = config.withDefaults()
	registry := newBucketRegistry(config.MaxRequests, config.Window, now)

	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		url := req.URL.String()
		for _, pattern := range config.SkipPatterns {
			if strings.Contains(url, pattern) {
				return next.RoundTrip(req)
			}
		}

		key := globalBucketKey
		if config.KeyFunc != nil {
			key = config.KeyFunc(req)
		}

		allowed, retryAfter, remaining := registry.consume(key)
		if config.Metrics != nil {
			config.Metrics.RecordRateLimiterTokens(key, remaining)
		}

		if !allowed {
			if config.Metrics != nil {
				config.Metrics.RecordRateLimitDenied(key)
			}
			if config.Logger != nil {
				config.Logger.Warn("Rate limit exceeded", "key", key, "retryAfter", retryAfter, "url", url)
			}
			if config.OnRateLimitExceeded != nil {
				if resp := config.OnRateLimitExceeded(retryAfter, req); resp != nil {
					return resp, nil
				}
				return next.RoundTrip(req)
			}
			return nil, &RateLimitError{Key: key, RetryAfter: retryAfter}
		}

		return next.RoundTrip(req)
	}
}

// NewRateLimitResponse builds the conventional 429 response for use from an
// OnRateLimitExceeded hook, with Retry-After expressed in whole seconds
// rounded up.
func NewRateLimitResponse(req *http.Request, retryAfter time.Duration) *http.Response {
	header := http.Header{}
	header.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	return &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Status:     "429 Too Many Requests",
		Header:     header,
		Body:       http.NoBody,
		Request:    req,
	}
}

// bucketRegistry owns the per-key token buckets. Buckets are created on
// first use and live for the lifetime of the stage.
type bucketRegistry struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	capacity float64
	window   time.Duration
	now      func() time.Time
}

func newBucketRegistry(maxRequests int, window time.Duration, now func() time.Time) *bucketRegistry {
	return &bucketRegistry{
		buckets:  make(map[string]*tokenBucket),
		capacity: float64(maxRequests),
		window:   window,
		now:      now,
	}
}

func (r *bucketRegistry) bucket(key string) *tokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = &tokenBucket{
			capacity:   r.capacity,
			tokens:     r.capacity,
			ratePerSec: r.capacity / r.window.Seconds(),
			last:       r.now(),
		}
		r.buckets[key] = b
	}
	return b
}

func (r *bucketRegistry) consume(key string) (allowed bool, retryAfter time.Duration, remaining float64) {
	return r.bucket(key).consume(r.now())
}

// tokenBucket holds a capped, continuously refilling count of permits.
// Refill happens lazily on each consume; there is no background timer.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	ratePerSec float64
	last       time.Time
}

// consume refills from elapsed time, then takes one token if available.
// Refill and decrement form one critical section so two concurrent calls
// cannot both win the last token. Denial charges nothing and reports how
// long until a full token accrues, rounded up to the millisecond.
func (b *tokenBucket) consume(now time.Time) (allowed bool, retryAfter time.Duration, remaining float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed.Seconds()*b.ratePerSec)
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0, b.tokens
	}

	waitMs := ((1 - b.tokens) / b.ratePerSec) * 1000
	return false, time.Duration(math.Ceil(waitMs)) * time.Millisecond, b.tokens
}
