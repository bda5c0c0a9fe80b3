package fetch

import (
	"net/http"
	"time"

	"github.com/fgrzl/fetch-go/internal/backoff"
)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.retry.MaxRetries = n
	}
}

// WithoutRetry disables the retry stage entirely.
func WithoutRetry() Option {
	return func(c *Client) {
		c.retryEnabled = false
	}
}

// WithRetryDelay sets the base backoff duration.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retry.Delay = d
	}
}

// WithMaxRetryDelay caps every computed backoff.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retry.MaxDelay = d
	}
}

// WithBackoffStrategy selects the delay schedule (backoff.Exponential,
// backoff.Linear or backoff.Fixed).
func WithBackoffStrategy(s backoff.Strategy) Option {
	return func(c *Client) {
		c.retry.Backoff = s
	}
}

// WithJitter sets the jitter factor for backoff, clamped to [0, 1].
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.retry.Jitter = f
	}
}

// WithShouldRetry sets a custom retry predicate.
func WithShouldRetry(fn ShouldRetryFunc) Option {
	return func(c *Client) {
		c.retry.ShouldRetry = fn
	}
}

// WithOnRetry sets the retry observer callback.
func WithOnRetry(fn OnRetryFunc) Option {
	return func(c *Client) {
		c.retry.OnRetry = fn
	}
}

// WithRespectRetryAfter honors Retry-After headers on 429/503 responses.
func WithRespectRetryAfter() Option {
	return func(c *Client) {
		c.retry.RespectRetryAfter = true
	}
}

// WithRetryBudget bounds retries process-wide per window.
func WithRetryBudget(maxRetries int, perWindow time.Duration) Option {
	return func(c *Client) {
		c.retry.Budget = NewRetryBudget(maxRetries, perWindow)
	}
}

// WithRateLimiter enables the token bucket stage with maxRequests per
// window through one global bucket.
func WithRateLimiter(maxRequests int, window time.Duration) Option {
	return func(c *Client) {
		if c.rateLimit == nil {
			c.rateLimit = &RateLimitConfig{}
		}
		c.rateLimit.MaxRequests = maxRequests
		c.rateLimit.Window = window
	}
}

// WithRateLimit enables the token bucket stage with a full config.
func WithRateLimit(config RateLimitConfig) Option {
	return func(c *Client) {
		c.rateLimit = &config
	}
}

// WithRateLimitKeyFunc sets the bucket key derivation.
func WithRateLimitKeyFunc(fn KeyFunc) Option {
	return func(c *Client) {
		if c.rateLimit == nil {
			c.rateLimit = &RateLimitConfig{}
		}
		c.rateLimit.KeyFunc = fn
	}
}

// WithSkipPatterns exempts URLs containing any of the given substrings from
// rate limiting.
func WithSkipPatterns(patterns ...string) Option {
	return func(c *Client) {
		if c.rateLimit == nil {
			c.rateLimit = &RateLimitConfig{}
		}
		c.rateLimit.SkipPatterns = append(c.rateLimit.SkipPatterns, patterns...)
	}
}

// WithOnRateLimitExceeded sets the denial override hook.
func WithOnRateLimitExceeded(fn OnRateLimitExceededFunc) Option {
	return func(c *Client) {
		if c.rateLimit == nil {
			c.rateLimit = &RateLimitConfig{}
		}
		c.rateLimit.OnRateLimitExceeded = fn
	}
}

// WithPacer enables outbound request smoothing.
func WithPacer(requestsPerSecond float64, burst int) Option {
	return func(c *Client) {
		c.pacer = &PacerConfig{RequestsPerSecond: requestsPerSecond, Burst: burst}
	}
}

// WithCircuitBreaker enables the circuit breaker stage.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breaker = NewCircuitBreaker(config)
	}
}

// WithCache enables response caching with the default in-memory store.
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = &CacheConfig{TTL: ttl}
	}
}

// WithCustomCache enables response caching on a caller-supplied store.
func WithCustomCache(store Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = &CacheConfig{TTL: ttl, Store: store}
	}
}

// WithCacheKeyFunc sets a custom cache key function.
func WithCacheKeyFunc(fn func(*http.Request) string) Option {
	return func(c *Client) {
		if c.cache == nil {
			c.cache = &CacheConfig{}
		}
		c.cache.KeyFunc = fn
	}
}

// WithCacheCondition sets a custom cache eligibility predicate.
func WithCacheCondition(fn func(*http.Request) bool) Option {
	return func(c *Client) {
		if c.cache == nil {
			c.cache = &CacheConfig{}
		}
		c.cache.Condition = fn
	}
}

// WithMiddleware appends user middleware to the chain, innermost of the
// built-in stages, in registration order.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithHTTPClient sets a custom *http.Client as the terminal transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTransport sets an arbitrary terminal RoundTripper, replacing the
// *http.Client. Useful for tests and custom transports.
func WithTransport(transport RoundTripper) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

// WithTimeout sets the request timeout on the underlying *http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger used by the client and every built-in stage.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger wires the built-in stderr logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}
