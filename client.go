package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is an enhanced HTTP client: a pipeline of reliability stages
// composed around a standard *http.Client. It is safe for concurrent use.
//
// The conventional chain order is logging, cache, retry, circuit breaker,
// rate limit, pacer, then user middleware, terminating in the transport.
// Retry sits outside the rate limiter so every attempt it makes is charged
// a token, and outside the breaker so each attempt probes circuit state.
type Client struct {
	httpClient *http.Client
	transport  RoundTripper

	retry        RetryConfig
	retryEnabled bool

	rateLimit *RateLimitConfig
	pacer     *PacerConfig
	breaker   *CircuitBreaker
	cache     *CacheConfig

	middleware []Middleware
	logger     Logger
	metrics    *MetricsCollector

	chain           RoundTripper
	validationError error
}

// New constructs a Client from the provided functional options. A best
// effort validation runs at construction; call IsValid / ValidationError
// for the result.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: RetryConfig{
			MaxRetries: defaultMaxRetries,
			Delay:      defaultRetryDelay,
			MaxDelay:   defaultMaxDelay,
		},
		retryEnabled: true,
	}

	for _, option := range options {
		option(client)
	}

	if err := client.validateConfiguration(); err != nil {
		client.validationError = err
	}

	client.buildChain()
	return client
}

func (c *Client) buildChain() {
	terminal := c.transport
	if terminal == nil {
		terminal = RoundTripperFunc(c.httpClient.Do)
	}

	var stages []Middleware
	if c.logger != nil {
		stages = append(stages, Logging(c.logger))
	}
	if c.cache != nil {
		cacheConfig := *c.cache
		cacheConfig.Metrics = c.metrics
		cacheConfig.Logger = c.logger
		stages = append(stages, ResponseCache(cacheConfig))
	}
	if c.retryEnabled {
		retryConfig := c.retry
		retryConfig.Metrics = c.metrics
		retryConfig.Logger = c.logger
		stages = append(stages, Retry(retryConfig))
	}
	if c.breaker != nil {
		stages = append(stages, Breaker(c.breaker, c.metrics))
	}
	if c.rateLimit != nil {
		limitConfig := *c.rateLimit
		limitConfig.Metrics = c.metrics
		limitConfig.Logger = c.logger
		stages = append(stages, RateLimit(limitConfig))
	}
	if c.pacer != nil {
		pacerConfig := *c.pacer
		pacerConfig.Logger = c.logger
		stages = append(stages, Pacer(pacerConfig))
	}
	stages = append(stages, c.middleware...)

	c.chain = Compose(terminal, stages...)
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Do executes a prepared *http.Request through the full stage chain. A
// client that failed configuration validation returns its validation error
// rather than executing.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	start := time.Now()
	endpoint := endpointLabel(req)

	c.metrics.RecordRequestStart(req.Method, endpoint)
	resp, err := c.chain.RoundTrip(req)
	c.metrics.RecordRequestEnd(req.Method, endpoint)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))

	return resp, err
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func (c *Client) validateConfiguration() error {
	var problems []string

	if c.retryEnabled {
		if c.retry.MaxRetries < 0 {
			problems = append(problems, "maxRetries must be non-negative")
		}
		if c.retry.Delay < 0 {
			problems = append(problems, "retry delay must be non-negative")
		}
		if c.retry.MaxDelay > 0 && c.retry.Delay > c.retry.MaxDelay {
			problems = append(problems, "retry delay must not exceed maxDelay")
		}
		if c.retry.Jitter < 0 || c.retry.Jitter > 1 {
			problems = append(problems, "jitter must be between 0 and 1")
		}
	}

	if c.rateLimit != nil {
		if c.rateLimit.MaxRequests < 0 {
			problems = append(problems, "rate limit maxRequests must be non-negative")
		}
		if c.rateLimit.Window < 0 {
			problems = append(problems, "rate limit window must be non-negative")
		}
	}

	if c.pacer != nil && c.pacer.Burst < 0 {
		problems = append(problems, "pacer burst must be non-negative")
	}

	for i, m := range c.middleware {
		if m == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	if c.httpClient == nil && c.transport == nil {
		problems = append(problems, "HTTP client cannot be nil")
	}

	if len(problems) > 0 {
		return &RequestError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}

// endpointLabel renders host+path for metric labels, keeping cardinality to
// the route level.
func endpointLabel(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	var b strings.Builder
	b.WriteString(req.URL.Host)
	if path := req.URL.Path; path != "" && path != "/" {
		b.WriteString(path)
	} else {
		b.WriteByte('/')
	}
	return b.String()
}
