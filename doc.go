// Package fetch provides composable reliability middleware for HTTP clients:
//
//   - Pipeline composition of request/response stages around any transport
//   - Retries with exponential / linear / fixed backoff and an optional budget
//   - Token bucket rate limiting with per-key buckets and skip patterns
//   - Outbound request pacing (smoothing) on top of golang.org/x/time/rate
//   - Circuit breaker (open / half-open / closed states)
//   - In-memory TTL response caching with per-request overrides
//   - Header decorators (bearer auth, CSRF, static headers)
//   - Prometheus metrics and lightweight structured logging
//
// Every feature is a Middleware: a function receiving the outgoing request
// and a next RoundTripper representing the rest of the chain. Stages compose
// deterministically, with the first registered middleware outermost, and the
// chain terminates in a transport call. Compose builds a chain by hand;
// Client wires the conventional one (retry outside the rate limiter, so each
// externally observable attempt is charged a token) around a *http.Client.
//
// Typical usage:
//
//	client := fetch.New(
//	    fetch.WithMaxRetries(3),
//	    fetch.WithRateLimiter(60, time.Minute),
//	    fetch.WithCache(5*time.Minute),
//	    fetch.WithMiddleware(fetch.BearerAuth(tokenSource)),
//	)
//	resp, err := client.Get(ctx, "https://api.example.com/data")
//
// Only transport errors and 5xx responses trigger retries by default;
// override with WithShouldRetry. Rate limit denial surfaces as an error
// whose message contains "Rate limit exceeded" (wrap-checkable against
// ErrRateLimited); supply OnRateLimitExceeded to return a synthesized 429
// response instead, or to make the limiter advisory.
package fetch
