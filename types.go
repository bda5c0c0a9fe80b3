package fetch

import (
	"net/http"
	"time"
)

// Middleware is a single stage in the pipeline. It may inspect or mutate the
// request before handing it to next, and inspect or replace the response on
// the way back. A stage calls next at most once per logical attempt; the
// retry stage is the sole exception and re-invokes next per attempt.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the downstream continuation a middleware invokes. The
// terminal RoundTripper performs the actual transport call.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a plain function to the RoundTripper interface.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// KeyFunc derives a rate limit (or pacer) key from a request. Requests with
// the same key share one bucket.
type KeyFunc func(req *http.Request) string

// HostKeyFunc keys on the request host.
func HostKeyFunc(req *http.Request) string {
	if req.URL != nil && req.URL.Host != "" {
		return "host:" + req.URL.Host
	}
	if req.Host != "" {
		return "host:" + req.Host
	}
	return "host:unknown"
}

// PathKeyFunc keys on the URL path, giving each path its own budget.
func PathKeyFunc(req *http.Request) string {
	if req.URL == nil {
		return "path:unknown"
	}
	return "path:" + req.URL.Path
}

// HostRouteKeyFunc keys on host, method and path combined.
func HostRouteKeyFunc(req *http.Request) string {
	host := ""
	if req.URL != nil {
		host = req.URL.Host
	}
	if host == "" {
		host = req.Host
	}
	if host == "" {
		host = "unknown"
	}
	path := ""
	if req.URL != nil {
		path = req.URL.Path
	}
	return "host_route:" + host + ":" + req.Method + ":" + path
}

// Option configures a Client.
type Option func(*Client)

type contextKey string

// CacheControlKey carries a per-request CacheControl value in the request
// context, overriding the cache stage configuration for that call.
const CacheControlKey contextKey = "fetch_cache_control"

// CacheControl holds per-request cache overrides.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration // zero means use the stage default
}
