package fetch

import (
	"net/http"
)

// TokenSource supplies a credential for the current attempt. It runs once
// per attempt, so a retry picks up a refreshed token.
type TokenSource func(req *http.Request) (string, error)

// BearerAuth returns a middleware that sets the Authorization header from
// the token source before calling next. A token source error aborts the
// call without reaching the transport.
func BearerAuth(token TokenSource) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		tok, err := token(req)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		return next.RoundTrip(req)
	}
}

// CSRF returns a middleware injecting a CSRF token header. An empty header
// name defaults to X-CSRF-Token; an empty token leaves the request
// untouched.
func CSRF(header string, token func() string) Middleware {
	if header == "" {
		header = "X-CSRF-Token"
	}
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if tok := token(); tok != "" {
			req.Header.Set(header, tok)
		}
		return next.RoundTrip(req)
	}
}

// SetHeaders returns a middleware that sets fixed headers on every request.
// Existing values are overwritten.
func SetHeaders(headers map[string]string) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return next.RoundTrip(req)
	}
}
