package fetch

import (
	"net/http"
	"time"
)

// Logging returns a middleware emitting one log line per call: method, URL,
// status or error, and elapsed time. It is a pure side-effect stage and
// never alters the request or response. A nil logger yields a passthrough.
func Logging(logger Logger) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if logger == nil {
			return next.RoundTrip(req)
		}

		start := time.Now()
		resp, err := next.RoundTrip(req)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("Request failed", "method", req.Method, "url", req.URL.String(), "error", err, "duration", elapsed)
			return resp, err
		}
		logger.Info("Request completed", "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode, "duration", elapsed)
		return resp, nil
	}
}
