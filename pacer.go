package fetch

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PacerConfig configures the pacing stage. Unlike the rate limit stage,
// which rejects over-budget requests, the pacer smooths them: a request that
// arrives too fast waits its turn instead of failing.
type PacerConfig struct {
	// RequestsPerSecond is the sustained outbound rate. Zero or negative
	// disables pacing; the stage becomes a passthrough.
	RequestsPerSecond float64

	// Burst is how many requests may proceed without waiting. Defaults to 1.
	Burst int

	// KeyFunc maps a request to its pacer. Nil shares one pacer globally.
	// Pacers are created lazily per key and never evicted.
	KeyFunc KeyFunc

	Logger Logger
}

// Pacer returns a middleware that delays requests to keep the outbound rate
// at or below the configured level. The wait honors the request context;
// cancellation during a wait returns the context error.
func Pacer(config PacerConfig) Middleware {
	if config.Burst <= 0 {
		config.Burst = 1
	}

	var (
		mu     sync.Mutex
		pacers = make(map[string]*rate.Limiter)
	)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		lim, ok := pacers[key]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
			pacers[key] = lim
		}
		return lim
	}

	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if config.RequestsPerSecond <= 0 {
			return next.RoundTrip(req)
		}

		key := globalBucketKey
		if config.KeyFunc != nil {
			key = config.KeyFunc(req)
		}

		start := time.Now()
		if err := limiterFor(key).Wait(req.Context()); err != nil {
			return nil, err
		}
		if config.Logger != nil {
			if waited := time.Since(start); waited > time.Millisecond {
				config.Logger.Debug("Paced request", "key", key, "waited", waited, "url", req.URL.String())
			}
		}

		return next.RoundTrip(req)
	}
}
