package fetch

import (
	"net/http"
)

// Compose builds a single RoundTripper from a terminal transport and an
// ordered list of middleware. The stage list is folded over the transport
// innermost-first, so the first middleware in the list is outermost: it sees
// the request first and the response last.
//
// Composition itself never fails; runtime errors originate from individual
// stages or the transport and propagate through the chain unchanged.
func Compose(transport RoundTripper, middleware ...Middleware) RoundTripper {
	current := transport
	for i := len(middleware) - 1; i >= 0; i-- {
		m := middleware[i]
		next := current
		current = RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return m(req, next)
		})
	}
	return current
}
