package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgrzl/fetch-go/internal/backoff"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDefaults(t *testing.T) {
	client := New()

	if client == nil {
		t.Fatal("New() returned nil")
	}
	if !client.IsValid() {
		t.Fatalf("Expected valid default configuration, got %v", client.ValidationError())
	}
	if client.retry.MaxRetries != 3 {
		t.Errorf("Expected maxRetries=3, got %d", client.retry.MaxRetries)
	}
	if client.retry.Delay != time.Second {
		t.Errorf("Expected base delay=1s, got %v", client.retry.Delay)
	}
	if client.retry.MaxDelay != 30*time.Second {
		t.Errorf("Expected maxDelay=30s, got %v", client.retry.MaxDelay)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected timeout=30s, got %v", client.httpClient.Timeout)
	}
}

func TestClientGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "hello")
	}))
	defer server.Close()

	client := New()
	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("Expected body 'hello', got %q", body)
	}
}

func TestClientPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", ct)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New()
	resp, err := client.Post(context.Background(), server.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", resp.StatusCode)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithMaxRetries(3),
		WithRetryDelay(time.Millisecond),
		WithBackoffStrategy(backoff.Fixed{}),
	)

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected eventual 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("Expected 3 server hits, got %d", got)
	}
}

func TestClientRetryReentersDownstreamStages(t *testing.T) {
	// Each retry must re-run the whole downstream chain, so the auth stage
	// recomputes its token once per attempt.
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var tokenCalls int32
	client := New(
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
		WithBackoffStrategy(backoff.Fixed{}),
		WithMiddleware(BearerAuth(func(req *http.Request) (string, error) {
			n := atomic.AddInt32(&tokenCalls, 1)
			return fmt.Sprintf("token-%d", n), nil
		})),
	)

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	defer resp.Body.Close()

	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
	if got := atomic.LoadInt32(&tokenCalls); got != 3 {
		t.Errorf("Expected auth token recomputed per attempt, got %d computations", got)
	}
}

func TestClientRetryChargesRateLimiterPerAttempt(t *testing.T) {
	// Retry wraps outside the rate limiter: a failing call burns one token
	// per attempt, and the limiter denies once the bucket is empty.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithMaxRetries(5),
		WithRetryDelay(time.Millisecond),
		WithBackoffStrategy(backoff.Fixed{}),
		WithShouldRetry(func(resp *http.Response, err error, attempt int) bool {
			// Denials are errors; keep retrying through them to observe
			// the limiter exhausting.
			return true
		}),
		WithRateLimiter(3, time.Hour),
	)

	_, err := client.Get(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected final rate limit denial")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited after budget burned, got %v", err)
	}
}

func TestClientRateLimitDenialWithoutRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithoutRetry(),
		WithRateLimiter(2, time.Hour),
	)

	for i := 0; i < 2; i++ {
		resp, err := client.Get(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Expected call %d admitted, got %v", i+1, err)
		}
		resp.Body.Close()
	}

	_, err := client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected third call denied, got %v", err)
	}
}

func TestClientCacheServesRepeatGets(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, "cached payload")
	}))
	defer server.Close()

	client := New(WithCache(time.Minute))

	for i := 0; i < 3; i++ {
		resp, err := client.Get(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Get %d returned error: %v", i+1, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "cached payload" {
			t.Errorf("Expected cached body on call %d, got %q", i+1, body)
		}
	}

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("Expected 1 origin hit, got %d", got)
	}
}

func TestClientCircuitBreakerTripsOnFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithoutRetry(),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}),
	)

	for i := 0; i < 2; i++ {
		resp, err := client.Get(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Expected 5xx to pass through while closed, got %v", err)
		}
		resp.Body.Close()
	}

	_, err := client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen once tripped, got %v", err)
	}
}

func TestClientMetricsRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	client := New(WithMetricsCollector(NewMetricsCollectorWithRegistry(registry)))

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	resp.Body.Close()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "fetch_requests_total" {
			found = true
		}
	}
	if !found {
		t.Error("Expected fetch_requests_total to be registered and populated")
	}
}

func TestClientWithTransport(t *testing.T) {
	client := New(
		WithoutRetry(),
		WithTransport(RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return newTestResponse(http.StatusTeapot), nil
		})),
	)

	resp, err := client.Get(context.Background(), "http://example.invalid/")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("Expected custom transport response, got %d", resp.StatusCode)
	}
}

func TestClientValidation(t *testing.T) {
	client := New(
		WithMaxRetries(-1),
		WithMiddleware(nil),
	)

	if client.IsValid() {
		t.Fatal("Expected invalid configuration")
	}
	err := client.ValidationError()
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Type != ErrorTypeValidation {
		t.Errorf("Expected validation RequestError, got %v", err)
	}
}

func TestClientInvalidConfigurationFailsDoCleanly(t *testing.T) {
	client := New(WithHTTPClient(nil))

	if client.IsValid() {
		t.Fatal("Expected nil HTTP client to be invalid")
	}

	_, err := client.Get(context.Background(), "http://example.com/")
	if err == nil {
		t.Fatal("Expected Do on an invalid client to return an error")
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Type != ErrorTypeValidation {
		t.Errorf("Expected validation RequestError, got %v", err)
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	var order []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tag := func(name string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			order = append(order, name)
			return next.RoundTrip(req)
		}
	}

	client := New(WithoutRetry(), WithMiddleware(tag("first"), tag("second")))
	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	resp.Body.Close()

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Expected registration order preserved, got %v", order)
	}
}
