package fetch

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectorRecordsRequests(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequest("GET", "example.com/api", 200, 150*time.Millisecond)
	mc.RecordRequest("GET", "example.com/api", 200, 50*time.Millisecond)
	mc.RecordRequest("GET", "example.com/api", 503, 10*time.Millisecond)

	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "200", "example.com/api")); got != 2 {
		t.Errorf("Expected 2 successful requests recorded, got %v", got)
	}
	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "503", "example.com/api")); got != 1 {
		t.Errorf("Expected 1 failed request recorded, got %v", got)
	}
}

func TestMetricsCollectorInFlight(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequestStart("GET", "example.com/")
	mc.RecordRequestStart("GET", "example.com/")
	mc.RecordRequestEnd("GET", "example.com/")

	if got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", "example.com/")); got != 1 {
		t.Errorf("Expected 1 request in flight, got %v", got)
	}
}

func TestMetricsCollectorRetriesAndDenials(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRetry("GET", "example.com/", 1)
	mc.RecordRetry("GET", "example.com/", 2)
	mc.RecordRateLimitDenied("global")
	mc.RecordRateLimiterTokens("global", 12.5)
	mc.RecordRetryBudgetExceeded("example.com/")

	if got := testutil.ToFloat64(mc.retriesTotal.WithLabelValues("GET", "example.com/", "1")); got != 1 {
		t.Errorf("Expected retry attempt 1 recorded, got %v", got)
	}
	if got := testutil.ToFloat64(mc.rateLimitDenied.WithLabelValues("global")); got != 1 {
		t.Errorf("Expected 1 denial recorded, got %v", got)
	}
	if got := testutil.ToFloat64(mc.rateLimiterTokens.WithLabelValues("global")); got != 12.5 {
		t.Errorf("Expected token gauge 12.5, got %v", got)
	}
	if got := testutil.ToFloat64(mc.retryBudgetExceeded.WithLabelValues("example.com/")); got != 1 {
		t.Errorf("Expected 1 budget exhaustion recorded, got %v", got)
	}
}

func TestMetricsCollectorBreakerAndCache(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordCircuitBreakerState("default", StateOpen)
	mc.RecordCacheHit("GET", "example.com/")
	mc.RecordCacheMiss("GET", "example.com/")
	mc.RecordCacheMiss("GET", "example.com/")
	mc.RecordError(ErrorTypeNetwork, "GET", "example.com/")

	if got := testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues("default")); got != 1 {
		t.Errorf("Expected breaker state gauge 1 (open), got %v", got)
	}
	if got := testutil.ToFloat64(mc.cacheHits.WithLabelValues("GET", "example.com/")); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(mc.cacheMisses.WithLabelValues("GET", "example.com/")); got != 2 {
		t.Errorf("Expected 2 cache misses, got %v", got)
	}
	if got := testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeNetwork, "GET", "example.com/")); got != 1 {
		t.Errorf("Expected 1 error recorded, got %v", got)
	}
}

func TestMetricsCollectorNilReceiver(t *testing.T) {
	var mc *MetricsCollector

	// All record methods must be safe on a nil collector.
	mc.RecordRequest("GET", "e", 200, time.Second)
	mc.RecordRequestStart("GET", "e")
	mc.RecordRequestEnd("GET", "e")
	mc.RecordRetry("GET", "e", 1)
	mc.RecordRetryBudgetExceeded("e")
	mc.RecordRateLimiterTokens("k", 1)
	mc.RecordRateLimitDenied("k")
	mc.RecordCircuitBreakerState("n", StateClosed)
	mc.RecordCacheHit("GET", "e")
	mc.RecordCacheMiss("GET", "e")
	mc.RecordError(ErrorTypeServer, "GET", "e")
}
