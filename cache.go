package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// CacheEntry is a stored response snapshot.
type CacheEntry struct {
	Body       []byte
	StatusCode int
	Status     string
	Header     http.Header
	ExpiresAt  time.Time
}

// Cache is the storage behind the cache stage. Implementations must be safe
// for concurrent use.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// InMemoryCache is a mutex-guarded map cache with lazy expiry.
type InMemoryCache struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{store: make(map[string]*CacheEntry)}
}

// Get returns the entry for key if present and unexpired.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.Delete(key)
		return nil, false
	}
	return entry, true
}

// Set stores an entry under key for ttl.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	entry.ExpiresAt = time.Now().Add(ttl)
	c.mu.Lock()
	c.store[key] = entry
	c.mu.Unlock()
}

// Delete removes the entry for key.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	c.store = make(map[string]*CacheEntry)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// CacheConfig configures the response cache stage.
type CacheConfig struct {
	// TTL is the default entry lifetime; default 5m.
	TTL time.Duration

	// Store defaults to a fresh InMemoryCache.
	Store Cache

	// KeyFunc defaults to method plus full URL.
	KeyFunc func(req *http.Request) string

	// Condition gates which requests consult the cache; default GET only.
	Condition func(req *http.Request) bool

	Metrics *MetricsCollector
	Logger  Logger
}

// DefaultCacheKeyFunc keys on method and full URL.
func DefaultCacheKeyFunc(req *http.Request) string {
	return req.Method + ":" + req.URL.String()
}

// DefaultCacheCondition caches GET requests only.
func DefaultCacheCondition(req *http.Request) bool {
	return req.Method == http.MethodGet
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.TTL == 0 {
		c.TTL = 5 * time.Minute
	}
	if c.Store == nil {
		c.Store = NewInMemoryCache()
	}
	if c.KeyFunc == nil {
		c.KeyFunc = DefaultCacheKeyFunc
	}
	if c.Condition == nil {
		c.Condition = DefaultCacheCondition
	}
	return c
}

// ContextWithCacheControl attaches a per-request cache override to ctx.
func ContextWithCacheControl(ctx context.Context, cc CacheControl) context.Context {
	return context.WithValue(ctx, CacheControlKey, cc)
}

// ResponseCache returns a middleware serving eligible requests from cache
// and storing successful (status < 400) responses. It calls next at most
// once. The cached body is replayed on every hit, so callers can read it as
// usual.
func ResponseCache(config CacheConfig) Middleware {
	config = config.withDefaults()

	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		enabled := config.Condition(req)
		ttl := config.TTL
		if cc, ok := req.Context().Value(CacheControlKey).(CacheControl); ok {
			enabled = cc.Enabled
			if cc.TTL > 0 {
				ttl = cc.TTL
			}
		}
		if !enabled {
			return next.RoundTrip(req)
		}

		key := config.KeyFunc(req)
		if entry, found := config.Store.Get(key); found {
			if config.Metrics != nil {
				config.Metrics.RecordCacheHit(req.Method, endpointLabel(req))
			}
			if config.Logger != nil {
				config.Logger.Debug("Cache hit", "cacheKey", key)
			}
			return responseFromEntry(entry, req), nil
		}
		if config.Metrics != nil {
			config.Metrics.RecordCacheMiss(req.Method, endpointLabel(req))
		}

		resp, err := next.RoundTrip(req)
		if err != nil || resp == nil || resp.StatusCode >= 400 {
			return resp, err
		}

		entry, readErr := entryFromResponse(resp)
		if readErr != nil {
			return resp, nil
		}
		config.Store.Set(key, entry, ttl)
		if config.Logger != nil {
			config.Logger.Debug("Response cached", "cacheKey", key, "ttl", ttl)
		}
		return resp, nil
	}
}

func responseFromEntry(entry *CacheEntry, req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: entry.StatusCode,
		Status:     entry.Status,
		Header:     entry.Header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(entry.Body)),
		Request:    req,
	}
}

// entryFromResponse snapshots the response, restoring its body so the
// caller can still read it.
func entryFromResponse(resp *http.Response) (*CacheEntry, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &CacheEntry{
		Body:       body,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
	}, nil
}
