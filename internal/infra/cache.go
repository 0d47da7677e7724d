package infra

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/olgasafonova/sefaria-mcp-server/metrics"
	"github.com/olgasafonova/sefaria-mcp-server/tracing"
)

// Cache size limits to prevent unbounded memory growth
const (
	DefaultMaxCacheEntries = 1000            // Maximum number of cache entries
	DefaultCacheCleanup    = 5 * time.Minute // How often to sweep expired entries
)

// CacheEntry holds a cached upstream payload with its expiry.
type CacheEntry struct {
	Data      []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Fetcher produces the payload for a cache miss.
type Fetcher func(ctx context.Context) ([]byte, error)

// Cache is a capacity-bounded LRU with per-entry TTL and in-flight request joining.
// Concurrent misses for the same signature share one Fetcher call.
type Cache struct {
	entries *lru.Cache[string, *CacheEntry]
	group   singleflight.Group
	sweep   time.Duration
	now     func() time.Time

	hits    atomic.Int64
	misses  atomic.Int64
	joins   atomic.Int64
	fetches atomic.Int64

	// Graceful shutdown
	stopCh   chan struct{}
	stopOnce sync.Once
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithSweepInterval sets how often expired entries are purged in the background.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.sweep = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache holding at most maxEntries payloads.
func NewCache(maxEntries int, opts ...CacheOption) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxCacheEntries
	}
	c := &Cache{
		sweep:  DefaultCacheCleanup,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	entries, err := lru.NewWithEvict(maxEntries, c.onEvict)
	if err != nil {
		// only fails for non-positive sizes, excluded above
		panic(err)
	}
	c.entries = entries
	go c.cleanupLoop()
	return c
}

// Get returns a live payload. Expired entries are removed on access.
func (c *Cache) Get(key string) ([]byte, bool) {
	ce, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(ce.ExpiresAt) {
		c.entries.Remove(key)
		return nil, false
	}
	return ce.Data, true
}

// Set stores a payload for ttl. Non-positive TTLs are not stored.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.now()
	c.entries.Add(key, &CacheEntry{Data: data, StoredAt: now, ExpiresAt: now.Add(ttl)})
	metrics.SetCacheSize(int64(c.entries.Len()))
}

// GetOrFetch returns the cached payload for key or runs fetch once for all concurrent
// callers. Failures are shared with every joined caller and never stored. A caller whose
// context ends stops waiting; the shared fetch continues for the remaining callers.
// A ttl of zero or less joins in-flight calls without storing the result.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) ([]byte, error) {
	span := trace.SpanFromContext(ctx)
	if data, ok := c.Get(key); ok {
		c.hits.Add(1)
		metrics.RecordCacheAccess(true)
		tracing.AddCacheAttributes(span, "hit")
		return data, nil
	}

	var led bool
	ch := c.group.DoChan(key, func() (v any, err error) {
		led = true
		// a previous leader may have stored it between our miss and this call
		if data, ok := c.Get(key); ok {
			return data, nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cache fetch panicked: %v", r)
			}
		}()
		c.fetches.Add(1)
		data, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.Set(key, data, ttl)
		return data, nil
	})

	select {
	case res := <-ch:
		if led {
			c.misses.Add(1)
			metrics.RecordCacheAccess(false)
			tracing.AddCacheAttributes(span, "miss")
		} else {
			c.joins.Add(1)
			metrics.RecordCacheJoin()
			tracing.AddCacheAttributes(span, "join")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delete removes a key from the cache
func (c *Cache) Delete(key string) {
	c.entries.Remove(key)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
	metrics.SetCacheSize(0)
}

// Size returns the current number of entries in the cache
func (c *Cache) Size() int64 {
	return int64(c.entries.Len())
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Joins   int64 `json:"joins"`
	Fetches int64 `json:"fetches"`
}

// Stats returns cache counters since creation.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries: c.entries.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Joins:   c.joins.Load(),
		Fetches: c.fetches.Load(),
	}
}

// Close stops the background cleanup goroutine
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache) onEvict(_ string, ce *CacheEntry) {
	if c.now().Before(ce.ExpiresAt) {
		metrics.RecordEviction("capacity")
	} else {
		metrics.RecordEviction("expired")
	}
}

// cleanupLoop periodically removes expired entries
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired entries without touching recency order
func (c *Cache) cleanup() int {
	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		ce, ok := c.entries.Peek(key)
		if ok && !now.Before(ce.ExpiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}
	metrics.SetCacheSize(int64(c.entries.Len()))
	return removed
}
