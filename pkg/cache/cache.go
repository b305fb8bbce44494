// Package cache implements the query-result cache (C5): a bounded,
// thread-safe LRU with TTL expiry on access, tagged by the set of views
// each cached payload was produced from.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dataview/dataview/pkg/dataerr"
)

// Payload is the immutable shared value a cache entry holds. Go's GC
// makes the "reference-counted handle, no bytes copied on hit"
// requirement free: every Get returns the same backing slice.
type Payload []json.RawMessage

type entry struct {
	payload       Payload
	accessedViews map[string]struct{}
	cachedAt      time.Time
	expiresAt     time.Time
	hitCount      int64
}

// Metrics are the cache's counters, updated under their own lock so hot
// Get/Put traffic never contends with metrics readers.
type Metrics struct {
	Hits          int64
	Misses        int64
	TotalCached   int64
	Invalidations int64
	Size          int64
	MemoryBytes   int64
}

// HitRate returns hits / (hits + misses), or 0 when no lookups have
// happened yet.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// Cache is a bounded LRU+TTL store keyed by an opaque request
// fingerprint. It is safe for concurrent use.
type Cache struct {
	enabled bool
	ttl     time.Duration

	mu    sync.Mutex
	inner *lru.Cache[string, *entry]

	metricsMu sync.Mutex
	metrics   Metrics
}

// New constructs a Cache bounded to maxEntries with the given default
// TTL. enabled=false makes every Get a permanent miss and every Put a
// no-op, per the "caching disabled by configuration" contract.
func New(maxEntries int, ttl time.Duration, enabled bool) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	inner, err := lru.New[string, *entry](maxEntries)
	if err != nil {
		return nil, &dataerr.InternalError{
			Error: dataerr.Error{Op: "cache.New", Kind: dataerr.KindInternal, Err: err},
		}
	}
	return &Cache{enabled: enabled, ttl: ttl, inner: inner}, nil
}

// Get returns the cached payload for key, or ok=false on a miss. A
// TTL-expired entry is evicted and counted as a miss.
func (c *Cache) Get(key string) (Payload, bool) {
	if !c.enabled {
		c.bumpMiss()
		return nil, false
	}

	c.mu.Lock()
	e, found := c.inner.Get(key)
	if found && !e.expiresAt.IsZero() && !time.Now().Before(e.expiresAt) {
		c.inner.Remove(key)
		found = false
	}
	var payload Payload
	if found {
		e.hitCount++
		payload = e.payload
	}
	size := c.inner.Len()
	c.mu.Unlock()

	if !found {
		c.bumpMiss()
		c.setSize(size)
		return nil, false
	}
	c.bumpHit()
	c.setSize(size)
	return payload, true
}

// Put inserts payload under key, tagged with accessedViews. Eviction is
// strict LRU when over max_entries, handled internally by the wrapped
// lru.Cache.
func (c *Cache) Put(key string, payload Payload, accessedViews []string) {
	if !c.enabled {
		return
	}

	views := make(map[string]struct{}, len(accessedViews))
	for _, v := range accessedViews {
		views[v] = struct{}{}
	}

	now := time.Now()
	e := &entry{
		payload:       payload,
		accessedViews: views,
		cachedAt:      now,
	}
	if c.ttl > 0 {
		e.expiresAt = now.Add(c.ttl)
	} else {
		// ttl <= 0 means "expire on first access": stamp expiresAt in the
		// past so the very next Get evicts it rather than caching it
		// indefinitely.
		e.expiresAt = now.Add(-time.Nanosecond)
	}

	c.mu.Lock()
	c.inner.Add(key, e)
	size := c.inner.Len()
	c.mu.Unlock()

	c.metricsMu.Lock()
	c.metrics.TotalCached++
	c.metricsMu.Unlock()
	c.setSize(size)
}

// InvalidateViews removes every entry whose accessed_views intersects
// views, returning the count removed.
func (c *Cache) InvalidateViews(views []string) int {
	if len(views) == 0 {
		return 0
	}
	target := make(map[string]struct{}, len(views))
	for _, v := range views {
		target[v] = struct{}{}
	}

	c.mu.Lock()
	removed := 0
	for _, key := range c.inner.Keys() {
		e, ok := c.inner.Peek(key)
		if !ok {
			continue
		}
		if intersects(e.accessedViews, target) {
			c.inner.Remove(key)
			removed++
		}
	}
	size := c.inner.Len()
	c.mu.Unlock()

	if removed > 0 {
		c.metricsMu.Lock()
		c.metrics.Invalidations += int64(removed)
		c.metricsMu.Unlock()
	}
	c.setSize(size)
	return removed
}

// Clear empties the cache without affecting cumulative metrics other
// than size.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.inner.Purge()
	c.mu.Unlock()
	c.setSize(0)
}

// Metrics returns a snapshot of the cache's counters.
func (c *Cache) Metrics() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

func (c *Cache) bumpHit() {
	c.metricsMu.Lock()
	c.metrics.Hits++
	c.metricsMu.Unlock()
}

func (c *Cache) bumpMiss() {
	c.metricsMu.Lock()
	c.metrics.Misses++
	c.metricsMu.Unlock()
}

func (c *Cache) setSize(n int) {
	c.metricsMu.Lock()
	c.metrics.Size = int64(n)
	c.metricsMu.Unlock()
}

func intersects(a, b map[string]struct{}) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}
