package roads

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mowshare/cluster-engine/internal/clock"
	"github.com/mowshare/cluster-engine/model"
)

const defaultRoadCacheTTL = 15 * time.Minute

// coarse key rounding: 4 decimal places is ~11 m, well under the discovery
// radius, so nearby hosts share cache entries without changing results
// meaningfully (the fetch radius generously over-covers the query).
const cacheKeyPrecision = 1e4

type cacheEntry struct {
	geom    *model.RoadGeometry
	fetched time.Time
}

// Cache wraps a Gateway with a TTL cache keyed by a coarse rounding of
// (center, radius). Road networks change rarely, so a short TTL keeps
// repeated discovery calls from hammering the upstream service.
type Cache struct {
	mu      sync.RWMutex
	inner   Gateway
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   clock.Clock

	hits   int64
	misses int64
}

// CacheOption customises Cache construction.
type CacheOption func(*Cache)

// WithCacheClock overrides the cache time source, mainly for tests.
func WithCacheClock(c clock.Clock) CacheOption {
	return func(cc *Cache) { cc.clock = c }
}

// NewCache wraps inner with a TTL cache; zero ttl uses a default.
func NewCache(inner Gateway, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = defaultRoadCacheTTL
	}
	c := &Cache{
		inner:   inner,
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		clock:   clock.System{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Fetch serves from cache when a fresh entry exists, delegating to the inner
// gateway otherwise. Gateway failures are returned as-is and never cached, so
// a transient outage does not pin an error for the full TTL.
func (c *Cache) Fetch(ctx context.Context, center model.Coordinate, radiusMeters float64) (*model.RoadGeometry, error) {
	key := cacheKey(center, radiusMeters)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.clock.Now().Sub(entry.fetched) <= c.ttl {
		c.recordHit()
		return entry.geom, nil
	}
	c.recordMiss()

	geom, err := c.inner.Fetch(ctx, center, radiusMeters)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{geom: geom, fetched: c.clock.Now()}
	c.mu.Unlock()
	return geom, nil
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Stats returns cumulative hit/miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// cacheKey rounds to the nearest grid cell so both hemispheres quantize
// symmetrically; truncation would shift cell boundaries for negative
// coordinates.
func cacheKey(center model.Coordinate, radiusMeters float64) string {
	lat := math.Round(center.Lat*cacheKeyPrecision) / cacheKeyPrecision
	lon := math.Round(center.Lon*cacheKeyPrecision) / cacheKeyPrecision
	return fmt.Sprintf("%.4f,%.4f,%d", lat, lon, int64(radiusMeters))
}
