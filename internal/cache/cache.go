// Package cache holds the short-TTL reading cache that sits in front of the
// provider chain, plus the periodic warmer that keeps configured cities hot.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-failover/internal/models"
	"github.com/kjstillabower/weather-failover/internal/observability"
)

const (
	DefaultTTL      = 3 * time.Second
	DefaultCapacity = 1000
)

// ReadingCache maps a normalized city key to its most recent reading.
// Get reports a hit only while the entry is younger than the cache TTL.
type ReadingCache interface {
	Get(ctx context.Context, key string) (models.Reading, bool, error)
	Put(ctx context.Context, key string, value models.Reading) error
}

// InMemoryCache is a bounded, TTL-expiring ReadingCache. When full, the entry
// inserted longest ago is evicted first; reads do not refresh an entry's position.
// Safe for concurrent use.
type InMemoryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	order    *list.List // front = most recently inserted
	items    map[string]*list.Element
	now      func() time.Time
}

type cacheEntry struct {
	key        string
	value      models.Reading
	insertedAt time.Time
}

// Option configures an InMemoryCache.
type Option func(*InMemoryCache)

// WithClock replaces time.Now; tests use it to step past the TTL.
func WithClock(now func() time.Time) Option {
	return func(c *InMemoryCache) { c.now = now }
}

// NewInMemoryCache returns an empty cache. Non-positive ttl or capacity fall back
// to DefaultTTL and DefaultCapacity.
func NewInMemoryCache(ttl time.Duration, capacity int, opts ...Option) *InMemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &InMemoryCache{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached reading for key. Expired entries are removed on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return models.Reading{}, false, nil
	}
	entry := el.Value.(*cacheEntry)
	if !c.fresh(entry) {
		c.removeElement(el)
		observability.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		return models.Reading{}, false, nil
	}
	return entry.value, true, nil
}

// Put stores value under key, resetting its expiry and insertion position.
func (c *InMemoryCache) Put(ctx context.Context, key string, value models.Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: value, insertedAt: c.now()})

	for c.order.Len() > c.capacity {
		c.removeElement(c.order.Back())
		observability.CacheEvictionsTotal.WithLabelValues("capacity").Inc()
	}
	return nil
}

// Len returns the number of entries held, including expired ones not yet swept.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *InMemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	// Oldest insertions are at the back, so expired entries cluster there.
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.fresh(el.Value.(*cacheEntry)) {
			break
		}
		c.removeElement(el)
		removed++
		el = prev
	}
	if removed > 0 {
		observability.CacheEvictionsTotal.WithLabelValues("expired").Add(float64(removed))
	}
	return removed
}

// StartJanitor sweeps expired entries every interval until ctx is done.
func (c *InMemoryCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

func (c *InMemoryCache) fresh(e *cacheEntry) bool {
	return c.now().Sub(e.insertedAt) < c.ttl
}

func (c *InMemoryCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*cacheEntry).key)
}
