package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-failover/internal/models"
)

const keyPrefix = "weather:reading:"

// MemcachedCache is a ReadingCache shared across instances. Memcached owns
// eviction under memory pressure, so capacity is not enforced here; expiry is
// rounded up to whole seconds.
type MemcachedCache struct {
	client *memcache.Client
	ttl    time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedCache(addrs string, ttl, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, errors.New("memcached: no server addresses")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, ttl: ttl}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key escapes the city; memcached keys may not contain spaces or control characters.
func (c *MemcachedCache) key(k string) string {
	return keyPrefix + url.PathEscape(k)
}

// Get returns false, nil on a miss and false, err on a backend error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	if ctx.Err() != nil {
		return models.Reading{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.Reading{}, false, nil
		}
		return models.Reading{}, false, err
	}
	var reading models.Reading
	if err := json.Unmarshal(item.Value, &reading); err != nil {
		return models.Reading{}, false, err
	}
	return reading, true, nil
}

func (c *MemcachedCache) Put(ctx context.Context, key string, value models.Reading) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(c.ttl),
	})
}

// expirationSeconds rounds ttl up to whole seconds, at least 1.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	sec := int32((ttl + time.Second - 1) / time.Second)
	if sec < 1 {
		sec = 1
	}
	if sec > maxRelativeExp {
		sec = maxRelativeExp
	}
	return sec
}

// Ping checks if memcached is reachable. Used for readiness.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
