package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/skycast/forecast-service/internal/models"
)

const keyPrefix = "forecast:"

// MemcachedCache implements Cache on memcached. Items are stored without expiration
// and may still be evicted by the server under memory pressure, which reads as a miss.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use client defaults when zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
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

// memcached keys are limited to 250 bytes without spaces or control characters.
func memcacheKey(k string) string {
	escaped := keyPrefix + url.PathEscape(k)
	if len(escaped) <= 250 {
		return escaped
	}
	sum := sha256.Sum256([]byte(k))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get implements Cache.Get.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ForecastRecord, bool, error) {
	if ctx.Err() != nil {
		return models.ForecastRecord{}, false, ctx.Err()
	}
	item, err := c.client.Get(memcacheKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.ForecastRecord{}, false, nil
		}
		return models.ForecastRecord{}, false, fmt.Errorf("%w: memcached get: %w", ErrCacheUnavailable, err)
	}
	var rec models.ForecastRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return models.ForecastRecord{}, false, fmt.Errorf("%w: decode %s: %w", ErrCacheUnavailable, key, err)
	}
	return rec, true, nil
}

// Put implements Cache.Put.
func (c *MemcachedCache) Put(ctx context.Context, record models.ForecastRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrCacheUnavailable, record.LocationKey, err)
	}
	if err := c.client.Set(&memcache.Item{Key: memcacheKey(record.LocationKey), Value: raw}); err != nil {
		return fmt.Errorf("%w: memcached set: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// Ping implements Pinger.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
