package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skycast/forecast-service/internal/models"
)

// updatedIndexKey is a sorted set of location keys scored by LastUpdated in unix milliseconds.
const updatedIndexKey = "forecast:updated"

// RedisCache implements Cache and UpdatedSinceLister on redis. Records are JSON blobs with no TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func redisKey(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) (models.ForecastRecord, bool, error) {
	raw, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.ForecastRecord{}, false, nil
		}
		return models.ForecastRecord{}, false, fmt.Errorf("%w: redis get: %w", ErrCacheUnavailable, err)
	}
	var rec models.ForecastRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.ForecastRecord{}, false, fmt.Errorf("%w: decode %s: %w", ErrCacheUnavailable, key, err)
	}
	return rec, true, nil
}

// Put implements Cache.Put. The blob and its index entry are written in one MULTI/EXEC.
func (c *RedisCache) Put(ctx context.Context, record models.ForecastRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrCacheUnavailable, record.LocationKey, err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKey(record.LocationKey), raw, 0)
		pipe.ZAdd(ctx, updatedIndexKey, redis.Z{
			Score:  float64(record.LastUpdated.UnixMilli()),
			Member: record.LocationKey,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis put: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// GetUpdatedSince implements UpdatedSinceLister. The index has millisecond resolution,
// so candidates are re-checked against the decoded LastUpdated.
func (c *RedisCache) GetUpdatedSince(ctx context.Context, since time.Time) ([]models.ForecastRecord, error) {
	keys, err := c.client.ZRangeByScore(ctx, updatedIndexKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis index: %w", ErrCacheUnavailable, err)
	}
	if len(keys) == 0 {
		return []models.ForecastRecord{}, nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = redisKey(k)
	}
	vals, err := c.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis mget: %w", ErrCacheUnavailable, err)
	}
	out := make([]models.ForecastRecord, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // index entry outlived its blob
		}
		var rec models.ForecastRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", ErrCacheUnavailable, keys[i], err)
		}
		if rec.LastUpdated.After(since) {
			out = append(out, rec)
		}
	}
	sortByLastUpdated(out)
	return out, nil
}

// Ping implements Pinger.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
