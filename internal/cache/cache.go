package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skycast/forecast-service/internal/models"
)

// ErrCacheUnavailable wraps every backend failure, including stored blobs that no longer decode.
var ErrCacheUnavailable = errors.New("forecast cache unavailable")

// Cache is the Local Forecast Cache contract. It stores records by LocationKey and performs
// no validation or expiry; freshness is decided by the caller.
type Cache interface {
	// Get returns (record, true, nil) on hit and (zero, false, nil) on miss.
	Get(ctx context.Context, key string) (models.ForecastRecord, bool, error)
	// Put replaces any record stored under record.LocationKey.
	Put(ctx context.Context, record models.ForecastRecord) error
}

// UpdatedSinceLister is implemented by backends that can enumerate records, for diagnostics.
type UpdatedSinceLister interface {
	// GetUpdatedSince returns records with LastUpdated strictly after since, oldest first.
	GetUpdatedSince(ctx context.Context, since time.Time) ([]models.ForecastRecord, error)
}

// Pinger is implemented by backends with a reachability check for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// InMemoryCache is a process-local Cache. Safe for concurrent use; not durable.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]models.ForecastRecord
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]models.ForecastRecord),
	}
}

// Get implements Cache.Get.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.ForecastRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ForecastRecord{}, false, err
	}
	c.mu.RLock()
	rec, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.ForecastRecord{}, false, nil
	}
	return rec.Clone(), true, nil
}

// Put implements Cache.Put.
func (c *InMemoryCache) Put(ctx context.Context, record models.ForecastRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.data[record.LocationKey] = record.Clone()
	c.mu.Unlock()
	return nil
}

// GetUpdatedSince implements UpdatedSinceLister.
func (c *InMemoryCache) GetUpdatedSince(ctx context.Context, since time.Time) ([]models.ForecastRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	out := make([]models.ForecastRecord, 0, len(c.data))
	for _, rec := range c.data {
		if rec.LastUpdated.After(since) {
			out = append(out, rec.Clone())
		}
	}
	c.mu.RUnlock()
	sortByLastUpdated(out)
	return out, nil
}

func sortByLastUpdated(recs []models.ForecastRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].LastUpdated.Equal(recs[j].LastUpdated) {
			return recs[i].LocationKey < recs[j].LocationKey
		}
		return recs[i].LastUpdated.Before(recs[j].LastUpdated)
	})
}

// ErrorCategory returns a stable metric label for a cache error.
func ErrorCategory(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") || strings.Contains(errStr, "refused"):
		return "connection"
	case strings.Contains(errStr, "decode"):
		return "decode"
	default:
		return "unknown"
	}
}
