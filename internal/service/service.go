package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skycast/forecast-service/internal/cache"
	"github.com/skycast/forecast-service/internal/client"
	"github.com/skycast/forecast-service/internal/models"
	"github.com/skycast/forecast-service/internal/observability"
)

// DefaultFreshness is how long a cached forecast is served without asking the provider.
const DefaultFreshness = 24 * time.Hour

var (
	ErrInvalidLocation    = errors.New("invalid location")
	ErrListingUnsupported = errors.New("cache backend does not support listing")
	ErrNoIPLocator        = errors.New("ip location lookup not configured")
)

// IPLocator resolves a network address to a place.
type IPLocator interface {
	Lookup(ctx context.Context, ip string) (models.IPLocation, error)
}

// Options configures ForecastService. Zero values select defaults.
type Options struct {
	Freshness       time.Duration
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	IPLocator       IPLocator
	Logger          *zap.Logger
	Now             func() time.Time
}

// ForecastService decides per request whether to serve from cache or fetch from the provider,
// and writes fetched records back. It is the only writer of forecast records.
type ForecastService struct {
	source    client.ForecastSource
	cache     cache.Cache
	freshness time.Duration
	locator   IPLocator
	logger    *zap.Logger
	now       func() time.Time
	misses    *missTracker
	coalescer *requestCoalescer // nil when coalescing is off
}

func NewForecastService(source client.ForecastSource, c cache.Cache, opts Options) *ForecastService {
	s := &ForecastService{
		source:    source,
		cache:     c,
		freshness: opts.Freshness,
		locator:   opts.IPLocator,
		logger:    opts.Logger,
		now:       opts.Now,
		misses:    newMissTracker(),
	}
	if s.freshness <= 0 {
		s.freshness = DefaultFreshness
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.CoalesceEnabled {
		timeout := opts.CoalesceTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		s.coalescer = newRequestCoalescer(timeout)
	}
	return s
}

// GetForecastByCity serves the forecast for a free-text city. The cache key is the normalized
// name; the provider receives the name as given.
func (s *ForecastService) GetForecastByCity(ctx context.Context, city string) (models.ForecastRecord, error) {
	if strings.TrimSpace(city) == "" {
		return models.ForecastRecord{}, fmt.Errorf("%w: city name is empty", ErrInvalidLocation)
	}
	observability.ForecastQueriesTotal.WithLabelValues("city").Inc()
	return s.getForecast(ctx, NormalizeCity(city), func(ctx context.Context) (models.ForecastRecord, error) {
		return s.source.ForecastByPlace(ctx, city)
	})
}

// GetForecastByCoordinates serves the forecast for a coordinate pair keyed by CoordinateKey.
func (s *ForecastService) GetForecastByCoordinates(ctx context.Context, lat, lon float64) (models.ForecastRecord, error) {
	if !validCoordinate(lat, 90) || !validCoordinate(lon, 180) {
		return models.ForecastRecord{}, fmt.Errorf("%w: coordinates out of range (%v, %v)", ErrInvalidLocation, lat, lon)
	}
	observability.ForecastQueriesTotal.WithLabelValues("coordinates").Inc()
	return s.getForecast(ctx, CoordinateKey(lat, lon), func(ctx context.Context) (models.ForecastRecord, error) {
		return s.source.ForecastByCoordinates(ctx, lat, lon)
	})
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}

// ForecastForIP resolves ip to a city and serves that city's forecast. When the lookup has no
// city name the resolved coordinates are used instead.
func (s *ForecastService) ForecastForIP(ctx context.Context, ip string) (models.ForecastRecord, models.IPLocation, error) {
	if s.locator == nil {
		return models.ForecastRecord{}, models.IPLocation{}, ErrNoIPLocator
	}
	observability.ForecastQueriesTotal.WithLabelValues("ip").Inc()

	loc, err := s.locator.Lookup(ctx, ip)
	if err != nil {
		return models.ForecastRecord{}, models.IPLocation{}, fmt.Errorf("resolve location: %w", err)
	}

	var rec models.ForecastRecord
	if strings.TrimSpace(loc.City) != "" {
		rec, err = s.GetForecastByCity(ctx, loc.City)
	} else {
		rec, err = s.GetForecastByCoordinates(ctx, loc.Latitude, loc.Longitude)
	}
	if err != nil {
		return models.ForecastRecord{}, loc, err
	}
	return rec, loc, nil
}

// RecentForecasts lists cached records updated strictly after since, oldest first.
func (s *ForecastService) RecentForecasts(ctx context.Context, since time.Time) ([]models.ForecastRecord, error) {
	lister, ok := s.cache.(cache.UpdatedSinceLister)
	if !ok {
		return nil, ErrListingUnsupported
	}
	start := time.Now()
	recs, err := lister.GetUpdatedSince(ctx, since)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("list", cache.ErrorCategory(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("list", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("list forecasts updated since %s: %w", since.Format(time.RFC3339), err)
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("list", "success").Observe(time.Since(start).Seconds())
	return recs, nil
}

type fetchFunc func(ctx context.Context) (models.ForecastRecord, error)

func (s *ForecastService) getForecast(ctx context.Context, key string, fetch fetchFunc) (models.ForecastRecord, error) {
	start := time.Now()
	logger := s.loggerFor(ctx)

	if cached, ok := s.lookup(ctx, key, logger); ok {
		logger.Debug("forecast served", zap.String("location", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}

	if n := s.misses.begin(key); n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		logger.Debug("concurrent miss", zap.String("location", key), zap.Int("in_progress", n))
	}
	defer s.misses.end(key)

	var (
		rec models.ForecastRecord
		err error
	)
	if s.coalescer != nil {
		var shared bool
		rec, shared, err = s.coalescer.Do(ctx, key, func(fetchCtx context.Context) (models.ForecastRecord, error) {
			return s.fetchAndStore(fetchCtx, key, fetch, logger)
		})
		if shared {
			observability.RequestCoalescingSharedTotal.Inc()
			rec = rec.Clone()
		}
	} else {
		rec, err = s.fetchAndStore(ctx, key, fetch, logger)
	}
	if err != nil {
		return models.ForecastRecord{}, err
	}

	logger.Debug("forecast served", zap.String("location", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return rec, nil
}

// lookup returns the cached record when present and fresh. Read errors count as a miss.
func (s *ForecastService) lookup(ctx context.Context, key string, logger *zap.Logger) (models.ForecastRecord, bool) {
	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()

	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", cache.ErrorCategory(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		logger.Warn("cache read failed, fetching upstream", zap.String("location", key), zap.Error(err))
		return models.ForecastRecord{}, false
	case !ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
		logger.Debug("cache miss, fetching upstream", zap.String("location", key))
		return models.ForecastRecord{}, false
	}

	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
	if !s.isFresh(cached) {
		observability.CacheLookupsTotal.WithLabelValues("stale").Inc()
		logger.Debug("cached forecast stale, fetching upstream", zap.String("location", key), zap.Time("last_updated", cached.LastUpdated))
		return models.ForecastRecord{}, false
	}
	observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return cached, true
}

// isFresh is strict: a record exactly one window old is stale.
func (s *ForecastService) isFresh(rec models.ForecastRecord) bool {
	return s.now().Sub(rec.LastUpdated) < s.freshness
}

// fetchAndStore calls the provider, stamps the record and upserts it. A write failure is logged
// and the record is still returned. If ctx ends after the fetch the result is abandoned unwritten.
func (s *ForecastService) fetchAndStore(ctx context.Context, key string, fetch fetchFunc, logger *zap.Logger) (models.ForecastRecord, error) {
	rec, err := fetch(ctx)
	if err != nil {
		return models.ForecastRecord{}, fmt.Errorf("fetch forecast for %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		logger.Debug("request ended before cache write, result abandoned", zap.String("location", key))
		return models.ForecastRecord{}, err
	}

	rec.LocationKey = key
	rec.LastUpdated = s.now().UTC()

	putStart := time.Now()
	if putErr := s.cache.Put(ctx, rec); putErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("put", cache.ErrorCategory(putErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("put", "error").Observe(time.Since(putStart).Seconds())
		logger.Warn("cache write failed", zap.String("location", key), zap.Error(putErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("put", "success").Observe(time.Since(putStart).Seconds())
	}
	return rec, nil
}

func (s *ForecastService) loggerFor(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}
