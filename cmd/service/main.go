package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skycast/forecast-service/internal/cache"
	"github.com/skycast/forecast-service/internal/client"
	"github.com/skycast/forecast-service/internal/config"
	httphandler "github.com/skycast/forecast-service/internal/http"
	"github.com/skycast/forecast-service/internal/lifecycle"
	"github.com/skycast/forecast-service/internal/location"
	"github.com/skycast/forecast-service/internal/observability"
	"github.com/skycast/forecast-service/internal/preferences"
	"github.com/skycast/forecast-service/internal/service"
)

func main() {
	// config.Load reads .env first, so LOG_LEVEL from it applies to the logger.
	cfg, cfgErr := config.Load()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfgErr != nil {
		logger.Fatal("config", zap.Error(cfgErr))
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer startCancel()

	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" || cfg.PreferencesBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(startCtx).Err(); err != nil {
			logger.Fatal("redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	}

	cacheSvc, closeCache, err := newCache(startCtx, cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("cache", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}

	var upstreamLimiter *rate.Limiter
	if cfg.UpstreamRPS > 0 {
		upstreamLimiter = rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamBurst)
	}
	forecastClient, err := client.NewVisualCrossingClient(client.Config{
		APIKey:         cfg.ForecastAPIKey,
		BaseURL:        cfg.ForecastAPIURL,
		Timeout:        cfg.ForecastAPITimeout,
		UnitGroup:      cfg.UnitGroup,
		Include:        cfg.Include,
		ContentType:    cfg.ContentType,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Breaker: client.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenTimeout:      cfg.BreakerOpenTimeout,
			HalfOpenRequests: cfg.BreakerHalfOpenRequests,
			Interval:         cfg.BreakerInterval,
		},
		Limiter: upstreamLimiter,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}
	if err := forecastClient.ValidateAPIKey(startCtx); err != nil {
		logger.Warn("forecast api key check failed; continuing", zap.Error(err))
	}

	ipResolver := location.NewIPResolver(cfg.IPAPIURL, cfg.LocationTimeout)
	placeSearcher := location.NewPlaceSearcher(cfg.GeocodingURL, cfg.LocationTimeout, cfg.SearchCount)

	forecastService := service.NewForecastService(forecastClient, cacheSvc, service.Options{
		Freshness:       cfg.CacheFreshness,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		IPLocator:       ipResolver,
		Logger:          logger,
	})

	var prefStore preferences.Store
	switch cfg.PreferencesBackend {
	case "redis":
		prefStore = preferences.NewRedisStore(redisClient)
	default:
		prefStore = preferences.NewInMemoryStore()
	}
	logger.Info("preferences backend", zap.String("backend", cfg.PreferencesBackend))

	healthConfig := &httphandler.HealthConfig{
		Breaker:   forecastClient,
		StartTime: time.Now(),
	}
	if p, ok := cacheSvc.(cache.Pinger); ok {
		healthConfig.Cache = p
	}

	handler := httphandler.NewHandler(httphandler.Dependencies{
		Forecasts:     forecastService,
		Places:        placeSearcher,
		Locator:       ipResolver,
		Preferences:   prefStore,
		Health:        healthConfig,
		Logger:        logger,
		CityMinLength: cfg.CityMinLength,
		CityMaxLength: cfg.CityMaxLength,
	})

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	runCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	if cfg.WarmingEnabled && len(cfg.WarmingLocations) > 0 {
		warmer := cache.NewCacheWarmer(forecastService, logger)
		go func() {
			if err := warmer.WarmPeriodic(runCtx, cfg.WarmingLocations, cfg.WarmingInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
		logger.Info("cache warming scheduled", zap.Strings("locations", cfg.WarmingLocations), zap.Duration("interval", cfg.WarmingInterval))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("cache_backend", cfg.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if closeCache != nil {
		if err := closeCache(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis close", zap.Error(err))
		}
	}
	if err := observability.FlushTelemetry(logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// newCache builds the configured forecast cache. The returned closer is nil when the backend
// owns nothing beyond the shared redis client.
func newCache(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (cache.Cache, func() error, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc.Close, nil
	case "redis":
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
		return cache.NewRedisCache(redisClient), nil, nil
	case "mysql", "postgres":
		sc, err := cache.OpenSQLCache(ctx, cache.Dialect(cfg.CacheBackend), cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: sql", zap.String("dialect", cfg.CacheBackend))
		return sc, sc.Close, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(), nil, nil
	}
}
