package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string

	ForecastAPIKey     string
	ForecastAPIURL     string
	ForecastAPITimeout time.Duration
	UnitGroup          string
	Include            string
	ContentType        string

	RequestTimeout time.Duration

	CacheBackend   string // in_memory, memcached, redis, mysql or postgres
	CacheFreshness time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseDSN string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	// Zero UpstreamRPS disables the outbound limiter.
	UpstreamRPS   float64
	UpstreamBurst int

	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenRequests uint32
	BreakerInterval         time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	WarmingEnabled   bool
	WarmingInterval  time.Duration
	WarmingLocations []string

	IPAPIURL        string
	GeocodingURL    string
	LocationTimeout time.Duration
	SearchCount     int

	PreferencesBackend string // in_memory or redis

	CityMinLength int
	CityMaxLength int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	ForecastAPI struct {
		URL         string `yaml:"url"`
		Timeout     string `yaml:"timeout"`
		UnitGroup   string `yaml:"unit_group"`
		Include     string `yaml:"include"`
		ContentType string `yaml:"content_type"`
	} `yaml:"forecast_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Freshness string `yaml:"freshness"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
		SQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"sql"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int     `yaml:"retry_max_attempts"`
		RetryBaseDelay   string  `yaml:"retry_base_delay"`
		RetryMaxDelay    string  `yaml:"retry_max_delay"`
		RateLimitRPS     int     `yaml:"rate_limit_rps"`
		RateLimitBurst   int     `yaml:"rate_limit_burst"`
		UpstreamRPS      float64 `yaml:"upstream_rps"`
		UpstreamBurst    int     `yaml:"upstream_burst"`
		CircuitBreaker   struct {
			FailureThreshold uint32 `yaml:"failure_threshold"`
			OpenTimeout      string `yaml:"open_timeout"`
			HalfOpenRequests uint32 `yaml:"half_open_requests"`
			Interval         string `yaml:"interval"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Coalesce struct {
		Enabled bool   `yaml:"enabled"`
		Timeout string `yaml:"timeout"`
	} `yaml:"coalesce"`

	Warming struct {
		Enabled   bool     `yaml:"enabled"`
		Interval  string   `yaml:"interval"`
		Locations []string `yaml:"locations"`
	} `yaml:"warming"`

	Location struct {
		IPAPIURL     string `yaml:"ip_api_url"`
		GeocodingURL string `yaml:"geocoding_url"`
		Timeout      string `yaml:"timeout"`
		SearchCount  int    `yaml:"search_count"`
	} `yaml:"location"`

	Preferences struct {
		Backend string `yaml:"backend"`
	} `yaml:"preferences"`

	Validation struct {
		CityMinLength int `yaml:"city_min_length"`
		CityMaxLength int `yaml:"city_max_length"`
	} `yaml:"validation"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	ForecastAPIKey string `yaml:"forecast_api_key"`
	RedisPassword  string `yaml:"redis_password"`
	DatabaseDSN    string `yaml:"database_dsn"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first; variables already set win.
// Env overrides file values. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.ForecastAPIKey = firstNonEmpty(os.Getenv("FORECAST_API_KEY"), sec.ForecastAPIKey)
	if cfg.ForecastAPIKey == "" {
		return nil, fmt.Errorf("FORECAST_API_KEY required (set env or config/secrets.yaml forecast_api_key)")
	}
	cfg.ForecastAPIURL = firstNonEmpty(fc.ForecastAPI.URL, "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline")
	cfg.ForecastAPITimeout = parseDurationOrZero(fc.ForecastAPI.Timeout, 30*time.Second)
	cfg.UnitGroup = firstNonEmpty(fc.ForecastAPI.UnitGroup, "metric")
	cfg.Include = firstNonEmpty(fc.ForecastAPI.Include, "current,days,hours")
	cfg.ContentType = firstNonEmpty(fc.ForecastAPI.ContentType, "json")

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 45*time.Second)

	cfg.CacheBackend = normalizeBackend(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend)
	cfg.CacheFreshness = parseDuration(fc.Cache.Freshness, 24*time.Hour)

	cfg.MemcachedAddrs = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")), strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = firstNonEmpty(strings.TrimSpace(os.Getenv("REDIS_ADDR")), strings.TrimSpace(fc.Cache.Redis.Addr), "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Cache.Redis.DB

	cfg.DatabaseDSN = firstNonEmpty(os.Getenv("DATABASE_DSN"), sec.DatabaseDSN, fc.Cache.SQL.DSN)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.UpstreamRPS = fc.Reliability.UpstreamRPS
	if cfg.UpstreamRPS < 0 {
		cfg.UpstreamRPS = 0
	}
	cfg.UpstreamBurst = fc.Reliability.UpstreamBurst
	if cfg.UpstreamBurst <= 0 {
		cfg.UpstreamBurst = 1
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.BreakerFailureThreshold = cb.FailureThreshold
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerOpenTimeout = parseDuration(cb.OpenTimeout, 30*time.Second)
	cfg.BreakerHalfOpenRequests = cb.HalfOpenRequests
	if cfg.BreakerHalfOpenRequests == 0 {
		cfg.BreakerHalfOpenRequests = 1
	}
	cfg.BreakerInterval = parseDurationOrZero(cb.Interval, 0)

	cfg.CoalesceEnabled = fc.Coalesce.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Coalesce.Timeout, 35*time.Second)

	cfg.WarmingEnabled = fc.Warming.Enabled
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, time.Hour)
	cfg.WarmingLocations = fc.Warming.Locations

	cfg.IPAPIURL = firstNonEmpty(fc.Location.IPAPIURL, "http://ip-api.com")
	cfg.GeocodingURL = firstNonEmpty(fc.Location.GeocodingURL, "https://geocoding-api.open-meteo.com/v1/search")
	cfg.LocationTimeout = parseDuration(fc.Location.Timeout, 10*time.Second)
	cfg.SearchCount = fc.Location.SearchCount
	if cfg.SearchCount <= 0 {
		cfg.SearchCount = 10
	}

	cfg.PreferencesBackend = normalizeBackend(os.Getenv("PREFERENCES_BACKEND"), fc.Preferences.Backend)

	cfg.CityMinLength = fc.Validation.CityMinLength
	if cfg.CityMinLength <= 0 {
		cfg.CityMinLength = 1
	}
	cfg.CityMaxLength = fc.Validation.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 100
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSecrets reads the optional secrets file. A missing file yields empty secrets.
func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func normalizeBackend(envVal, fileVal string) string {
	b := strings.TrimSpace(strings.ToLower(envVal))
	if b == "" {
		b = strings.TrimSpace(strings.ToLower(fileVal))
	}
	if b == "" {
		b = "in_memory"
	}
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised above ForecastAPITimeout
// when needed.
func validate(cfg *Config) error {
	if cfg.ForecastAPITimeout <= 0 {
		return fmt.Errorf("forecast_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ForecastAPITimeout {
		cfg.RequestTimeout = cfg.ForecastAPITimeout + time.Second
	}
	if cfg.CityMinLength > cfg.CityMaxLength {
		return fmt.Errorf("validation.city_min_length (%d) exceeds city_max_length (%d)", cfg.CityMinLength, cfg.CityMaxLength)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
	case "mysql", "postgres":
		if cfg.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN required for cache.backend %q", cfg.CacheBackend)
		}
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached, redis, mysql or postgres, got %q", cfg.CacheBackend)
	}
	switch cfg.PreferencesBackend {
	case "in_memory", "redis":
	default:
		return fmt.Errorf("preferences.backend must be in_memory or redis, got %q", cfg.PreferencesBackend)
	}
	return nil
}
