package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skycast/forecast-service/internal/models"
	"github.com/skycast/forecast-service/internal/observability"
)

// DefaultBaseURL is the Visual Crossing timeline endpoint.
const DefaultBaseURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"

// ForecastSource is the remote weather provider. Returned records carry no LocationKey or
// LastUpdated; the repository stamps both.
type ForecastSource interface {
	ForecastByPlace(ctx context.Context, place string) (models.ForecastRecord, error)
	ForecastByCoordinates(ctx context.Context, lat, lon float64) (models.ForecastRecord, error)
}

var (
	// ErrTransientFetch covers network failures, timeouts and non-2xx responses.
	ErrTransientFetch = errors.New("transient forecast fetch failure")
	// ErrMalformedResponse is a 2xx response whose payload lacks required fields.
	ErrMalformedResponse = errors.New("malformed forecast response")

	ErrInvalidAPIKey    = fmt.Errorf("%w: invalid API key", ErrTransientFetch)
	ErrLocationNotFound = fmt.Errorf("%w: location not found", ErrTransientFetch)
	ErrRateLimited      = fmt.Errorf("%w: rate limited", ErrTransientFetch)
	ErrUpstreamFailure  = fmt.Errorf("%w: upstream failure", ErrTransientFetch)
	ErrCircuitOpen      = fmt.Errorf("%w: circuit breaker open", ErrTransientFetch)

	errNetwork = errors.New("network error")
)

// BreakerConfig tunes the circuit breaker guarding the provider.
type BreakerConfig struct {
	FailureThreshold uint32        // consecutive upstream failures that open the breaker
	OpenTimeout      time.Duration // time spent open before probing
	HalfOpenRequests uint32        // trial requests allowed while half-open
	Interval         time.Duration // closed-state counter reset period; 0 never resets
}

// Config configures VisualCrossingClient. Zero values fall back to defaults.
type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	UnitGroup   string
	Include     string
	ContentType string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	Breaker BreakerConfig

	// Limiter throttles outbound calls when non-nil.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// VisualCrossingClient fetches timeline forecasts with retries, a circuit breaker and an
// optional outbound rate limit.
type VisualCrossingClient struct {
	apiKey      string
	apiURL      string
	timeout     time.Duration
	unitGroup   string
	include     string
	contentType string

	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewVisualCrossingClient(cfg Config) (*VisualCrossingClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(cfg.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	applyDefaults(&cfg)

	c := &VisualCrossingClient{
		apiKey:         cfg.APIKey,
		apiURL:         cfg.BaseURL,
		timeout:        cfg.Timeout,
		unitGroup:      cfg.UnitGroup,
		include:        cfg.Include,
		contentType:    cfg.ContentType,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		client:         &http.Client{Timeout: cfg.Timeout},
		limiter:        cfg.Limiter,
		logger:         cfg.Logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "visualcrossing",
		MaxRequests: cfg.Breaker.HalfOpenRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return !isUpstreamFault(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			c.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	observability.CircuitBreakerState.WithLabelValues("visualcrossing").Set(float64(gobreaker.StateClosed))
	return c, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UnitGroup == "" {
		cfg.UnitGroup = "metric"
	}
	if cfg.Include == "" {
		cfg.Include = "current,days,hours"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "json"
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.OpenTimeout <= 0 {
		cfg.Breaker.OpenTimeout = 30 * time.Second
	}
	if cfg.Breaker.HalfOpenRequests == 0 {
		cfg.Breaker.HalfOpenRequests = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// ForecastByPlace fetches by free-text place name. The name is sent as given.
func (c *VisualCrossingClient) ForecastByPlace(ctx context.Context, place string) (models.ForecastRecord, error) {
	if strings.TrimSpace(place) == "" {
		return models.ForecastRecord{}, fmt.Errorf("%w: empty place name", ErrLocationNotFound)
	}
	return c.fetch(ctx, place)
}

// ForecastByCoordinates fetches by "lat,lon".
func (c *VisualCrossingClient) ForecastByCoordinates(ctx context.Context, lat, lon float64) (models.ForecastRecord, error) {
	return c.fetch(ctx, strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lon, 'f', -1, 64))
}

// CircuitOpen reports whether the breaker is currently rejecting calls.
func (c *VisualCrossingClient) CircuitOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

func (c *VisualCrossingClient) fetch(ctx context.Context, location string) (models.ForecastRecord, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ForecastAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.ForecastRecord{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.guardedCall(ctx, location)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			return models.ForecastRecord{}, err
		}
		c.logger.Debug("forecast fetch attempt failed",
			zap.String("location", location),
			zap.Int("attempt", attempt+1),
			zap.String("category", string(CategorizeError(err))),
			zap.Error(err),
		)
	}

	return models.ForecastRecord{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *VisualCrossingClient) guardedCall(ctx context.Context, location string) (models.ForecastRecord, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.ForecastRecord{}, fmt.Errorf("%w: upstream limiter: %w", ErrTransientFetch, err)
		}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, location)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.ForecastAPICallsTotal.WithLabelValues("circuit_open").Inc()
			return models.ForecastRecord{}, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
		return models.ForecastRecord{}, err
	}
	return out.(models.ForecastRecord), nil
}

func (c *VisualCrossingClient) callAPI(ctx context.Context, location string) (models.ForecastRecord, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, location, c.include)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		return models.ForecastRecord{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.ForecastRecord{}, fmt.Errorf("%w: %w: request timeout: %w", ErrTransientFetch, errNetwork, err)
		}
		return models.ForecastRecord{}, fmt.Errorf("%w: %w: http request failed: %w", ErrTransientFetch, errNetwork, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.ForecastAPICallsTotal.WithLabelValues(status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return models.ForecastRecord{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ForecastRecord{}, fmt.Errorf("%w: %w: read response body: %w", ErrTransientFetch, errNetwork, err)
	}
	return decodeTimeline(body)
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) || errors.Is(err, errNetwork)
}

// isUpstreamFault decides what the breaker counts as a failure. Caller mistakes, bad payloads
// and caller cancellation say nothing about provider health.
func isUpstreamFault(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrUpstreamFailure) || errors.Is(err, ErrRateLimited) || errors.Is(err, errNetwork)
}

func (c *VisualCrossingClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *VisualCrossingClient) buildRequest(ctx context.Context, location, include string) (*http.Request, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	escapedBase := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + location
	u.RawPath = escapedBase + "/" + url.PathEscape(location)

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("unitGroup", c.unitGroup)
	params.Set("include", include)
	params.Set("contentType", c.contentType)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail := bodySnippet(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusBadRequest, http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d: %s", ErrLocationNotFound, resp.StatusCode, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	}
	return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
}

// bodySnippet returns the first line of a plain-text error body.
func bodySnippet(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 256))
	s := strings.TrimSpace(string(raw))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey makes one lightweight request. It bypasses retries and the breaker.
func (c *VisualCrossingClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London", "current")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
