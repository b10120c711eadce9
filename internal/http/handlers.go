package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/skycast/forecast-service/internal/cache"
	"github.com/skycast/forecast-service/internal/lifecycle"
	"github.com/skycast/forecast-service/internal/models"
	"github.com/skycast/forecast-service/internal/preferences"
	"github.com/skycast/forecast-service/internal/service"
	"github.com/skycast/forecast-service/internal/validation"
)

// PlaceSearcher finds places matching a free-text query.
type PlaceSearcher interface {
	Search(ctx context.Context, query string, count int) ([]models.Place, error)
}

// BreakerState reports whether the forecast provider's circuit is open.
type BreakerState interface {
	CircuitOpen() bool
}

// HealthConfig holds the dependencies /health inspects. Nil fields are skipped.
type HealthConfig struct {
	Breaker   BreakerState
	Cache     cache.Pinger
	StartTime time.Time
	Version   string
}

// Dependencies wires the handler. Forecasts is required; the rest are optional and their
// routes answer 501 when missing.
type Dependencies struct {
	Forecasts     *service.ForecastService
	Places        PlaceSearcher
	Locator       service.IPLocator
	Preferences   preferences.Store
	Health        *HealthConfig
	Logger        *zap.Logger
	CityMinLength int
	CityMaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	forecasts     *service.ForecastService
	places        PlaceSearcher
	locator       service.IPLocator
	prefs         preferences.Store
	healthConfig  *HealthConfig
	logger        *zap.Logger
	cityMinLength int
	cityMaxLength int

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(d Dependencies) *Handler {
	h := &Handler{
		forecasts:     d.Forecasts,
		places:        d.Places,
		locator:       d.Locator,
		prefs:         d.Preferences,
		healthConfig:  d.Health,
		logger:        d.Logger,
		cityMinLength: d.CityMinLength,
		cityMaxLength: d.CityMaxLength,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.cityMaxLength <= 0 {
		h.cityMaxLength = 100
	}
	return h
}

// GetForecastByCity handles GET /forecast/city/{city}.
func (h *Handler) GetForecastByCity(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	if _, err := validation.ValidateCity(city, h.cityMinLength, h.cityMaxLength); err != nil {
		writeServiceError(w, r, err)
		return
	}

	rec, err := h.forecasts.GetForecastByCity(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetForecastByCoordinates handles GET /forecast/coordinates?lat=&lon=.
func (h *Handler) GetForecastByCoordinates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ValidateCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	rec, err := h.forecasts.GetForecastByCoordinates(r.Context(), lat, lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type ipForecastResponse struct {
	Location models.IPLocation     `json:"location"`
	Forecast models.ForecastRecord `json:"forecast"`
}

// GetForecastForIP handles GET /forecast/ip. The caller's address is used unless ?ip= is given.
func (h *Handler) GetForecastForIP(w http.ResponseWriter, r *http.Request) {
	rec, loc, err := h.forecasts.ForecastForIP(r.Context(), requestIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ipForecastResponse{Location: loc, Forecast: rec})
}

type recentResponse struct {
	Since     time.Time               `json:"since"`
	Count     int                     `json:"count"`
	Forecasts []models.ForecastRecord `json:"forecasts"`
}

// GetRecentForecasts handles GET /forecast/recent?since=RFC3339.
func (h *Handler) GetRecentForecasts(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_SINCE", "since is required (RFC3339)", false)
		return
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SINCE", fmt.Sprintf("since %q is not RFC3339", raw), false)
		return
	}

	recs, err := h.forecasts.RecentForecasts(r.Context(), since)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.ForecastRecord{}
	}
	writeJSON(w, http.StatusOK, recentResponse{Since: since.UTC(), Count: len(recs), Forecasts: recs})
}

type placesResponse struct {
	Query   string         `json:"query"`
	Results []models.Place `json:"results"`
}

// SearchPlaces handles GET /places/search?q=&count=.
func (h *Handler) SearchPlaces(w http.ResponseWriter, r *http.Request) {
	if h.places == nil {
		writeError(w, r, http.StatusNotImplemented, "NOT_SUPPORTED", "place search not configured", false)
		return
	}
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))

	count := 0
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, "INVALID_COUNT", "count must be a positive integer", false)
			return
		}
		count = n
	}

	places, err := h.places.Search(r.Context(), query, count)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, placesResponse{Query: query, Results: places})
}

// GetIPLocation handles GET /location/ip.
func (h *Handler) GetIPLocation(w http.ResponseWriter, r *http.Request) {
	if h.locator == nil {
		writeServiceError(w, r, service.ErrNoIPLocator)
		return
	}
	loc, err := h.locator.Lookup(r.Context(), requestIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// GetPreferences handles GET /preferences/{profile}.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.profileFromRequest(w, r)
	if !ok {
		return
	}
	prefs, err := h.prefs.Get(r.Context(), profile)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// PatchPreferences handles PATCH /preferences/{profile}. Omitted fields keep their value.
func (h *Handler) PatchPreferences(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.profileFromRequest(w, r)
	if !ok {
		return
	}

	var patch models.PreferencesPatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "body must be a JSON object of boolean preference fields", false)
		return
	}

	prefs, err := h.prefs.Update(r.Context(), profile, patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) profileFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.prefs == nil {
		writeError(w, r, http.StatusNotImplemented, "NOT_SUPPORTED", "preferences not configured", false)
		return "", false
	}
	profile := mux.Vars(r)["profile"]
	if err := validation.ValidateProfile(profile); err != nil {
		writeServiceError(w, r, err)
		return "", false
	}
	return profile, true
}

// requestIP returns ?ip= when present, else the first X-Forwarded-For hop, else the peer address.
func requestIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.URL.Query().Get("ip")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "forecast-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil {
		if h.healthConfig.Version != "" {
			resp["version"] = h.healthConfig.Version
		}
		if !h.healthConfig.StartTime.IsZero() {
			resp["uptimeSeconds"] = int64(time.Since(h.healthConfig.StartTime).Seconds())
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > circuit open > cache unreachable > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) (healthResult, map[string]string) {
	checks := map[string]string{"forecastApi": "healthy"}
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}, checks
	}

	var result *healthResult
	if h.healthConfig.Breaker != nil && h.healthConfig.Breaker.CircuitOpen() {
		checks["forecastApi"] = "unhealthy"
		result = &healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.healthConfig.Cache != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.healthConfig.Cache.Ping(pingCtx)
		cancel()
		if err != nil {
			checks["cache"] = "unhealthy"
			if result == nil {
				result = &healthResult{"degraded", http.StatusServiceUnavailable, "cache_unreachable"}
			}
			if !errors.Is(err, context.Canceled) {
				h.logger.Warn("cache ping failed", zap.Error(err))
			}
		} else {
			checks["cache"] = "healthy"
		}
	}
	if result != nil {
		return *result, checks
	}
	return healthResult{"healthy", http.StatusOK, ""}, checks
}
