package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skycast/forecast-service/internal/observability"
)

// RouterConfig holds the cross-cutting middleware settings.
type RouterConfig struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter // nil disables inbound rate limiting
	RequestTimeout time.Duration
}

// NewRouter mounts every route. /health and /metrics skip the rate limit and timeout.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	scoped := func(prefix string) *mux.Router {
		sub := router.PathPrefix(prefix).Subrouter()
		sub.Use(RateLimitMiddleware(cfg.Limiter))
		if cfg.RequestTimeout > 0 {
			sub.Use(TimeoutMiddleware(cfg.RequestTimeout))
		}
		return sub
	}

	forecastRouter := scoped("/forecast")
	forecastRouter.HandleFunc("/coordinates", h.GetForecastByCoordinates).Methods(http.MethodGet)
	forecastRouter.HandleFunc("/ip", h.GetForecastForIP).Methods(http.MethodGet)
	forecastRouter.HandleFunc("/recent", h.GetRecentForecasts).Methods(http.MethodGet)
	forecastRouter.HandleFunc("/city/{city}", h.GetForecastByCity).Methods(http.MethodGet)

	scoped("/places").HandleFunc("/search", h.SearchPlaces).Methods(http.MethodGet)
	scoped("/location").HandleFunc("/ip", h.GetIPLocation).Methods(http.MethodGet)

	prefsRouter := scoped("/preferences")
	prefsRouter.HandleFunc("/{profile}", h.GetPreferences).Methods(http.MethodGet)
	prefsRouter.HandleFunc("/{profile}", h.PatchPreferences).Methods(http.MethodPatch)

	return router
}
