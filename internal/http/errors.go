package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/skycast/forecast-service/internal/cache"
	"github.com/skycast/forecast-service/internal/client"
	"github.com/skycast/forecast-service/internal/location"
	"github.com/skycast/forecast-service/internal/observability"
	"github.com/skycast/forecast-service/internal/preferences"
	"github.com/skycast/forecast-service/internal/service"
	"github.com/skycast/forecast-service/internal/validation"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
	Retryable bool   `json:"retryable"`
}

// apiError is the HTTP rendering of a failed operation.
type apiError struct {
	status    int
	code      string
	message   string
	retryable bool
}

// classifyError maps domain errors to status, code and retryability. Refinements of
// ErrTransientFetch are checked before the base sentinel.
func classifyError(err error) apiError {
	switch {
	case errors.Is(err, validation.ErrInvalidCoordinates):
		return apiError{http.StatusBadRequest, "INVALID_COORDINATES", "Latitude must be within [-90, 90] and longitude within [-180, 180]", false}
	case errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, validation.ErrLocationEmpty),
		errors.Is(err, validation.ErrLocationTooShort),
		errors.Is(err, validation.ErrLocationTooLong),
		errors.Is(err, validation.ErrLocationInvalidChars):
		return apiError{http.StatusBadRequest, "INVALID_LOCATION", err.Error(), false}
	case errors.Is(err, validation.ErrInvalidProfile):
		return apiError{http.StatusBadRequest, "INVALID_PROFILE", "Profile id must be 1-64 letters, digits, '-' or '_'", false}
	case errors.Is(err, location.ErrEmptyQuery):
		return apiError{http.StatusBadRequest, "INVALID_QUERY", "Search query is required", false}
	case errors.Is(err, client.ErrLocationNotFound):
		return apiError{http.StatusNotFound, "LOCATION_NOT_FOUND", "Location not recognised by the forecast provider", false}
	case errors.Is(err, client.ErrMalformedResponse):
		return apiError{http.StatusBadGateway, "MALFORMED_UPSTREAM", "Forecast provider returned an unusable response", false}
	case errors.Is(err, client.ErrTransientFetch):
		return apiError{http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch forecast data", true}
	case errors.Is(err, location.ErrLookupFailed):
		return apiError{http.StatusBadGateway, "LOCATION_LOOKUP_FAILED", "Unable to resolve location", false}
	case errors.Is(err, service.ErrListingUnsupported), errors.Is(err, service.ErrNoIPLocator):
		return apiError{http.StatusNotImplemented, "NOT_SUPPORTED", err.Error(), false}
	case errors.Is(err, cache.ErrCacheUnavailable):
		return apiError{http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "Forecast cache unavailable", true}
	case errors.Is(err, preferences.ErrStoreUnavailable):
		return apiError{http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Preferences store unavailable", true}
	case errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", true}
	default:
		return apiError{http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to complete request", true}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with the request's correlation id.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]errorBody{
		"error": {
			Code:      code,
			Message:   message,
			RequestID: observability.CorrelationIDFromContext(r.Context()),
			Retryable: retryable,
		},
	})
}

// writeServiceError classifies err, logs it through the request logger and writes the envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e := classifyError(err)
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		fields := []zap.Field{
			zap.Error(err),
			zap.String("code", e.code),
			zap.String("category", string(client.CategorizeError(err))),
		}
		if e.status >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
	}
	writeError(w, r, e.status, e.code, e.message, e.retryable)
}
