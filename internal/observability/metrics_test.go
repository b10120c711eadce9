package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies label dimensions match usage across client, http, service and cache.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/forecast/city/{city}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/forecast/city/{city}").Observe(0.01)
	ForecastAPICallsTotal.WithLabelValues("success").Inc()
	ForecastAPIDuration.WithLabelValues("server_error").Observe(0.1)
	CacheLookupsTotal.WithLabelValues("hit").Inc()
	CacheErrorsTotal.WithLabelValues("get", "timeout").Inc()
	CacheOperationDurationSeconds.WithLabelValues("put", "success").Observe(0.002)
	ForecastQueriesTotal.WithLabelValues("coordinates").Inc()
	LocationLookupsTotal.WithLabelValues("ip", "success").Inc()
	CircuitBreakerState.WithLabelValues("forecast_api").Set(0)
}

func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
