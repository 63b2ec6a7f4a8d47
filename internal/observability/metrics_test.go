package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that every metric accepts the label dimensions used
// by the client, cache, search, favorites, storage and http packages.
func TestMetrics_Usable(t *testing.T) {
	WeatherAPICallsTotal.WithLabelValues("search", "success").Inc()
	WeatherAPICallsTotal.WithLabelValues("forecast", "error").Inc()
	WeatherAPIDuration.WithLabelValues("forecast", "success").Observe(0.1)
	WeatherAPIBreakerRejectsTotal.Inc()
	CacheLookupsTotal.WithLabelValues("forecast", "hit").Inc()
	CacheFetchesTotal.WithLabelValues("search", "success").Inc()
	CacheCoalescedTotal.WithLabelValues("forecast").Inc()
	CacheRefreshesTotal.WithLabelValues("forecast", "error").Inc()
	CacheStoreErrorsTotal.WithLabelValues("get").Inc()
	SearchRequestsTotal.Inc()
	SearchSupersededTotal.Inc()
	SearchDebounceRestartsTotal.Inc()
	FavoritesTogglesTotal.WithLabelValues("added").Inc()
	FavoritesResolveErrorsTotal.Inc()
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.01)
	RecordStorageOp("file", "get", nil)
	RecordStorageOp("sqlite", "set", errors.New("locked"))
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	CacheLookupsTotal.WithLabelValues("search", "miss").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "cacheLookupsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
