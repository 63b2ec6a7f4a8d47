package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Upstream call rate per endpoint (search, forecast, validate). Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency per call. Watch for: p95 close to the client timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Calls rejected locally because the circuit breaker is open.
	WeatherAPIBreakerRejectsTotal prometheus.Counter

	// Response cache lookups by request kind and result (hit, stale, miss).
	// Hit rate = hit/(hit+stale+miss); stale serves trigger one background refresh each.
	CacheLookupsTotal *prometheus.CounterVec

	// Fetches executed on behalf of the cache (foreground and background) by kind and status.
	CacheFetchesTotal *prometheus.CounterVec

	// Callers that attached to an in-flight fetch instead of issuing their own.
	CacheCoalescedTotal *prometheus.CounterVec

	// Background refreshes started for stale entries, by kind and status.
	CacheRefreshesTotal *prometheus.CounterVec

	// Entry store failures (in_memory never fails; memcached can).
	CacheStoreErrorsTotal *prometheus.CounterVec

	// City searches that reached the upstream path (after debounce).
	SearchRequestsTotal prometheus.Counter

	// Search or forecast results discarded because a newer query was issued.
	SearchSupersededTotal prometheus.Counter

	// Debounce timer restarts (keystrokes arriving within the quiet window).
	SearchDebounceRestartsTotal prometheus.Counter

	// Favorite toggles by action (added, removed, rolled_back).
	FavoritesTogglesTotal *prometheus.CounterVec

	// Per-identifier failures while resolving favorites.
	FavoritesResolveErrorsTotal prometheus.Counter

	// Key-value storage operations by backend, op and status.
	StorageOperationsTotal *prometheus.CounterVec

	// Ops listener request rate.
	HTTPRequestsTotal *prometheus.CounterVec

	// Ops listener latency.
	HTTPRequestDuration *prometheus.HistogramVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of WeatherAPI calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "WeatherAPI latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIBreakerRejectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiBreakerRejectsTotal",
			Help: "Upstream calls rejected while the circuit breaker was open",
		},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Response cache lookups by kind and result (hit, stale, miss)",
		},
		[]string{"kind", "result"},
	)
	CacheFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheFetchesTotal",
			Help: "Fetches executed by the response cache by kind and status",
		},
		[]string{"kind", "status"},
	)
	CacheCoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheCoalescedTotal",
			Help: "Callers attached to an in-flight fetch for the same key",
		},
		[]string{"kind"},
	)
	CacheRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheRefreshesTotal",
			Help: "Background refreshes of stale entries by kind and status",
		},
		[]string{"kind", "status"},
	)
	CacheStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStoreErrorsTotal",
			Help: "Cache entry store errors by operation",
		},
		[]string{"operation"},
	)
	SearchRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "searchRequestsTotal",
			Help: "City searches issued after the debounce window",
		},
	)
	SearchSupersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "searchSupersededTotal",
			Help: "Search or forecast results discarded because a newer query was current",
		},
	)
	SearchDebounceRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "searchDebounceRestartsTotal",
			Help: "Debounce timer restarts caused by input within the quiet window",
		},
	)
	FavoritesTogglesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "favoritesTogglesTotal",
			Help: "Favorite toggles by action",
		},
		[]string{"action"},
	)
	FavoritesResolveErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "favoritesResolveErrorsTotal",
			Help: "Favorite identifiers that failed to resolve to a forecast",
		},
	)
	StorageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storageOperationsTotal",
			Help: "Key-value storage operations by backend, operation and status",
		},
		[]string{"backend", "operation", "status"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of ops listener requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "Ops listener latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	registry.MustRegister(
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIBreakerRejectsTotal,
		CacheLookupsTotal, CacheFetchesTotal, CacheCoalescedTotal, CacheRefreshesTotal, CacheStoreErrorsTotal,
		SearchRequestsTotal, SearchSupersededTotal, SearchDebounceRestartsTotal,
		FavoritesTogglesTotal, FavoritesResolveErrorsTotal,
		StorageOperationsTotal,
		HTTPRequestsTotal, HTTPRequestDuration,
	)
}

// RecordStorageOp records a key-value storage operation outcome.
func RecordStorageOp(backend, op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StorageOperationsTotal.WithLabelValues(backend, op, status).Inc()
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
