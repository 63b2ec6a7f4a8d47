//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather/internal/cache"
	"github.com/kjstillabower/city-weather/internal/client"
	"github.com/kjstillabower/city-weather/internal/service"
	"github.com/kjstillabower/city-weather/internal/traffic"
)

// IntegrationTestConfig holds configuration for tests against the live WeatherAPI.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = client.DefaultBaseURL
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService builds a client, response cache and service against
// the live API. The returned tracker counts upstream outcomes. Cleanup is
// registered on t.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, *traffic.Tracker) {
	t.Helper()
	tracker := traffic.NewTracker(0)
	c, err := client.NewWeatherAPIClientWithOptions(cfg.APIKey, cfg.APIURL, client.Options{
		Timeout:        10 * time.Second,
		RateLimitRPS:   2,
		RateLimitBurst: 2,
		Recorder:       tracker,
	})
	if err != nil {
		t.Fatalf("NewWeatherAPIClientWithOptions() error = %v", err)
	}

	var store cache.Store = cache.NewInMemoryStore()
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, 2, time.Hour)
		if err == nil && mc.Ping() == nil {
			store = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available, using in-memory cache")
		}
	}

	rc := cache.NewResponseCache(store, cache.Config{FetchTimeout: 15 * time.Second})
	t.Cleanup(rc.Close)
	svc := service.NewWeatherService(c, rc, service.Config{
		SearchTTL:    time.Minute,
		ForecastTTL:  10 * time.Minute,
		ForecastDays: 3,
	}, nil)
	return svc, tracker
}
