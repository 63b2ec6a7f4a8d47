package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/cache"
	"github.com/kjstillabower/city-weather/internal/client"
	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/validation"
)

type Config struct {
	SearchTTL    time.Duration
	ForecastTTL  time.Duration
	ForecastDays int
}

// WeatherService routes every upstream call through the shared ResponseCache.
// Search, favorites and detail all read forecasts through the same keys, so a
// forecast fetched for one is a hit for the others.
type WeatherService struct {
	client client.WeatherClient
	cache  *cache.ResponseCache
	cfg    Config
	logger *zap.Logger
}

func NewWeatherService(c client.WeatherClient, rc *cache.ResponseCache, cfg Config, logger *zap.Logger) *WeatherService {
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = client.DefaultForecastDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{client: c, cache: rc, cfg: cfg, logger: logger}
}

// SearchCities returns the upstream candidates for query, cached under (search, normalized query).
func (s *WeatherService) SearchCities(ctx context.Context, query string) ([]models.CityCandidate, error) {
	key := cache.SearchKey(query)
	start := time.Now()
	results, err := cache.GetOrFetch(ctx, s.cache, key, s.cfg.SearchTTL, func(ctx context.Context) ([]models.CityCandidate, error) {
		return s.client.SearchCities(ctx, query)
	})
	if err != nil {
		s.logger.Debug("search failed", zap.String("query", key.Params), zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
		return nil, fmt.Errorf("search %q: %w", key.Params, err)
	}
	s.logger.Debug("search served", zap.String("query", key.Params), zap.Int("results", len(results)), zap.Duration("duration", time.Since(start)))
	return results, nil
}

// Forecast returns the forecast for cityID, cached under (forecast, id, days).
func (s *WeatherService) Forecast(ctx context.Context, cityID string) (models.ForecastSnapshot, error) {
	id, err := validation.ValidateIdentifier(cityID)
	if err != nil {
		return models.ForecastSnapshot{}, fmt.Errorf("forecast: %w", err)
	}
	key := cache.ForecastKey(id, s.cfg.ForecastDays)
	snap, err := cache.GetOrFetch(ctx, s.cache, key, s.cfg.ForecastTTL, func(ctx context.Context) (models.ForecastSnapshot, error) {
		return s.client.FetchForecast(ctx, id, s.cfg.ForecastDays)
	})
	if err != nil {
		s.logger.Debug("forecast failed", zap.String("id", id), zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
		return models.ForecastSnapshot{}, fmt.Errorf("forecast %s: %w", id, err)
	}
	return snap, nil
}

// InvalidateForecast drops the cached forecast for cityID so the next read refetches it.
func (s *WeatherService) InvalidateForecast(ctx context.Context, cityID string) error {
	return s.cache.Invalidate(ctx, cache.ForecastKey(cityID, s.cfg.ForecastDays))
}

func (s *WeatherService) ForecastDays() int {
	return s.cfg.ForecastDays
}
