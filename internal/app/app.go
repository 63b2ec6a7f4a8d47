// Package app owns construction and teardown of every shared resource: the
// upstream client, response cache, key-value storage, favorites store, search
// orchestrator and the optional ops listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/cache"
	"github.com/kjstillabower/city-weather/internal/client"
	"github.com/kjstillabower/city-weather/internal/config"
	"github.com/kjstillabower/city-weather/internal/detail"
	"github.com/kjstillabower/city-weather/internal/favorites"
	httphandler "github.com/kjstillabower/city-weather/internal/http"
	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/scheduler"
	"github.com/kjstillabower/city-weather/internal/search"
	"github.com/kjstillabower/city-weather/internal/service"
	"github.com/kjstillabower/city-weather/internal/storage"
	"github.com/kjstillabower/city-weather/internal/traffic"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Client    *client.WeatherAPIClient
	Tracker   *traffic.Tracker
	Cache     *cache.ResponseCache
	Weather   *service.WeatherService
	KV        storage.KV
	Favorites *favorites.Store
	Search    *search.Orchestrator

	memcached *cache.MemcachedStore
	ops       *http.Server
	opsAddr   string
}

// New builds the application from cfg. Favorites are loaded eagerly; a corrupt
// persisted value is logged and treated as an empty set.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Tracker: traffic.NewTracker(0)}

	policy, err := favorites.ParsePolicy(cfg.FavoritesFetchErrorPolicy)
	if err != nil {
		return nil, err
	}

	a.Client, err = client.NewWeatherAPIClientWithOptions(cfg.WeatherAPIKey, cfg.WeatherAPIURL, client.Options{
		Timeout:            cfg.WeatherAPITimeout,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		BreakerEnabled:     cfg.BreakerEnabled,
		BreakerFailures:    cfg.BreakerFailures,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
		Recorder:           a.Tracker,
		Logger:             logger.Named("client"),
	})
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}

	var store cache.Store
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheStaleRetention)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.memcached = mc
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryStore()
		logger.Info("cache backend: in_memory")
	}
	a.Cache = cache.NewResponseCache(store, cache.Config{
		FetchTimeout: cfg.CacheFetchTimeout,
		Logger:       logger.Named("cache"),
	})
	a.Weather = service.NewWeatherService(a.Client, a.Cache, service.Config{
		SearchTTL:    cfg.CacheSearchTTL,
		ForecastTTL:  cfg.CacheForecastTTL,
		ForecastDays: cfg.ForecastDays,
	}, logger.Named("service"))

	a.KV, err = storage.New(ctx, storage.Config{
		Type:     cfg.StorageType,
		Path:     cfg.StoragePath,
		RedisURL: cfg.StorageRedisURL,
		Profile:  cfg.Profile,
	})
	if err != nil {
		a.closeCache()
		return nil, fmt.Errorf("storage: %w", err)
	}
	logger.Info("storage backend", zap.String("type", cfg.StorageType), zap.String("profile", cfg.Profile))

	a.Favorites = favorites.New(a.KV, a.Weather, policy, logger.Named("favorites"))
	if _, err := a.Favorites.Load(ctx); err != nil {
		if !errors.Is(err, favorites.ErrCorruptFavorites) {
			_ = a.KV.Close()
			a.closeCache()
			return nil, err
		}
		logger.Warn("persisted favorites unreadable; starting empty", zap.Error(err))
	}

	a.Search = search.New(a.Weather, a.KV, search.Config{
		MinQueryLength:       cfg.SearchMinQueryLength,
		MaxQueryLength:       cfg.SearchMaxQueryLength,
		Debounce:             cfg.SearchDebounce,
		MaxResults:           cfg.SearchMaxResults,
		RetainResultsOnError: cfg.SearchRetainResultsOnError,
		DefaultQuery:         cfg.SearchDefaultQuery,
	}, logger.Named("search"))

	return a, nil
}

// Detail loads one city's forecast through the shared cache.
func (a *App) Detail(ctx context.Context, id string) (models.ForecastSnapshot, error) {
	return detail.Load(ctx, a.Weather, id)
}

// Watch re-resolves favorites every interval until ctx is done, calling report
// after each pass. The first pass runs immediately.
func (a *App) Watch(ctx context.Context, interval time.Duration, report func(favorites.Resolution)) error {
	s := scheduler.New(interval, func(jobCtx context.Context) {
		runCtx, cancel := context.WithCancel(jobCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		report(a.Favorites.Resolve(runCtx, a.Favorites.Current()))
	}, a.Logger.Named("scheduler"))
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// StartOps starts the /health and /metrics listener when cfg.MetricsAddr is set.
// It returns the bound address, or "" when the listener is disabled.
func (a *App) StartOps() (string, error) {
	if a.Config.MetricsAddr == "" {
		return "", nil
	}
	hc := httphandler.HealthConfig{
		Window:     a.Config.HealthWindow,
		ErrorPct:   a.Config.HealthErrorPct,
		MinSamples: a.Config.HealthMinSamples,
	}
	if a.memcached != nil {
		hc.CachePing = a.memcached.Ping
	}
	router := httphandler.NewRouter(httphandler.NewHandler(a.Client, a.Tracker, hc, a.Logger.Named("ops")))

	ln, err := net.Listen("tcp", a.Config.MetricsAddr)
	if err != nil {
		return "", fmt.Errorf("ops listener: %w", err)
	}
	a.ops = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	a.opsAddr = ln.Addr().String()
	go func() {
		a.Logger.Info("ops listener starting", zap.String("addr", a.opsAddr))
		if err := a.ops.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("ops listener", zap.Error(err))
		}
	}()
	return a.opsAddr, nil
}

// Close stops the orchestrator, the ops listener and background fetches, then
// releases storage and cache connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Search != nil {
		a.Search.Close()
	}
	if a.ops != nil {
		if err := a.ops.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ops shutdown: %w", err))
		}
	}
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if err := a.closeCache(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeCache() error {
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.memcached != nil {
		if err := a.memcached.Close(); err != nil {
			return fmt.Errorf("memcached close: %w", err)
		}
	}
	return nil
}
