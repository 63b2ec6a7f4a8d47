package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from YAML, secrets, .env and env.
type Config struct {
	WeatherAPIKey      string        `validate:"required,min=10"`
	WeatherAPIURL      string        `validate:"required,url"`
	WeatherAPITimeout  time.Duration `validate:"gt=0"`
	// RateLimitRPS < 0 disables client-side limiting.
	RateLimitRPS       float64
	RateLimitBurst     int `validate:"gte=0"`
	BreakerEnabled     bool
	BreakerFailures    uint32        `validate:"required_if=BreakerEnabled true"`
	BreakerOpenTimeout time.Duration `validate:"gte=0"`

	ForecastDays int `validate:"min=1,max=14"`

	SearchMinQueryLength       int           `validate:"gte=1"`
	SearchMaxQueryLength       int           `validate:"gtefield=SearchMinQueryLength"`
	SearchDebounce             time.Duration `validate:"gte=0"`
	SearchMaxResults           int           `validate:"gte=1"`
	SearchDefaultQuery         string
	SearchRetainResultsOnError bool

	CacheBackend          string        `validate:"oneof=in_memory memcached"`
	CacheSearchTTL        time.Duration `validate:"gte=0"`
	CacheForecastTTL      time.Duration `validate:"gte=0"`
	CacheStaleRetention   time.Duration `validate:"gte=0"`
	CacheFetchTimeout     time.Duration `validate:"gt=0"`
	MemcachedAddrs        string        `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	StorageType     string `validate:"oneof=memory file sqlite redis"`
	StoragePath     string
	StorageRedisURL string `validate:"required_if=StorageType redis"`
	Profile         string `validate:"required"`

	FavoritesFetchErrorPolicy string        `validate:"oneof=keep rollback"`
	RefreshInterval           time.Duration `validate:"gt=0"`

	// MetricsAddr enables the ops listener when non-empty.
	MetricsAddr      string
	HealthWindow     time.Duration `validate:"gt=0"`
	HealthErrorPct   float64       `validate:"gte=0,lte=100"`
	HealthMinSamples int           `validate:"gte=0"`

	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type fileConfig struct {
	WeatherAPI struct {
		URL            string  `yaml:"url"`
		Timeout        string  `yaml:"timeout"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
		ForecastDays   int     `yaml:"forecast_days"`
		Breaker        struct {
			Enabled     *bool  `yaml:"enabled"`
			Failures    uint32 `yaml:"failures"`
			OpenTimeout string `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"weather_api"`

	Search struct {
		MinQueryLength       int     `yaml:"min_query_length"`
		MaxQueryLength       int     `yaml:"max_query_length"`
		Debounce             string  `yaml:"debounce"`
		MaxResults           int     `yaml:"max_results"`
		DefaultQuery         *string `yaml:"default_query"`
		RetainResultsOnError bool    `yaml:"retain_results_on_error"`
	} `yaml:"search"`

	Cache struct {
		Backend        string `yaml:"backend"`
		SearchTTL      string `yaml:"search_ttl"`
		ForecastTTL    string `yaml:"forecast_ttl"`
		StaleRetention string `yaml:"stale_retention"`
		FetchTimeout   string `yaml:"fetch_timeout"`
		Memcached      struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Storage struct {
		Type     string `yaml:"type"`
		Path     string `yaml:"path"`
		RedisURL string `yaml:"redis_url"`
		Profile  string `yaml:"profile"`
	} `yaml:"storage"`

	Favorites struct {
		FetchErrorPolicy string `yaml:"fetch_error_policy"`
		RefreshInterval  string `yaml:"refresh_interval"`
	} `yaml:"favorites"`

	Metrics struct {
		Addr             string  `yaml:"addr"`
		HealthWindow     string  `yaml:"health_window"`
		HealthErrorPct   float64 `yaml:"health_error_pct"`
		HealthMinSamples int     `yaml:"health_min_samples"`
	} `yaml:"metrics"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads .env (optional), config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml relative to the working directory. The API key comes from
// WEATHER_API_KEY or the secrets file.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom is Load rooted at dir instead of the working directory.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(fc)

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("WEATHER_API_KEY"))
	if cfg.WeatherAPIKey == "" {
		key, err := readSecrets(filepath.Join(dir, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.weatherapi.com/v1"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.RateLimitRPS = fc.WeatherAPI.RateLimitRPS
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 5
	}
	cfg.RateLimitBurst = fc.WeatherAPI.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	cfg.ForecastDays = fc.WeatherAPI.ForecastDays
	if cfg.ForecastDays == 0 {
		cfg.ForecastDays = 5
	}
	cfg.BreakerEnabled = true
	if fc.WeatherAPI.Breaker.Enabled != nil {
		cfg.BreakerEnabled = *fc.WeatherAPI.Breaker.Enabled
	}
	cfg.BreakerFailures = fc.WeatherAPI.Breaker.Failures
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.WeatherAPI.Breaker.OpenTimeout, 30*time.Second)

	cfg.SearchMinQueryLength = fc.Search.MinQueryLength
	if cfg.SearchMinQueryLength <= 0 {
		cfg.SearchMinQueryLength = 2
	}
	cfg.SearchMaxQueryLength = fc.Search.MaxQueryLength
	if cfg.SearchMaxQueryLength <= 0 {
		cfg.SearchMaxQueryLength = 100
	}
	cfg.SearchDebounce = parseDurationOrZero(fc.Search.Debounce, 300*time.Millisecond)
	cfg.SearchMaxResults = fc.Search.MaxResults
	if cfg.SearchMaxResults <= 0 {
		cfg.SearchMaxResults = 5
	}
	cfg.SearchDefaultQuery = "Italy"
	if fc.Search.DefaultQuery != nil {
		cfg.SearchDefaultQuery = strings.TrimSpace(*fc.Search.DefaultQuery)
	}
	cfg.SearchRetainResultsOnError = fc.Search.RetainResultsOnError

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheSearchTTL = parseDurationOrZero(fc.Cache.SearchTTL, 30*time.Second)
	cfg.CacheForecastTTL = parseDurationOrZero(fc.Cache.ForecastTTL, 10*time.Minute)
	cfg.CacheStaleRetention = parseDurationOrZero(fc.Cache.StaleRetention, 24*time.Hour)
	cfg.CacheFetchTimeout = parseDuration(fc.Cache.FetchTimeout, 15*time.Second)
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.StorageType = strings.TrimSpace(strings.ToLower(fc.Storage.Type))
	if cfg.StorageType == "" {
		cfg.StorageType = "file"
	}
	cfg.StoragePath = strings.TrimSpace(fc.Storage.Path)
	cfg.StorageRedisURL = strings.TrimSpace(fc.Storage.RedisURL)
	cfg.Profile = strings.TrimSpace(fc.Storage.Profile)
	if cfg.Profile == "" {
		cfg.Profile = "default"
	}

	cfg.FavoritesFetchErrorPolicy = strings.TrimSpace(strings.ToLower(fc.Favorites.FetchErrorPolicy))
	if cfg.FavoritesFetchErrorPolicy == "" {
		cfg.FavoritesFetchErrorPolicy = "keep"
	}
	cfg.RefreshInterval = parseDuration(fc.Favorites.RefreshInterval, 15*time.Minute)

	cfg.MetricsAddr = strings.TrimSpace(fc.Metrics.Addr)
	cfg.HealthWindow = parseDuration(fc.Metrics.HealthWindow, 60*time.Second)
	cfg.HealthErrorPct = fc.Metrics.HealthErrorPct
	if cfg.HealthErrorPct <= 0 {
		cfg.HealthErrorPct = 20
	}
	cfg.HealthMinSamples = fc.Metrics.HealthMinSamples
	if cfg.HealthMinSamples <= 0 {
		cfg.HealthMinSamples = 3
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 5*time.Second)
	return cfg
}

// applyEnv applies environment overrides on top of file values.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))); v != "" {
		cfg.CacheBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_TYPE"))); v != "" {
		cfg.StorageType = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.StorageRedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WEATHER_PROFILE")); v != "" {
		cfg.Profile = v
	}
	if v := strings.TrimSpace(os.Getenv("METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero is returned as-is so TTLs and debounce can be disabled explicitly.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks struct tags. Field values are left out of the message so the
// API key never reaches logs.
func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
