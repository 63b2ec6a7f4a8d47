package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/observability"
	"github.com/kjstillabower/city-weather/internal/traffic"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"

	defaultKeyCheckInterval = 5 * time.Minute
)

// KeyValidator checks that the configured upstream API key is accepted.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context) error
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	// Window and ErrorPct define the upstream error rate that marks the app degraded.
	Window     time.Duration
	ErrorPct   float64
	MinSamples int
	// KeyCheckInterval is how long an API key validation result is reused.
	KeyCheckInterval time.Duration
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	Version   string
}

// Handler serves the ops endpoints.
type Handler struct {
	validator KeyValidator
	tracker   *traffic.Tracker
	cfg       HealthConfig
	logger    *zap.Logger
	now       func() time.Time

	keyMu        sync.Mutex
	keyCheckedAt time.Time
	keyErr       error

	statusMu   sync.Mutex
	statusPrev string
}

func NewHandler(validator KeyValidator, tracker *traffic.Tracker, cfg HealthConfig, logger *zap.Logger) *Handler {
	if cfg.KeyCheckInterval <= 0 {
		cfg.KeyCheckInterval = defaultKeyCheckInterval
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		validator: validator,
		tracker:   tracker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// NewRouter wires /health and /metrics behind correlation-id and metrics middleware.
func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(h.logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	return router
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

type healthResponse struct {
	Status    string            `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Upstream  upstreamStats     `json:"upstream"`
	Timestamp string            `json:"timestamp"`
}

type upstreamStats struct {
	Window    string  `json:"window"`
	Successes int     `json:"successes"`
	Errors    int     `json:"errors"`
	Denied    int     `json:"denied"`
	ErrorPct  float64 `json:"errorPct"`
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)
	result := h.computeHealthStatus(r.Context())

	h.statusMu.Lock()
	if h.statusPrev != "" && h.statusPrev != result.status {
		logger.Info("health status transition",
			zap.String("previous_status", h.statusPrev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.statusPrev = result.status
	h.statusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == StatusDegraded {
		checks["weatherApi"] = "unhealthy"
	}
	if h.cfg.CachePing != nil {
		if err := h.cfg.CachePing(); err != nil {
			logger.Debug("cache ping failed", zap.Error(err))
			checks["cache"] = "unhealthy"
		} else {
			checks["cache"] = "healthy"
		}
	}

	var stats traffic.Stats
	if h.tracker != nil {
		stats = h.tracker.Stats(h.cfg.Window)
	}
	writeJSON(w, result.statusCode, healthResponse{
		Status:  result.status,
		Reason:  result.reason,
		Service: "city-weather",
		Version: h.cfg.Version,
		Checks:  checks,
		Upstream: upstreamStats{
			Window:    h.cfg.Window.String(),
			Successes: stats.Successes,
			Errors:    stats.Errors,
			Denied:    stats.Denied,
			ErrorPct:  stats.ErrorPct(),
		},
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: API key validity, then upstream error rate.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if err := h.checkAPIKey(ctx); err != nil {
		return healthResult{StatusDegraded, http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.tracker != nil && h.cfg.Window > 0 && h.cfg.ErrorPct > 0 {
		if h.tracker.Degraded(h.cfg.Window, h.cfg.ErrorPct, h.cfg.MinSamples) {
			return healthResult{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{StatusHealthy, http.StatusOK, ""}
}

// checkAPIKey validates the key at most once per KeyCheckInterval.
func (h *Handler) checkAPIKey(ctx context.Context) error {
	if h.validator == nil {
		return nil
	}
	h.keyMu.Lock()
	defer h.keyMu.Unlock()
	now := h.now()
	if !h.keyCheckedAt.IsZero() && now.Sub(h.keyCheckedAt) < h.cfg.KeyCheckInterval {
		return h.keyErr
	}
	h.keyErr = h.validator.ValidateAPIKey(ctx)
	h.keyCheckedAt = now
	if h.keyErr != nil {
		loggerFrom(ctx, h.logger).Warn("api key validation failed", zap.Error(h.keyErr))
	}
	return h.keyErr
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
