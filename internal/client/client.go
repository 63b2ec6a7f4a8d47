package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/observability"
)

const (
	DefaultBaseURL      = "https://api.weatherapi.com/v1"
	DefaultTimeout      = 10 * time.Second
	DefaultForecastDays = 5
	MaxForecastDays     = 14
)

// WeatherClient is the upstream surface used by the cache-backed components.
type WeatherClient interface {
	SearchCities(ctx context.Context, query string) ([]models.CityCandidate, error)
	FetchForecast(ctx context.Context, cityID string, days int) (models.ForecastSnapshot, error)
	ValidateAPIKey(ctx context.Context) error
}

// OutcomeRecorder receives one call per completed upstream request.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError()
	RecordDenied()
}

type Options struct {
	Timeout time.Duration

	// RateLimitRPS <= 0 disables client-side rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	BreakerEnabled     bool
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration

	Recorder OutcomeRecorder
	Logger   *zap.Logger
}

type WeatherAPIClient struct {
	apiKey   string
	apiURL   string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	recorder OutcomeRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewWeatherAPIClient(apiKey, apiURL string, timeout time.Duration) (*WeatherAPIClient, error) {
	return NewWeatherAPIClientWithOptions(apiKey, apiURL, Options{Timeout: timeout})
}

func NewWeatherAPIClientWithOptions(apiKey, apiURL string, opts Options) (*WeatherAPIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if apiURL == "" {
		apiURL = DefaultBaseURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WeatherAPIClient{
		apiKey:   apiKey,
		apiURL:   strings.TrimRight(apiURL, "/"),
		client:   &http.Client{Timeout: opts.Timeout},
		recorder: opts.Recorder,
		logger:   logger,
		now:      time.Now,
	}

	if opts.RateLimitRPS > 0 {
		burst := opts.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}

	if opts.BreakerEnabled {
		failures := opts.BreakerFailures
		if failures == 0 {
			failures = 5
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "weatherapi",
			MaxRequests: 1,
			Timeout:     opts.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	return c, nil
}

// SearchCities returns the cities matching query in upstream order.
func (c *WeatherAPIClient) SearchCities(ctx context.Context, query string) ([]models.CityCandidate, error) {
	const op = "search"
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationError(op, "search query is empty")
	}

	params := url.Values{}
	params.Set("q", query)

	var results []searchResult
	if err := c.get(ctx, op, "search.json", params, &results); err != nil {
		return nil, err
	}
	return mapSearchResults(results), nil
}

// FetchForecast returns a days-long forecast for the city identified by cityID,
// including current conditions and active alerts.
func (c *WeatherAPIClient) FetchForecast(ctx context.Context, cityID string, days int) (models.ForecastSnapshot, error) {
	const op = "forecast"
	cityID = strings.TrimSpace(cityID)
	if cityID == "" {
		return models.ForecastSnapshot{}, validationError(op, "city identifier is empty")
	}
	if days < 1 || days > MaxForecastDays {
		return models.ForecastSnapshot{}, validationError(op, fmt.Sprintf("days must be between 1 and %d", MaxForecastDays))
	}

	params := url.Values{}
	params.Set("q", cityID)
	params.Set("days", fmt.Sprintf("%d", days))
	params.Set("alerts", "yes")
	params.Set("aqi", "no")

	var resp forecastResponse
	if err := c.get(ctx, op, "forecast.json", params, &resp); err != nil {
		return models.ForecastSnapshot{}, err
	}

	snap, err := mapForecast(cityID, resp, c.now())
	if err != nil {
		return models.ForecastSnapshot{}, malformedError(op, err)
	}
	return snap, nil
}

// ValidateAPIKey issues a cheap search to confirm the key is accepted.
func (c *WeatherAPIClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.SearchCities(ctx, "London")
	if err != nil && errors.Is(err, ErrInvalidAPIKey) {
		return fmt.Errorf("%w: API key is invalid or not activated", err)
	}
	return err
}

type outcome struct {
	body []byte
	err  error
}

func (c *WeatherAPIClient) get(ctx context.Context, op, path string, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return networkError(op, err)
		}
	}

	var res outcome
	if c.breaker == nil {
		res.body, res.err = c.do(ctx, op, path, params)
	} else {
		v, err := c.breaker.Execute(func() (interface{}, error) {
			body, err := c.do(ctx, op, path, params)
			if err != nil && tripsBreaker(ctx, err) {
				return nil, err
			}
			return outcome{body: body, err: err}, nil
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			observability.WeatherAPIBreakerRejectsTotal.Inc()
			return &Error{
				Kind:    KindUpstreamError,
				Op:      op,
				Message: "the weather service is temporarily unavailable",
				Err:     ErrUpstreamFailure,
			}
		case err != nil:
			return err
		}
		res = v.(outcome)
	}

	if res.err != nil {
		return res.err
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return malformedError(op, fmt.Errorf("parse response: %w", err))
	}
	return nil
}

// tripsBreaker reports whether err indicates the upstream is unhealthy.
// Caller cancellation and 4xx responses do not count.
func tripsBreaker(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ce *Error
	if !errors.As(err, &ce) {
		return true
	}
	switch ce.Kind {
	case KindNetworkFailure:
		return true
	case KindUpstreamError:
		return ce.Status >= 500
	}
	return false
}

func (c *WeatherAPIClient) do(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, path, params)
	if err != nil {
		return nil, validationError(op, err.Error())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.observe(op, "network_error", start)
		c.record(err)
		return nil, networkError(op, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		c.observe(op, "malformed", start)
		c.record(err)
		return nil, malformedError(op, fmt.Errorf("read response body: %w", err))
	}

	if apiErr := statusError(op, resp.StatusCode, body); apiErr != nil {
		c.observe(op, statusLabel(resp.StatusCode), start)
		c.record(apiErr)
		c.logger.Debug("weather api error",
			zap.String("op", op),
			zap.Int("status", apiErr.Status),
			zap.Int("code", apiErr.Code),
			zap.String("correlationId", req.Header.Get("X-Correlation-ID")),
		)
		return nil, apiErr
	}

	c.observe(op, "success", start)
	c.record(nil)
	return body, nil
}

func (c *WeatherAPIClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.apiURL + "/" + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	corrID := CorrelationID(ctx)
	if corrID == "" {
		corrID = uuid.New().String()
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("X-Correlation-ID", corrID)
	return req, nil
}

func (c *WeatherAPIClient) observe(op, status string, start time.Time) {
	observability.WeatherAPICallsTotal.WithLabelValues(op, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func (c *WeatherAPIClient) record(err error) {
	if c.recorder == nil {
		return
	}
	switch {
	case err == nil:
		c.recorder.RecordSuccess()
	case errors.Is(err, ErrRateLimited):
		c.recorder.RecordDenied()
	default:
		c.recorder.RecordError()
	}
}

// statusError maps a non-2xx status, or a 2xx body carrying an API error
// object, to a client error. It returns nil for a successful response.
func statusError(op string, status int, body []byte) *Error {
	code := int(gjson.GetBytes(body, "error.code").Int())
	message := gjson.GetBytes(body, "error.message").String()

	if status >= 200 && status < 300 && code == 0 {
		return nil
	}

	var sentinel error
	switch {
	case code == 1006 || status == http.StatusNotFound:
		sentinel = ErrLocationNotFound
	case code == 2007 || status == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case code == 1002 || code == 2006 || code == 2008 || status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = ErrInvalidAPIKey
	default:
		sentinel = ErrUpstreamFailure
	}

	if message == "" {
		message = defaultMessage(sentinel, status)
	}
	return &Error{
		Kind:    KindUpstreamError,
		Op:      op,
		Status:  status,
		Code:    code,
		Message: message,
		Err:     sentinel,
	}
}

func defaultMessage(sentinel error, status int) string {
	switch sentinel {
	case ErrLocationNotFound:
		return "no matching location found"
	case ErrRateLimited:
		return "the weather service rate limit was exceeded"
	case ErrInvalidAPIKey:
		return "the weather service rejected the API key"
	}
	return fmt.Sprintf("the weather service returned HTTP %d", status)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "api_error"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

type correlationKey struct{}

// WithCorrelationID returns a context whose upstream requests carry id in X-Correlation-ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
