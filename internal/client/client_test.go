package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

const testKey = "test-api-key-12345"

const searchBody = `[
  {"id":2801268,"name":"London","region":"City of London, Greater London","country":"United Kingdom","lat":51.52,"lon":-0.11,"url":"london-city-of-london-greater-london-united-kingdom"},
  {"id":315398,"name":"London","region":"Ontario","country":"Canada","lat":42.98,"lon":-81.25,"url":"london-ontario-canada"}
]`

const forecastBody = `{
  "location":{"name":"Rome","region":"Lazio","country":"Italy","lat":41.9,"lon":12.48,"tz_id":"Europe/Rome","localtime_epoch":1700000000,"localtime":"2023-11-14 23:13"},
  "current":{"last_updated_epoch":1699999200,"temp_c":14.0,"temp_f":57.2,"is_day":0,"condition":{"text":"Clear","icon":"//cdn/night/113.png","code":1000},"wind_kph":6.1,"wind_dir":"N","pressure_mb":1018,"pressure_in":30.06,"precip_mm":0,"humidity":77,"cloud":0,"feelslike_c":13.2,"vis_km":10,"uv":1,"gust_kph":9.4},
  "forecast":{"forecastday":[
    {"date":"2023-11-14","date_epoch":1699920000,
     "day":{"maxtemp_c":18.1,"mintemp_c":10.2,"avgtemp_c":14.3,"maxwind_kph":12.2,"totalprecip_mm":0.4,"avghumidity":71,"daily_chance_of_rain":20,"daily_chance_of_snow":0,"uv":3,"condition":{"text":"Partly cloudy","icon":"//cdn/day/116.png","code":1003}},
     "astro":{"sunrise":"06:59 AM","sunset":"04:51 PM","moonrise":"08:10 AM","moonset":"05:40 PM","moon_phase":"Waxing Crescent"},
     "hour":[{"time_epoch":1699916400,"time":"2023-11-14 00:00","temp_c":11.0,"is_day":0,"condition":{"text":"Clear","icon":"","code":1000},"wind_kph":5.0,"pressure_mb":1017,"pressure_in":30.03,"humidity":80,"feelslike_c":10.1,"chance_of_rain":0}]}
  ]},
  "alerts":{"alert":[{"headline":"Wind warning","severity":"Moderate","event":"Wind","effective":"2023-11-14T10:00:00+01:00","expires":"2023-11-15T10:00:00+01:00","desc":"Strong winds.","instruction":""}]}
}`

func newTestClient(t *testing.T, url string, opts Options) *WeatherAPIClient {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	c, err := NewWeatherAPIClientWithOptions(testKey, url, opts)
	if err != nil {
		t.Fatalf("NewWeatherAPIClientWithOptions() error = %v", err)
	}
	return c
}

func TestNewWeatherAPIClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{name: "empty API key", apiKey: "", wantErr: ErrInvalidAPIKey},
		{name: "too short API key", apiKey: "short", wantErr: ErrInvalidAPIKey},
		{name: "valid API key", apiKey: "valid-api-key-12345", wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewWeatherAPIClient(tt.apiKey, "https://api.test.com/v1", 2*time.Second)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewWeatherAPIClient() error = %v, want %v", err, tt.wantErr)
				}
				if c != nil {
					t.Errorf("NewWeatherAPIClient() expected nil client on error")
				}
				return
			}
			if err != nil || c == nil {
				t.Fatalf("NewWeatherAPIClient() = %v, %v", c, err)
			}
		})
	}
}

func TestWeatherAPIClient_SearchCities_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/search.json" {
			t.Errorf("path = %q, want /search.json", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "London" {
			t.Errorf("q = %q, want London", got)
		}
		if got := r.URL.Query().Get("key"); got != testKey {
			t.Errorf("key = %q, want %q", got, testKey)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	got, err := c.SearchCities(context.Background(), "  London ")
	if err != nil {
		t.Fatalf("SearchCities() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "london-city-of-london-greater-london-united-kingdom" {
		t.Errorf("ID = %q", got[0].ID)
	}
	if got[1].DisplayName() != "London, Ontario, Canada" {
		t.Errorf("DisplayName() = %q", got[1].DisplayName())
	}
}

func TestWeatherAPIClient_SearchCities_EmptyQuery(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	_, err := c.SearchCities(context.Background(), "   ")
	if KindOf(err) != KindValidationError {
		t.Fatalf("KindOf() = %q, want %q", KindOf(err), KindValidationError)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("server called %d times, want 0", calls)
	}
}

func TestWeatherAPIClient_FetchForecast_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/forecast.json" {
			t.Errorf("path = %q, want /forecast.json", r.URL.Path)
		}
		if q.Get("q") != "rome-lazio-italy" || q.Get("days") != "5" || q.Get("alerts") != "yes" || q.Get("aqi") != "no" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	fixed := time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	got, err := c.FetchForecast(context.Background(), "rome-lazio-italy", 5)
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if got.CityID != "rome-lazio-italy" {
		t.Errorf("CityID = %q", got.CityID)
	}
	if got.Location.TimeZone != "Europe/Rome" || got.Location.Name != "Rome" {
		t.Errorf("Location = %+v", got.Location)
	}
	if got.Current.TempC != 14.0 || got.Current.IsDay {
		t.Errorf("Current = %+v", got.Current)
	}
	if len(got.Days) != 1 || got.Days[0].MaxTempC != 18.1 || got.Days[0].Astro.Sunset != "04:51 PM" {
		t.Fatalf("Days = %+v", got.Days)
	}
	if len(got.Days[0].Hours) != 1 || got.Days[0].Hours[0].PressureMb != 1017 {
		t.Errorf("Hours = %+v", got.Days[0].Hours)
	}
	if len(got.Alerts) != 1 || got.Alerts[0].Description != "Strong winds." {
		t.Errorf("Alerts = %+v", got.Alerts)
	}
	if !got.FetchedAt.Equal(fixed) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, fixed)
	}
}

func TestWeatherAPIClient_FetchForecast_Validation(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", Options{})
	tests := []struct {
		name string
		id   string
		days int
	}{
		{name: "empty id", id: "", days: 5},
		{name: "zero days", id: "rome", days: 0},
		{name: "too many days", id: "rome", days: MaxForecastDays + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.FetchForecast(context.Background(), tt.id, tt.days)
			if KindOf(err) != KindValidationError {
				t.Errorf("KindOf() = %q, want %q", KindOf(err), KindValidationError)
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("errors.Is(err, ErrInvalidRequest) = false, err = %v", err)
			}
		})
	}
}

func TestWeatherAPIClient_ErrorHandling(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		body        string
		wantErr     error
		wantKind    ErrorKind
		wantMessage string
	}{
		{
			name:        "400 no matching location",
			statusCode:  http.StatusBadRequest,
			body:        `{"error":{"code":1006,"message":"No matching location found."}}`,
			wantErr:     ErrLocationNotFound,
			wantKind:    KindUpstreamError,
			wantMessage: "No matching location found.",
		},
		{
			name:        "401 unauthorized",
			statusCode:  http.StatusUnauthorized,
			body:        `{"error":{"code":2006,"message":"API key is invalid."}}`,
			wantErr:     ErrInvalidAPIKey,
			wantKind:    KindUpstreamError,
			wantMessage: "API key is invalid.",
		},
		{
			name:        "403 quota exceeded",
			statusCode:  http.StatusForbidden,
			body:        `{"error":{"code":2007,"message":"API key has exceeded calls per month quota."}}`,
			wantErr:     ErrRateLimited,
			wantKind:    KindUpstreamError,
			wantMessage: "API key has exceeded calls per month quota.",
		},
		{
			name:        "403 disabled key",
			statusCode:  http.StatusForbidden,
			body:        `{"error":{"code":2008,"message":"API key has been disabled."}}`,
			wantErr:     ErrInvalidAPIKey,
			wantKind:    KindUpstreamError,
			wantMessage: "API key has been disabled.",
		},
		{
			name:        "429 without body",
			statusCode:  http.StatusTooManyRequests,
			wantErr:     ErrRateLimited,
			wantKind:    KindUpstreamError,
			wantMessage: "the weather service rate limit was exceeded",
		},
		{
			name:        "500 server error",
			statusCode:  http.StatusInternalServerError,
			body:        `oops`,
			wantErr:     ErrUpstreamFailure,
			wantKind:    KindUpstreamError,
			wantMessage: "the weather service returned HTTP 500",
		},
		{
			name:        "200 with error object",
			statusCode:  http.StatusOK,
			body:        `{"error":{"code":9999,"message":"Internal application error."}}`,
			wantErr:     ErrUpstreamFailure,
			wantKind:    KindUpstreamError,
			wantMessage: "Internal application error.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, Options{})
			_, err := c.SearchCities(context.Background(), "nowhere")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if KindOf(err) != tt.wantKind {
				t.Errorf("KindOf() = %q, want %q", KindOf(err), tt.wantKind)
			}
			if got := UserMessage(err, ""); got != tt.wantMessage {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestWeatherAPIClient_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		call func(*WeatherAPIClient) error
	}{
		{
			name: "search body is not an array",
			body: `{"unexpected":true}`,
			call: func(c *WeatherAPIClient) error {
				_, err := c.SearchCities(context.Background(), "rome")
				return err
			},
		},
		{
			name: "forecast body is not JSON",
			body: `<html>`,
			call: func(c *WeatherAPIClient) error {
				_, err := c.FetchForecast(context.Background(), "rome", 3)
				return err
			},
		},
		{
			name: "forecast block missing",
			body: `{"location":{"name":"Rome"},"current":{}}`,
			call: func(c *WeatherAPIClient) error {
				_, err := c.FetchForecast(context.Background(), "rome", 3)
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := tt.call(newTestClient(t, server.URL, Options{}))
			if KindOf(err) != KindMalformedResponse {
				t.Errorf("KindOf() = %q, want %q (err = %v)", KindOf(err), KindMalformedResponse, err)
			}
		})
	}
}

func TestWeatherAPIClient_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url, Options{})
	_, err := c.SearchCities(context.Background(), "rome")
	if KindOf(err) != KindNetworkFailure {
		t.Fatalf("KindOf() = %q, want %q (err = %v)", KindOf(err), KindNetworkFailure, err)
	}
	if CategorizeError(err) != "network" {
		t.Errorf("CategorizeError() = %q, want network", CategorizeError(err))
	}
}

func TestWeatherAPIClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(searchBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.SearchCities(ctx, "london")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
	if CategorizeError(err) != "timeout" {
		t.Errorf("CategorizeError() = %q, want timeout", CategorizeError(err))
	}
}

func TestWeatherAPIClient_CompressedBodies(t *testing.T) {
	gz := func(s string) []byte {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		_, _ = w.Write([]byte(s))
		_ = w.Close()
		return buf.Bytes()
	}
	br := func(s string) []byte {
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		_, _ = w.Write([]byte(s))
		_ = w.Close()
		return buf.Bytes()
	}

	tests := []struct {
		encoding string
		body     []byte
	}{
		{encoding: "gzip", body: gz(searchBody)},
		{encoding: "br", body: br(searchBody)},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.Contains(r.Header.Get("Accept-Encoding"), tt.encoding) {
					t.Errorf("Accept-Encoding = %q, want it to include %q", r.Header.Get("Accept-Encoding"), tt.encoding)
				}
				w.Header().Set("Content-Encoding", tt.encoding)
				_, _ = w.Write(tt.body)
			}))
			defer server.Close()

			got, err := newTestClient(t, server.URL, Options{}).SearchCities(context.Background(), "london")
			if err != nil {
				t.Fatalf("SearchCities() error = %v", err)
			}
			if len(got) != 2 {
				t.Errorf("len = %d, want 2", len(got))
			}
		})
	}
}

func TestWeatherAPIClient_CorrelationID(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-Correlation-ID"))
		_, _ = w.Write([]byte(searchBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})

	ctx := WithCorrelationID(context.Background(), "test-corr-123")
	if _, err := c.SearchCities(ctx, "london"); err != nil {
		t.Fatalf("SearchCities() error = %v", err)
	}
	if got.Load() != "test-corr-123" {
		t.Errorf("X-Correlation-ID = %v, want test-corr-123", got.Load())
	}

	if _, err := c.SearchCities(context.Background(), "london"); err != nil {
		t.Fatalf("SearchCities() error = %v", err)
	}
	if id, _ := got.Load().(string); len(id) != 36 {
		t.Errorf("generated X-Correlation-ID = %q, want a uuid", id)
	}
}

type countingRecorder struct {
	success, errors, denied int32
}

func (r *countingRecorder) RecordSuccess() { atomic.AddInt32(&r.success, 1) }
func (r *countingRecorder) RecordError() { atomic.AddInt32(&r.errors, 1) }
func (r *countingRecorder) RecordDenied() { atomic.AddInt32(&r.denied, 1) }

func TestWeatherAPIClient_Breaker(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rec := &countingRecorder{}
	c := newTestClient(t, server.URL, Options{
		BreakerEnabled:     true,
		BreakerFailures:    2,
		BreakerOpenTimeout: time.Minute,
		Recorder:           rec,
	})

	for i := 0; i < 2; i++ {
		_, err := c.SearchCities(context.Background(), "rome")
		if !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("call %d error = %v, want ErrUpstreamFailure", i, err)
		}
	}

	_, err := c.SearchCities(context.Background(), "rome")
	if !errors.Is(err, ErrUpstreamFailure) || KindOf(err) != KindUpstreamError {
		t.Fatalf("open breaker error = %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("server calls = %d, want 2 (third call rejected by breaker)", n)
	}
	if rec.errors != 2 {
		t.Errorf("recorded errors = %d, want 2", rec.errors)
	}
}

func TestWeatherAPIClient_BreakerIgnoresClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{BreakerEnabled: true, BreakerFailures: 1, BreakerOpenTimeout: time.Minute})
	for i := 0; i < 3; i++ {
		if _, err := c.SearchCities(context.Background(), "xx"); !errors.Is(err, ErrLocationNotFound) {
			t.Fatalf("call %d error = %v, want ErrLocationNotFound", i, err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("server calls = %d, want 3", n)
	}
}

func TestWeatherAPIClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(searchBody))
	}))
	defer server.Close()

	rec := &countingRecorder{}
	c := newTestClient(t, server.URL, Options{RateLimitRPS: 1, RateLimitBurst: 1, Recorder: rec})
	if _, err := c.SearchCities(context.Background(), "london"); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.SearchCities(ctx, "london")
	if KindOf(err) != KindNetworkFailure {
		t.Fatalf("KindOf() = %q, want %q (err = %v)", KindOf(err), KindNetworkFailure, err)
	}
	if rec.success != 1 {
		t.Errorf("recorded successes = %d, want 1", rec.success)
	}
}

func TestWeatherAPIClient_ValidateAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    error
	}{
		{name: "valid key", statusCode: http.StatusOK, body: searchBody},
		{name: "invalid key", statusCode: http.StatusUnauthorized, body: `{"error":{"code":2006,"message":"API key is invalid."}}`, wantErr: ErrInvalidAPIKey},
		{name: "server error", statusCode: http.StatusBadGateway, wantErr: ErrUpstreamFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("q") != "London" {
					t.Errorf("q = %q, want London", r.URL.Query().Get("q"))
				}
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := newTestClient(t, server.URL, Options{}).ValidateAPIKey(context.Background())
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateAPIKey() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAPIKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
