package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-failover/internal/degraded"
	"github.com/kjstillabower/weather-failover/internal/lifecycle"
	"github.com/kjstillabower/weather-failover/internal/models"
	"github.com/kjstillabower/weather-failover/internal/service"
	"github.com/kjstillabower/weather-failover/internal/traffic"
)

type mockWeatherGetter struct {
	mu      sync.Mutex
	reading models.Reading
	err     error
	cities  []string
}

func (m *mockWeatherGetter) GetWeather(ctx context.Context, city string) (models.Reading, error) {
	m.mu.Lock()
	m.cities = append(m.cities, city)
	m.mu.Unlock()
	return m.reading, m.err
}

func (m *mockWeatherGetter) calledWith() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cities...)
}

func newTestRouter(getter WeatherGetter, cfg HandlerConfig) http.Handler {
	return NewRouter(NewHandler(getter, nil, cfg), nil, RouterConfig{})
}

func TestGetWeather_Success(t *testing.T) {
	getter := &mockWeatherGetter{reading: models.Reading{TemperatureCelsius: 29, WindSpeedKmh: 20}}
	router := newTestRouter(getter, HandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/weather?city=Sydney", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]float64
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 2 || body["temperature_degrees"] != 29 || body["wind_speed"] != 20 {
		t.Errorf("body = %v, want temperature_degrees=29 wind_speed=20", body)
	}
	if got := getter.calledWith(); len(got) != 1 || got[0] != "Sydney" {
		t.Errorf("GetWeather called with %v, want [Sydney]", got)
	}
}

func TestGetWeather_DefaultsToMelbourne(t *testing.T) {
	for _, target := range []string{"/v1/weather", "/v1/weather?city=", "/v1/weather?city=%20%20"} {
		getter := &mockWeatherGetter{}
		router := newTestRouter(getter, HandlerConfig{})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", target, w.Code)
		}
		if got := getter.calledWith(); len(got) != 1 || got[0] != DefaultCity {
			t.Errorf("%s: GetWeather called with %v, want [%s]", target, got, DefaultCity)
		}
	}
}

func TestGetWeather_InvalidCity(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"invalid characters", "city=%3Cscript%3E"},
		{"too long", "city=" + strings.Repeat("a", 101)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			getter := &mockWeatherGetter{}
			router := newTestRouter(getter, HandlerConfig{})

			req := httptest.NewRequest(http.MethodGet, "/v1/weather?"+tc.query, nil)
			req.Header.Set("X-Correlation-ID", "req-1")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var body struct {
				Error map[string]string `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error["code"] != "INVALID_CITY" {
				t.Errorf("error code = %q, want INVALID_CITY", body.Error["code"])
			}
			if body.Error["requestId"] != "req-1" {
				t.Errorf("requestId = %q, want req-1", body.Error["requestId"])
			}
			if len(getter.calledWith()) != 0 {
				t.Error("service called for invalid city")
			}
		})
	}
}

// TestGetWeather_NoDataIs503EmptyBody: callers learn nothing about which
// provider failed.
func TestGetWeather_NoDataIs503EmptyBody(t *testing.T) {
	for _, err := range []error{
		&service.NoDataError{City: "melbourne"},
		errors.New("context canceled"),
	} {
		getter := &mockWeatherGetter{err: err}
		router := newTestRouter(getter, HandlerConfig{})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/weather?city=melbourne", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("err %v: status = %d, want 503", err, w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("err %v: body = %q, want empty", err, w.Body.String())
		}
	}
}

func TestGetWeather_LogsWithCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	getter := &mockWeatherGetter{err: errors.New("boom")}
	router := NewRouter(NewHandler(getter, logger, HandlerConfig{}), logger, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/weather?city=perth", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("weather lookup failed").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["correlation_id"]; got != "corr-42" {
		t.Errorf("correlation_id = %v, want corr-42", got)
	}
}

func TestGetHealth(t *testing.T) {
	router := newTestRouter(&mockWeatherGetter{}, HandlerConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if w.Body.String() != "Weather service is running" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestGetHealth_IgnoresShutdown(t *testing.T) {
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)
	router := newTestRouter(&mockWeatherGetter{}, HandlerConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (liveness only)", w.Code)
	}
}

func TestGetReady(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	fail := func(ctx context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     []ReadinessCheck
		shutdown   bool
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{},
		},
		{
			name:       "all healthy",
			checks:     []ReadinessCheck{{Name: "store", Ping: ok}, {Name: "cache", Ping: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"store": "healthy", "cache": "healthy"},
		},
		{
			name:       "store down",
			checks:     []ReadinessCheck{{Name: "store", Ping: fail}, {Name: "cache", Ping: ok}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not-ready",
			wantChecks: map[string]string{"store": "unhealthy", "cache": "healthy"},
		},
		{
			name:       "shutting down",
			checks:     []ReadinessCheck{{Name: "store", Ping: ok}},
			shutdown:   true,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "shutting-down",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lifecycle.SetShuttingDown(tc.shutdown)
			defer lifecycle.SetShuttingDown(false)
			router := newTestRouter(&mockWeatherGetter{}, HandlerConfig{Checks: tc.checks})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestGetReady_ReportsDegradedServing(t *testing.T) {
	traffic.Reset()
	t.Cleanup(traffic.Reset)
	traffic.Record(traffic.Stale)
	traffic.Record(traffic.Stale)
	traffic.Record(traffic.Live)

	policy := degraded.Policy{Window: time.Minute, ThresholdPct: 50}
	router := newTestRouter(&mockWeatherGetter{}, HandlerConfig{Degraded: &policy})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 while degraded", w.Code)
	}
	var body struct {
		Status  string          `json:"status"`
		Serving degraded.Report `json:"serving"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ready" {
		t.Errorf("status = %q, want ready", body.Status)
	}
	if body.Serving.Status != degraded.StatusDegraded || body.Serving.Fallback != 2 {
		t.Errorf("serving = %+v, want degraded with 2 fallback", body.Serving)
	}
}

func TestGetInfo(t *testing.T) {
	router := newTestRouter(&mockWeatherGetter{}, HandlerConfig{Info: DefaultServiceInfo("1.0.0")})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var info ServiceInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if info.Service != "Melbourne Weather Service" || info.Version != "1.0.0" {
		t.Errorf("info = %+v", info)
	}
	if info.Endpoints["weather"] != "/v1/weather?city=melbourne" || info.Endpoints["health"] != "/v1/health" {
		t.Errorf("endpoints = %v", info.Endpoints)
	}
}

func TestDefaultServiceInfo_DevVersion(t *testing.T) {
	if got := DefaultServiceInfo("").Version; got != "dev" {
		t.Errorf("Version = %q, want dev", got)
	}
}
