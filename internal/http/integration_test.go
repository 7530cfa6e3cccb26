//go:build integration
// +build integration

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/weather-failover/internal/models"
	testhelpers "github.com/kjstillabower/weather-failover/internal/testhelpers"
)

func setupIntegrationRouter(t *testing.T) (http.Handler, *testhelpers.Stack) {
	t.Helper()
	cfg := testhelpers.GetIntegrationConfig(t)
	stack := testhelpers.SetupIntegrationService(t, cfg)

	handler := NewHandler(stack.Service, stack.Logger, HandlerConfig{
		Checks: []ReadinessCheck{{Name: "store", Ping: stack.Store.Ping}},
	})
	return NewRouter(handler, stack.Logger, RouterConfig{RequestTimeout: 15 * time.Second}), stack
}

func makeIntegrationRequest(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

// TestIntegration_GetWeather_Live verifies a live lookup returns a plausible
// reading and persists it.
func TestIntegration_GetWeather_Live(t *testing.T) {
	router, stack := setupIntegrationRouter(t)

	w := makeIntegrationRequest(router, "/v1/weather?city=melbourne")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var reading models.Reading
	if err := json.NewDecoder(w.Body).Decode(&reading); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reading.TemperatureCelsius < -60 || reading.TemperatureCelsius > 60 {
		t.Errorf("TemperatureCelsius = %v, outside plausible range", reading.TemperatureCelsius)
	}
	if reading.WindSpeedKmh < 0 {
		t.Errorf("WindSpeedKmh = %v, want non-negative", reading.WindSpeedKmh)
	}

	rec, ok, err := stack.Store.Latest(context.Background(), "melbourne")
	if err != nil || !ok {
		t.Fatalf("Latest() = %+v, %v, %v; want stored record", rec, ok, err)
	}
	if rec.ProviderSource == "" {
		t.Error("ProviderSource empty")
	}
}

// TestIntegration_GetWeather_CacheHit verifies a second call inside the TTL is
// answered from the cache.
func TestIntegration_GetWeather_CacheHit(t *testing.T) {
	router, stack := setupIntegrationRouter(t)

	seeded := models.Reading{TemperatureCelsius: -99, WindSpeedKmh: 1}
	if err := stack.Cache.Put(context.Background(), "hobart", seeded); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	w := makeIntegrationRequest(router, "/v1/weather?city=Hobart")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var reading models.Reading
	if err := json.NewDecoder(w.Body).Decode(&reading); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reading != seeded {
		t.Errorf("reading = %+v, want cached %+v", reading, seeded)
	}
}

func TestIntegration_Ready(t *testing.T) {
	router, _ := setupIntegrationRouter(t)

	if w := makeIntegrationRequest(router, "/v1/ready"); w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200; body %s", w.Code, w.Body.String())
	}
}
