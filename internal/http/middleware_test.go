package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-failover/internal/models"
	"github.com/kjstillabower/weather-failover/internal/observability"
)

func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var seen string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	got := w.Header().Get("X-Correlation-ID")
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("X-Correlation-ID = %q, want a UUID", got)
	}
	if seen != got {
		t.Errorf("context correlation ID = %q, want %q", seen, got)
	}
}

func TestCorrelationIDMiddleware_PropagatesClientID(t *testing.T) {
	router := newTestRouter(&mockWeatherGetter{}, HandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
}

func TestRateLimitMiddleware_OnlyWeatherRoute(t *testing.T) {
	getter := &mockWeatherGetter{reading: models.Reading{TemperatureCelsius: 1}}
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	router := NewRouter(NewHandler(getter, nil, HandlerConfig{}), nil, RouterConfig{Limiter: limiter})
	before := testutil.ToFloat64(observability.RateLimitDeniedTotal)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/weather", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/weather", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if got := testutil.ToFloat64(observability.RateLimitDeniedTotal) - before; got != 1 {
		t.Errorf("rateLimitDeniedTotal delta = %v, want 1", got)
	}

	health := httptest.NewRecorder()
	router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if health.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 regardless of limiter", health.Code)
	}
}

type deadlineGetter struct {
	hasDeadline bool
	remaining   time.Duration
}

func (d *deadlineGetter) GetWeather(ctx context.Context, city string) (models.Reading, error) {
	deadline, ok := ctx.Deadline()
	d.hasDeadline = ok
	d.remaining = time.Until(deadline)
	return models.Reading{}, nil
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	getter := &deadlineGetter{}
	router := NewRouter(NewHandler(getter, nil, HandlerConfig{}), nil, RouterConfig{RequestTimeout: 2 * time.Second})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/weather", nil))

	if !getter.hasDeadline {
		t.Fatal("request context has no deadline")
	}
	if getter.remaining <= 0 || getter.remaining > 2*time.Second {
		t.Errorf("remaining = %v, want within (0, 2s]", getter.remaining)
	}
}

func TestTimeoutMiddleware_ZeroDisables(t *testing.T) {
	getter := &deadlineGetter{}
	router := NewRouter(NewHandler(getter, nil, HandlerConfig{}), nil, RouterConfig{})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/weather", nil))
	if getter.hasDeadline {
		t.Error("request context has a deadline, want none")
	}
}

func TestMetricsMiddleware_RecordsRouteTemplate(t *testing.T) {
	router := newTestRouter(&mockWeatherGetter{}, HandlerConfig{})
	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/weather", "2xx")
	before := testutil.ToFloat64(counter)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/weather?city=hobart", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("httpRequestsTotal{/v1/weather,2xx} delta = %v, want 1", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&mockWeatherGetter{}, HandlerConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("metrics output missing runtime collector")
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(&mockWeatherGetter{}, HandlerConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/weather", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := map[int]string{200: "2xx", 404: "4xx", 503: "5xx"}
	for code, want := range tests {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}
