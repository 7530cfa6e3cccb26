// Package http exposes the weather service over HTTP: routes, handlers and middleware.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-failover/internal/degraded"
	"github.com/kjstillabower/weather-failover/internal/lifecycle"
	"github.com/kjstillabower/weather-failover/internal/models"
	"github.com/kjstillabower/weather-failover/internal/observability"
	"github.com/kjstillabower/weather-failover/internal/service"
	"github.com/kjstillabower/weather-failover/internal/validation"
)

const (
	// DefaultCity is used when the city query parameter is missing, empty or blank.
	DefaultCity = "melbourne"

	healthMessage = "Weather service is running"
)

// WeatherGetter is satisfied by *service.WeatherService.
type WeatherGetter interface {
	GetWeather(ctx context.Context, city string) (models.Reading, error)
}

// ReadinessCheck is a named dependency probe for GET /v1/ready.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// ServiceInfo is returned by GET /.
type ServiceInfo struct {
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Endpoints   map[string]string `json:"endpoints"`
	Description string            `json:"description"`
}

// DefaultServiceInfo describes this service for GET /.
func DefaultServiceInfo(version string) ServiceInfo {
	if version == "" {
		version = "dev"
	}
	return ServiceInfo{
		Service: "Melbourne Weather Service",
		Version: version,
		Endpoints: map[string]string{
			"weather": "/v1/weather?city=melbourne",
			"health":  "/v1/health",
			"ready":   "/v1/ready",
			"metrics": "/metrics",
		},
		Description: "Provides Melbourne weather data with failover between WeatherStack and OpenWeatherMap APIs",
	}
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather      WeatherGetter
	logger       *zap.Logger
	info         ServiceInfo
	checks       []ReadinessCheck
	checkTimeout time.Duration
	maxCityLen   int
	degraded     *degraded.Policy
}

// HandlerConfig holds the optional parts of a Handler.
type HandlerConfig struct {
	Info         ServiceInfo
	Checks       []ReadinessCheck
	CheckTimeout time.Duration // per readiness probe; 0 means 2s
	MaxCityLen   int           // 0 means validation.MaxCityLength
	// Degraded, when set, adds a "serving" report to /v1/ready. A degraded
	// service still reports ready.
	Degraded *degraded.Policy
}

// NewHandler returns a new Handler.
func NewHandler(weather WeatherGetter, logger *zap.Logger, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}
	if cfg.Info.Service == "" {
		cfg.Info = DefaultServiceInfo("")
	}
	return &Handler{
		weather:      weather,
		logger:       logger,
		info:         cfg.Info,
		checks:       cfg.Checks,
		checkTimeout: cfg.CheckTimeout,
		maxCityLen:   cfg.MaxCityLen,
		degraded:     cfg.Degraded,
	}
}

// GetWeather handles GET /v1/weather?city=<name>.
// Success is 200 with the reading; when no data can be produced the response is
// 503 with an empty body.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		city = DefaultCity
	}
	city, err := validation.ValidateCity(city, h.maxCityLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	reading, err := h.weather.GetWeather(r.Context(), city)
	if err != nil {
		logger := observability.LoggerFromContext(r.Context(), h.logger)
		if errors.Is(err, service.ErrNoDataAvailable) {
			logger.Debug("no weather data", zap.String("city", city), zap.Error(err))
		} else {
			logger.Warn("weather lookup failed", zap.String("city", city), zap.Error(err))
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// GetHealth handles GET /v1/health. It is a liveness marker only.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(healthMessage))
}

// GetReady handles GET /v1/ready: 503 while draining or when a backend probe fails.
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	if lifecycle.IsShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "shutting-down",
		})
		return
	}

	status, code := "ready", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
		err := c.Ping(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = "unhealthy"
			status, code = "not-ready", http.StatusServiceUnavailable
			h.logger.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			continue
		}
		checks[c.Name] = "healthy"
	}

	body := map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.degraded != nil {
		report := degraded.Current(*h.degraded)
		if report.Status == degraded.StatusDegraded {
			h.logger.Warn("serving mostly from fallback", zap.Int("served", report.Served), zap.Int("fallback", report.Fallback))
		}
		body["serving"] = report
	}
	writeJSON(w, code, body)
}

// GetInfo handles GET /.
func (h *Handler) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}
