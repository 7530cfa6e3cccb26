package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-failover/internal/observability"
)

// RouterConfig holds the middleware settings for the weather route.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter // nil disables rate limiting
}

// NewRouter mounts every endpoint. Rate limiting and the request timeout apply to
// /v1/weather only; probes and metrics stay cheap and always reachable.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/", h.GetInfo).Methods(http.MethodGet)
	router.HandleFunc("/v1/health", h.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/v1/ready", h.GetReady).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	var weather http.Handler = http.HandlerFunc(h.GetWeather)
	weather = TimeoutMiddleware(cfg.RequestTimeout)(weather)
	weather = RateLimitMiddleware(cfg.Limiter)(weather)
	router.Handle("/v1/weather", weather).Methods(http.MethodGet)

	return router
}
