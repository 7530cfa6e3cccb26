package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-failover/internal/cache"
	"github.com/kjstillabower/weather-failover/internal/circuitbreaker"
	"github.com/kjstillabower/weather-failover/internal/config"
	"github.com/kjstillabower/weather-failover/internal/degraded"
	httphandler "github.com/kjstillabower/weather-failover/internal/http"
	"github.com/kjstillabower/weather-failover/internal/lifecycle"
	"github.com/kjstillabower/weather-failover/internal/observability"
	"github.com/kjstillabower/weather-failover/internal/provider"
	"github.com/kjstillabower/weather-failover/internal/service"
	"github.com/kjstillabower/weather-failover/internal/store"
)

// recordBackend is a RecordStore that can be probed and released.
type recordBackend interface {
	store.RecordStore
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		logger.Fatal("providers", zap.Error(err))
	}
	chain := provider.NewChain(logger, providers...)
	logger.Info("provider chain", zap.Strings("order", chain.Names()))

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	readingCache, memcached, err := buildCache(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}

	records, err := buildStore(rootCtx, cfg)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	logger.Info("store backend", zap.String("backend", cfg.StoreBackend))

	weatherService := service.NewWeatherService(chain, readingCache, records, logger, service.Options{
		CacheBackend:    cfg.CacheBackend,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		StoreTimeout:    cfg.StoreTimeout,
	})

	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	var warmer *cache.CacheWarmer
	if len(cfg.WarmCities) > 0 && cfg.WarmInterval > 0 {
		warmer = cache.NewCacheWarmer(weatherService, logger, cfg.WarmTimeout)
		if err := warmer.Start(cfg.WarmCities, cfg.WarmInterval); err != nil {
			logger.Fatal("cache warming", zap.Error(err))
		}
		logger.Info("cache warming enabled", zap.Strings("cities", cfg.WarmCities), zap.Duration("interval", cfg.WarmInterval))
	}

	checks := []httphandler.ReadinessCheck{{Name: "store", Ping: records.Ping}}
	if memcached != nil {
		checks = append(checks, httphandler.ReadinessCheck{
			Name: "cache",
			Ping: func(context.Context) error { return memcached.Ping() },
		})
	}
	handler := httphandler.NewHandler(weatherService, logger, httphandler.HandlerConfig{
		Info:       httphandler.DefaultServiceInfo(cfg.Version),
		Checks:     checks,
		MaxCityLen: cfg.MaxCityLength,
		Degraded: &degraded.Policy{
			Window:       cfg.DegradedWindow,
			ThresholdPct: cfg.DegradedFallbackPct,
			MinRequests:  cfg.DegradedMinRequests,
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	if warmer != nil {
		warmer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.ShutdownInFlightRequests.Set(float64(inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	cancelRoot()
	if err := records.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// buildProviders turns the configured chain into providers, in order, each
// wrapped in a circuit breaker when enabled.
func buildProviders(cfg *config.Config, logger *zap.Logger) ([]provider.Provider, error) {
	out := make([]provider.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		httpCfg := provider.HTTPConfig{
			APIKey:         pc.APIKey,
			BaseURL:        pc.BaseURL,
			Timeout:        pc.Timeout,
			RetryAttempts:  pc.RetryAttempts,
			RetryBaseDelay: pc.RetryBaseDelay,
			RetryMaxDelay:  pc.RetryMaxDelay,
		}

		var (
			p   provider.Provider
			err error
		)
		switch pc.Name {
		case config.ProviderWeatherStack:
			p, err = provider.NewWeatherStackProvider(httpCfg)
		case config.ProviderOpenWeatherMap:
			p, err = provider.NewOpenWeatherMapProvider(httpCfg)
		default:
			err = fmt.Errorf("unknown provider %q", pc.Name)
		}
		if err != nil {
			return nil, err
		}

		if cfg.CircuitBreakerEnabled {
			p = circuitbreaker.Wrap(p, circuitbreaker.Config{
				FailureThreshold: cfg.CircuitBreakerFailureThreshold,
				HalfOpenRequests: cfg.CircuitBreakerHalfOpenRequests,
				OpenTimeout:      cfg.CircuitBreakerOpenTimeout,
			}, logger)
		}
		out = append(out, p)
	}
	return out, nil
}

// buildCache returns the configured cache. The MemcachedCache is also returned
// when in use so main can probe and close it.
func buildCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.ReadingCache, *cache.MemcachedCache, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.CacheTTL, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs), zap.Duration("ttl", cfg.CacheTTL))
		return mc, mc, nil
	default:
		c := cache.NewInMemoryCache(cfg.CacheTTL, cfg.CacheCapacity)
		observability.RegisterCacheSizeGauge(c.Len)
		c.StartJanitor(ctx, cfg.CacheJanitorInterval)
		logger.Info("cache backend: memory", zap.Duration("ttl", cfg.CacheTTL), zap.Int("capacity", cfg.CacheCapacity))
		return c, nil, nil
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (recordBackend, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	case "valkey":
		client, err := store.NewValkeyClient(cfg.ValkeyAddr)
		if err != nil {
			return nil, err
		}
		return store.NewValkeyStore(client, cfg.ValkeyPrefix), nil
	default:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		return store.NewSQLiteStore(ctx, cfg.SQLitePath)
	}
}
