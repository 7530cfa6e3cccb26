//go:build integration
// +build integration

// Package testhelpers builds a live service stack for integration tests.
package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-failover/internal/cache"
	"github.com/kjstillabower/weather-failover/internal/observability"
	"github.com/kjstillabower/weather-failover/internal/provider"
	"github.com/kjstillabower/weather-failover/internal/service"
	"github.com/kjstillabower/weather-failover/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	WeatherStackKey   string
	OpenWeatherMapKey string
	CacheBackend      string // "memory" or "memcached"
	MemcachedAddr     string
}

// GetIntegrationConfig loads provider keys from the environment and skips the
// test when neither is set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	cfg := IntegrationTestConfig{
		WeatherStackKey:   os.Getenv("WEATHERSTACK_API_KEY"),
		OpenWeatherMapKey: os.Getenv("OPENWEATHERMAP_API_KEY"),
		CacheBackend:      os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr:     os.Getenv("MEMCACHED_ADDRS"),
	}
	if cfg.WeatherStackKey == "" && cfg.OpenWeatherMapKey == "" {
		t.Skip("WEATHERSTACK_API_KEY and OPENWEATHERMAP_API_KEY not set, skipping integration test")
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	return cfg
}

// Stack is a fully wired service backed by live providers.
type Stack struct {
	Service *service.WeatherService
	Cache   cache.ReadingCache
	Store   *store.SQLiteStore
	Chain   *provider.Chain
	Logger  *zap.Logger
}

// SetupIntegrationService wires live providers, the configured cache and a
// SQLite store in a temp dir. Resources are released via t.Cleanup.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) *Stack {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	var providers []provider.Provider
	if cfg.WeatherStackKey != "" {
		p, err := provider.NewWeatherStackProvider(provider.HTTPConfig{APIKey: cfg.WeatherStackKey, Timeout: 5 * time.Second})
		if err != nil {
			t.Fatalf("NewWeatherStackProvider() error = %v", err)
		}
		providers = append(providers, p)
	}
	if cfg.OpenWeatherMapKey != "" {
		p, err := provider.NewOpenWeatherMapProvider(provider.HTTPConfig{APIKey: cfg.OpenWeatherMapKey, Timeout: 5 * time.Second})
		if err != nil {
			t.Fatalf("NewOpenWeatherMapProvider() error = %v", err)
		}
		providers = append(providers, p)
	}
	chain := provider.NewChain(logger, providers...)

	var readingCache cache.ReadingCache = cache.NewInMemoryCache(cache.DefaultTTL, cache.DefaultCapacity)
	backend := "memory"
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, cache.DefaultTTL, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			readingCache, backend = mc, "memcached"
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available, using in-memory cache")
		}
	}

	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "weather.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc := service.NewWeatherService(chain, readingCache, st, logger, service.Options{CacheBackend: backend})
	return &Stack{Service: svc, Cache: readingCache, Store: st, Chain: chain, Logger: logger}
}
