// Package service implements the weather lookup: cache first, then the provider
// chain, then the last stored reading.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-failover/internal/cache"
	"github.com/kjstillabower/weather-failover/internal/models"
	"github.com/kjstillabower/weather-failover/internal/observability"
	"github.com/kjstillabower/weather-failover/internal/provider"
	"github.com/kjstillabower/weather-failover/internal/store"
	"github.com/kjstillabower/weather-failover/internal/traffic"
)

// ErrNoDataAvailable means no provider answered and nothing was stored for the city.
var ErrNoDataAvailable = errors.New("no weather data available")

// NoDataError is returned by GetWeather when every source came up empty.
// Cause is the chain failure, kept for logs; callers only see the city.
type NoDataError struct {
	City  string
	Cause error
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("%v for %q", ErrNoDataAvailable, e.City)
}

func (e *NoDataError) Is(target error) bool {
	return target == ErrNoDataAvailable
}

func (e *NoDataError) Unwrap() error {
	return e.Cause
}

// ProviderChain is satisfied by *provider.Chain.
type ProviderChain interface {
	FetchFirst(ctx context.Context, city string) (provider.Result, error)
}

// Options tunes a WeatherService. The zero value is the default behaviour:
// no coalescing, so concurrent misses for one city each walk the chain.
type Options struct {
	// CacheBackend labels cache hit/miss metrics ("memory", "memcached").
	CacheBackend    string
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	// StoreTimeout bounds each record read or write and the cache put that
	// follows. Zero means DefaultStoreTimeout.
	StoreTimeout    time.Duration
}

// DefaultStoreTimeout is used when Options.StoreTimeout is unset.
const DefaultStoreTimeout = 2 * time.Second

// WeatherService orchestrates a lookup through the cache, the provider chain
// and the record store.
type WeatherService struct {
	chain           ProviderChain
	cache           cache.ReadingCache
	store           store.RecordStore
	logger          *zap.Logger
	cacheBackend    string
	storeTimeout    time.Duration
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil if disabled
}

// NewWeatherService wires the orchestrator. logger may be nil.
func NewWeatherService(chain ProviderChain, readingCache cache.ReadingCache, records store.RecordStore, logger *zap.Logger, opts Options) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheBackend == "" {
		opts.CacheBackend = "memory"
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	var coalescer *requestCoalescer
	if opts.CoalesceEnabled {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &WeatherService{
		chain:           chain,
		cache:           readingCache,
		store:           records,
		logger:          logger,
		cacheBackend:    opts.CacheBackend,
		storeTimeout:    opts.StoreTimeout,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// GetWeather returns the current reading for city.
//
// A fresh cache entry is returned as is. On a miss the providers are tried in
// order; a live reading is persisted (best effort) and cached. If every provider
// fails, the last stored reading for the city is cached and returned. If there is
// none, the error is a *NoDataError.
func (s *WeatherService) GetWeather(ctx context.Context, city string) (models.Reading, error) {
	key := models.NormalizeCity(city)
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)
	observability.RecordWeatherQuery(key)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("city", key), zap.String("category", categorizeCacheError(err)), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues(s.cacheBackend).Inc()
		observability.WeatherServedTotal.WithLabelValues("cache").Inc()
		traffic.Record(traffic.Cached)
		logger.Debug("weather served", zap.String("city", key), zap.String("source", "cache"), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues(s.cacheBackend).Inc()

	concurrentMisses := s.stampedeTracker.RecordMiss(key)
	defer s.stampedeTracker.RecordHit(key)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(observability.MetricCityLabel(key)).Inc()
	}

	logger.Debug("cache miss, querying providers", zap.String("city", key))

	var reading models.Reading
	if s.coalescer != nil {
		reading, err = s.coalescer.GetOrDo(ctx, key, func(ctx context.Context) (models.Reading, error) {
			return s.resolve(ctx, key)
		})
	} else {
		reading, err = s.resolve(ctx, key)
	}
	if err != nil {
		return models.Reading{}, err
	}
	logger.Debug("weather served", zap.String("city", key), zap.Duration("duration", time.Since(start)))
	return reading, nil
}

// resolve handles a cache miss: live fetch, then stale fallback.
//
// The chain may use up the caller's deadline. Store and cache calls after it run
// on a detached context bounded by storeTimeout, so an exhausted chain still
// reaches the stored reading.
func (s *WeatherService) resolve(ctx context.Context, key string) (models.Reading, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)

	res, chainErr := s.chain.FetchFirst(ctx, key)
	if chainErr == nil {
		s.persist(ctx, logger, key, res)
		s.put(ctx, logger, key, res.Reading)
		observability.WeatherServedTotal.WithLabelValues("live").Inc()
		traffic.Record(traffic.Live)
		logger.Debug("live reading", zap.String("city", key), zap.String("provider", res.Provider))
		return res.Reading, nil
	}

	rec, ok, err := s.latest(ctx, key)
	if err != nil {
		logger.Error("load stored reading failed", zap.String("city", key), zap.Error(err))
	}
	if err == nil && ok {
		s.put(ctx, logger, key, rec.Reading)
		observability.WeatherServedTotal.WithLabelValues("stale").Inc()
		traffic.Record(traffic.Stale)
		logger.Info("serving stored reading",
			zap.String("city", key),
			zap.String("provider", rec.ProviderSource),
			zap.Time("updated_at", rec.UpdatedAt),
			zap.NamedError("chain_error", chainErr))
		return rec.Reading, nil
	}

	observability.NoDataAvailableTotal.Inc()
	traffic.Record(traffic.Unavailable)
	logger.Warn("no weather data available", zap.String("city", key), zap.Error(chainErr))
	return models.Reading{}, &NoDataError{City: key, Cause: chainErr}
}

// detach returns a context that keeps ctx's values but not its deadline or
// cancellation, bounded by storeTimeout.
func (s *WeatherService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
}

func (s *WeatherService) persist(ctx context.Context, logger *zap.Logger, key string, res provider.Result) {
	storeCtx, cancel := s.detach(ctx)
	defer cancel()
	if err := s.store.Upsert(storeCtx, key, res.Reading, res.Provider); err != nil {
		logger.Error("persist reading failed", zap.String("city", key), zap.String("provider", res.Provider), zap.Error(err))
	}
}

func (s *WeatherService) latest(ctx context.Context, key string) (models.CityRecord, bool, error) {
	storeCtx, cancel := s.detach(ctx)
	defer cancel()
	return s.store.Latest(storeCtx, key)
}

func (s *WeatherService) put(ctx context.Context, logger *zap.Logger, key string, reading models.Reading) {
	putCtx, cancel := s.detach(ctx)
	defer cancel()
	if err := s.cache.Put(putCtx, key, reading); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("put").Inc()
		logger.Warn("cache put failed", zap.String("city", key), zap.String("category", categorizeCacheError(err)), zap.Error(err))
	}
}

// categorizeCacheError returns a stable label for cache errors in logs (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
