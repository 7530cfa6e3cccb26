package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-failover/internal/models"
	"github.com/kjstillabower/weather-failover/internal/observability"
)

// WeatherFetcher is implemented by the service layer. Going through it means a
// warm run refreshes both the cache and the persisted record.
type WeatherFetcher interface {
	GetWeather(ctx context.Context, city string) (models.Reading, error)
}

// CacheWarmer prefetches a fixed set of cities on a schedule.
type CacheWarmer struct {
	fetcher   WeatherFetcher
	logger    *zap.Logger
	scheduler *gocron.Scheduler
	timeout   time.Duration
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds each warm run; zero means 30s.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger, timeout time.Duration) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CacheWarmer{
		fetcher:   fetcher,
		logger:    logger,
		scheduler: gocron.NewScheduler(time.UTC),
		timeout:   timeout,
	}
}

// Warm fetches every city concurrently. The returned error joins each failure.
func (w *CacheWarmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(cities))
	for _, city := range cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.GetWeather(ctx, city); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", city, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))

	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Start schedules Warm every interval, first run immediately. A run still in
// progress when the next is due causes that tick to be skipped.
func (w *CacheWarmer) Start(cities []string, interval time.Duration) error {
	if len(cities) == 0 {
		w.logger.Info("cache warming: no cities configured")
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("cache warming: interval must be positive, got %s", interval)
	}

	_, err := w.scheduler.Every(interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.Warm(ctx, cities); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}

	w.scheduler.StartAsync()
	return nil
}

// Stop halts the scheduler. Runs already in flight finish on their own timeout.
func (w *CacheWarmer) Stop() {
	w.scheduler.Stop()
}
