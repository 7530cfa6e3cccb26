package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-failover/internal/models"
)

type mockWeatherFetcher struct {
	mu      sync.Mutex
	reading models.Reading
	err     error
	seen    []string
}

func (m *mockWeatherFetcher) GetWeather(ctx context.Context, city string) (models.Reading, error) {
	m.mu.Lock()
	m.seen = append(m.seen, city)
	m.mu.Unlock()
	if m.err != nil {
		return models.Reading{}, m.err
	}
	return m.reading, nil
}

func (m *mockWeatherFetcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockWeatherFetcher{reading: models.Reading{TemperatureCelsius: 10}}
	warmer := NewCacheWarmer(fetcher, nil, 0)

	if err := warmer.Warm(context.Background(), []string{"melbourne", "sydney"}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if fetcher.calls() != 2 {
		t.Errorf("fetches = %d, want 2", fetcher.calls())
	}
}

func TestCacheWarmer_Warm_EmptyCities(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{}, nil, 0)

	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm() with nil cities error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_FetcherError(t *testing.T) {
	apiDown := errors.New("api down")
	warmer := NewCacheWarmer(&mockWeatherFetcher{err: apiDown}, nil, 0)

	err := warmer.Warm(context.Background(), []string{"melbourne"})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !errors.Is(err, apiDown) {
		t.Errorf("Warm() error = %v, want wrapping api down", err)
	}
	if !strings.Contains(err.Error(), "warm melbourne") {
		t.Errorf("Warm() error = %q, want city in message", err.Error())
	}
}

func TestCacheWarmer_Start_RunsImmediately(t *testing.T) {
	fetcher := &mockWeatherFetcher{}
	warmer := NewCacheWarmer(fetcher, nil, time.Second)

	if err := warmer.Start([]string{"melbourne"}, time.Hour); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer warmer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fetcher.calls() == 0 {
		t.Fatal("scheduled warm did not run")
	}
}

func TestCacheWarmer_Start_NoCities(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{}, nil, 0)
	if err := warmer.Start(nil, time.Minute); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	warmer.Stop()
}

func TestCacheWarmer_Start_InvalidInterval(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{}, nil, 0)
	if err := warmer.Start([]string{"melbourne"}, 0); err == nil {
		t.Fatal("Start() error = nil, want error for zero interval")
	}
}
