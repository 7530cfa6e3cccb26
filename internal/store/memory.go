package store

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-failover/internal/models"
)

// MemoryStore is a process-local RecordStore, used in tests and when no
// durable backend is configured. Records do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.CityRecord
	now     func() time.Time
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{records: make(map[string]models.CityRecord), now: o.now}
}

func (s *MemoryStore) Upsert(ctx context.Context, city string, reading models.Reading, providerSource string) error {
	if err := ctx.Err(); err != nil {
		observe("upsert", err)
		return &WriteError{City: city, Err: err}
	}
	key := models.NormalizeCity(city)
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if ok && existing.UpdatedAt.After(now) {
		observe("upsert", nil)
		return nil
	}
	rec := models.CityRecord{
		City:           key,
		Reading:        reading,
		ProviderSource: providerSource,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ok {
		rec.CreatedAt = existing.CreatedAt
	}
	s.records[key] = rec
	observe("upsert", nil)
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, city string) (models.CityRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		observe("latest", err)
		return models.CityRecord{}, false, err
	}
	s.mu.RLock()
	rec, ok := s.records[models.NormalizeCity(city)]
	s.mu.RUnlock()
	observe("latest", nil)
	return rec, ok, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
