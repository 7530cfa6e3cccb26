package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/weather-failover/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS weather_data (
	city                TEXT PRIMARY KEY,
	temperature_degrees DOUBLE PRECISION NOT NULL,
	wind_speed          DOUBLE PRECISION NOT NULL,
	provider_source     TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
)`

const postgresUpsert = `
INSERT INTO weather_data (city, temperature_degrees, wind_speed, provider_source, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (city) DO UPDATE SET
	temperature_degrees = EXCLUDED.temperature_degrees,
	wind_speed          = EXCLUDED.wind_speed,
	provider_source     = EXCLUDED.provider_source,
	updated_at          = EXCLUDED.updated_at
WHERE EXCLUDED.updated_at >= weather_data.updated_at`

// PostgresStore is a RecordStore shared by every instance of the service.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects to dsn and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32, opts ...Option) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresStoreFromPool(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool and applies the schema.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	o := buildOptions(opts)
	return &PostgresStore{pool: pool, now: o.now}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, city string, reading models.Reading, providerSource string) error {
	key := models.NormalizeCity(city)
	_, err := s.pool.Exec(ctx, postgresUpsert,
		key, reading.TemperatureCelsius, reading.WindSpeedKmh, providerSource, s.now().UTC())
	observe("upsert", err)
	if err != nil {
		return &WriteError{City: key, Err: err}
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, city string) (models.CityRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT city, temperature_degrees, wind_speed, provider_source, created_at, updated_at
		FROM weather_data
		WHERE city = $1
	`, models.NormalizeCity(city))

	var rec models.CityRecord
	err := row.Scan(&rec.City, &rec.Reading.TemperatureCelsius, &rec.Reading.WindSpeedKmh,
		&rec.ProviderSource, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		observe("latest", nil)
		return models.CityRecord{}, false, nil
	}
	observe("latest", err)
	if err != nil {
		return models.CityRecord{}, false, fmt.Errorf("postgres latest: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, true, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
