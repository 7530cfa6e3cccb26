package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/weather-failover/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS weather_data (
	city                TEXT PRIMARY KEY,
	temperature_degrees REAL NOT NULL,
	wind_speed          REAL NOT NULL,
	provider_source     TEXT NOT NULL,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
)`

// Timestamps are stored as unix nanoseconds so comparisons in the upsert are numeric.
const sqliteUpsert = `
INSERT INTO weather_data (city, temperature_degrees, wind_speed, provider_source, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(city) DO UPDATE SET
	temperature_degrees = excluded.temperature_degrees,
	wind_speed          = excluded.wind_speed,
	provider_source     = excluded.provider_source,
	updated_at          = excluded.updated_at
WHERE excluded.updated_at >= weather_data.updated_at`

const sqliteLatest = `
SELECT city, temperature_degrees, wind_speed, provider_source, created_at, updated_at
FROM weather_data
WHERE city = ?`

// sqliteMaxConns lets reads run alongside a write; WAL keeps them from blocking on it.
const sqliteMaxConns = 4

// SQLiteStore is the default durable RecordStore, a single file on local disk.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty path")
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(sqliteMaxConns)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	o := buildOptions(opts)
	return &SQLiteStore{db: db, now: o.now}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *SQLiteStore) Upsert(ctx context.Context, city string, reading models.Reading, providerSource string) error {
	key := models.NormalizeCity(city)
	now := s.now().UTC().UnixNano()
	_, err := s.db.ExecContext(ctx, sqliteUpsert,
		key, reading.TemperatureCelsius, reading.WindSpeedKmh, providerSource, now, now)
	observe("upsert", err)
	if err != nil {
		return &WriteError{City: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context, city string) (models.CityRecord, bool, error) {
	var (
		rec              models.CityRecord
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, sqliteLatest, models.NormalizeCity(city)).Scan(
		&rec.City, &rec.Reading.TemperatureCelsius, &rec.Reading.WindSpeedKmh,
		&rec.ProviderSource, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		observe("latest", nil)
		return models.CityRecord{}, false, nil
	}
	observe("latest", err)
	if err != nil {
		return models.CityRecord{}, false, fmt.Errorf("sqlite latest: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, true, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
