// Package store persists the last known good reading per city. The
// orchestrator falls back to it when every live provider fails.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kjstillabower/weather-failover/internal/models"
	"github.com/kjstillabower/weather-failover/internal/observability"
)

// RecordStore holds at most one CityRecord per normalized city.
//
// Upsert creates the record on first success and overwrites it afterwards;
// CreatedAt is set once and UpdatedAt is refreshed. Concurrent writers for the
// same city resolve last-write-wins by UpdatedAt. Latest reports false when the
// city has never been stored.
type RecordStore interface {
	Upsert(ctx context.Context, city string, reading models.Reading, providerSource string) error
	Latest(ctx context.Context, city string) (models.CityRecord, bool, error)
}

// WriteError is returned by Upsert. The read path logs and discards it.
type WriteError struct {
	City string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write for %q: %v", e.City, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Option configures a store backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the clock used to stamp CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func observe(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
}
