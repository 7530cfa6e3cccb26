// Package circuitbreaker wraps a provider.Provider in a sony/gobreaker circuit
// breaker so a persistently failing upstream is skipped without waiting for its timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-failover/internal/models"
	"github.com/kjstillabower/weather-failover/internal/observability"
	"github.com/kjstillabower/weather-failover/internal/provider"
)

// Config holds circuit breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// HalfOpenRequests is the number of probe calls allowed while half-open.
	HalfOpenRequests int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
}

// Provider is a provider.Provider guarded by a circuit breaker.
type Provider struct {
	next provider.Provider
	cb   *gobreaker.CircuitBreaker
}

// Wrap returns next guarded by a breaker named after it. logger may be nil.
func Wrap(next provider.Provider, cfg Config, logger *zap.Logger) *Provider {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	threshold := uint32(cfg.FailureThreshold)
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: uint32(cfg.HalfOpenRequests),
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(observability.CircuitBreakerStateValue(to.String()))
			observability.CircuitBreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
			logger.Warn("circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	observability.CircuitBreakerState.WithLabelValues(next.Name()).Set(0)

	return &Provider{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (p *Provider) Name() string {
	return p.next.Name()
}

// State returns the breaker state as "closed", "half-open" or "open".
func (p *Provider) State() string {
	return p.cb.State().String()
}

// Fetch calls the wrapped provider unless the circuit is open. An unknown city
// or a caller cancellation is returned to the caller without counting against
// the upstream.
func (p *Provider) Fetch(ctx context.Context, city string) (models.Reading, error) {
	var passthrough error
	out, err := p.cb.Execute(func() (interface{}, error) {
		reading, err := p.next.Fetch(ctx, city)
		if err != nil && !countsAsFailure(ctx, err) {
			passthrough = err
			return models.Reading{}, nil
		}
		return reading, err
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return models.Reading{}, provider.NewError(p.Name(), provider.ErrCircuitOpen)
	case err != nil:
		return models.Reading{}, err
	case passthrough != nil:
		return models.Reading{}, passthrough
	}
	return out.(models.Reading), nil
}

func countsAsFailure(ctx context.Context, err error) bool {
	if errors.Is(err, provider.ErrLocationNotFound) {
		return false
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
