// Package provider defines the weather provider capability, the HTTP adapters for
// WeatherStack and OpenWeatherMap, and the ordered failover Chain.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kjstillabower/weather-failover/internal/models"
)

// Provider fetches the current reading for a city from one external API.
// Implementations hold only connection configuration and are safe for concurrent use.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, city string) (models.Reading, error)
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRequestRejected  = errors.New("request rejected")
	ErrRateLimited      = errors.New("rate limited")
	ErrProviderReported = errors.New("provider reported error")
	ErrMissingFields    = errors.New("response missing required fields")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrChainExhausted   = errors.New("all providers failed")
)

// Error is a failure of a single provider. The chain swallows it and moves on.
type Error struct {
	Provider string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError wraps cause as a failure of the named provider.
func NewError(provider string, cause error) error {
	return &Error{Provider: provider, Cause: cause}
}

// Result is a successful chain lookup: the reading and the provider that produced it.
type Result struct {
	Reading  models.Reading
	Provider string
}

// ExhaustedError is returned by Chain.FetchFirst when no provider succeeded.
// errors.Is(err, ErrChainExhausted) holds for it.
type ExhaustedError struct {
	Causes []error
}

func (e *ExhaustedError) Error() string {
	if len(e.Causes) == 0 {
		return ErrChainExhausted.Error() + ": no providers configured"
	}
	msgs := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		msgs = append(msgs, c.Error())
	}
	return ErrChainExhausted.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrChainExhausted
}

func (e *ExhaustedError) Unwrap() []error {
	return e.Causes
}
