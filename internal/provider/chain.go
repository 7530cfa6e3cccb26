package provider

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-failover/internal/observability"
)

// Chain is an ordered, fixed list of providers tried primary first.
type Chain struct {
	providers []Provider
	logger    *zap.Logger
}

// NewChain copies providers into a new Chain; later changes to the caller's slice
// do not affect it. logger may be nil.
func NewChain(logger *zap.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	ps := make([]Provider, len(providers))
	copy(ps, providers)
	return &Chain{providers: ps, logger: logger}
}

// Names returns provider names in the order they are tried.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Len returns the number of providers in the chain.
func (c *Chain) Len() int {
	return len(c.providers)
}

// FetchFirst invokes providers strictly in order and returns the first success.
// Providers after a success are never called. Individual failures are logged and
// swallowed; if every provider fails the result is an *ExhaustedError holding each cause.
func (c *Chain) FetchFirst(ctx context.Context, city string) (Result, error) {
	logger := observability.LoggerFromContext(ctx, c.logger)
	var causes []error

	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			causes = append(causes, fmt.Errorf("chain stopped before %s: %w", p.Name(), err))
			break
		}

		reading, err := p.Fetch(ctx, city)
		if err == nil {
			logger.Debug("provider succeeded", zap.String("provider", p.Name()), zap.String("city", city))
			return Result{Reading: reading, Provider: p.Name()}, nil
		}

		var perr *Error
		if !errors.As(err, &perr) {
			err = NewError(p.Name(), err)
		}
		category := CategorizeError(err)
		observability.ProviderErrorsTotal.WithLabelValues(p.Name(), string(category)).Inc()
		logger.Warn("provider failed",
			zap.String("provider", p.Name()),
			zap.String("city", city),
			zap.String("category", string(category)),
			zap.Error(err))
		causes = append(causes, err)
	}

	observability.ChainExhaustedTotal.Inc()
	return Result{}, &ExhaustedError{Causes: causes}
}
