package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-failover/internal/models"
	"github.com/kjstillabower/weather-failover/internal/observability"
)

// requestCoalescer lets concurrent misses for the same city share one resolution.
// The shared call runs detached from any single caller's context so that one
// caller giving up does not fail the others; each caller still waits no longer
// than its own context and the coalescer timeout allow.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &requestCoalescer{timeout: timeout}
}

// GetOrDo runs fn for key unless a call for key is already in flight, in which
// case it waits for that call's result.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (models.Reading, error)) (models.Reading, error) {
	ch := rc.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		return fn(callCtx)
	})

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.Shared {
			observability.CoalescedRequestsTotal.Inc()
		}
		if res.Err != nil {
			return models.Reading{}, res.Err
		}
		return res.Val.(models.Reading), nil
	case <-waitCtx.Done():
		return models.Reading{}, waitCtx.Err()
	}
}
