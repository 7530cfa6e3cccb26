package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("request timeout: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"cancelled", context.Canceled, ErrorCategoryTimeout},
		{"invalid key", NewError("a", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"not found", NewError("a", ErrLocationNotFound), ErrorCategoryLocationNotFound},
		{"rate limited", fmt.Errorf("exhausted retries: %w", ErrRateLimited), ErrorCategoryRateLimited},
		{"upstream", fmt.Errorf("%w: HTTP 502", ErrUpstreamFailure), ErrorCategoryUpstream5xx},
		{"rejected", fmt.Errorf("%w: HTTP 400", ErrRequestRejected), ErrorCategoryRequestRejected},
		{"reported", fmt.Errorf("%w: code 104", ErrProviderReported), ErrorCategoryProviderReported},
		{"missing fields", ErrMissingFields, ErrorCategoryMissingFields},
		{"circuit open", NewError("a", ErrCircuitOpen), ErrorCategoryCircuitOpen},
		{"parse", errors.New("parse response: unexpected end of JSON input"), ErrorCategoryParsing},
		{"network", errors.New("http request failed: dial tcp: connection refused"), ErrorCategoryNetwork},
		{"dns", errors.New("lookup api.example: no such host"), ErrorCategoryNetwork},
		{"timeout text", errors.New("i/o timeout"), ErrorCategoryTimeout},
		{"unknown", errors.New("something odd"), ErrorCategoryUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategorizeError(tc.err); got != tc.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
