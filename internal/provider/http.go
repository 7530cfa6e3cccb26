package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/weather-failover/internal/observability"
)

const (
	defaultTimeout        = 5 * time.Second
	defaultRetryBaseDelay = 100 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
	maxResponseBytes      = 1 << 20
)

// HTTPConfig is the connection configuration shared by the HTTP providers.
type HTTPConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// RetryAttempts is the total number of attempts per Fetch; values below 1 mean 1.
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Client overrides the HTTP client. Its Timeout is left untouched when set.
	Client *http.Client
}

type httpProvider struct {
	name           string
	apiKey         string
	baseURL        *url.URL
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

func newHTTPProvider(name string, cfg HTTPConfig) (httpProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return httpProvider{}, fmt.Errorf("%w: %s API key is required", ErrInvalidAPIKey, name)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return httpProvider{}, fmt.Errorf("%s: invalid base URL %q", name, cfg.BaseURL)
	}

	p := httpProvider{
		name:           name,
		apiKey:         cfg.APIKey,
		baseURL:        u,
		timeout:        cfg.Timeout,
		client:         cfg.Client,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.retryAttempts < 1 {
		p.retryAttempts = 1
	}
	if p.retryBaseDelay <= 0 {
		p.retryBaseDelay = defaultRetryBaseDelay
	}
	if p.retryMaxDelay <= 0 {
		p.retryMaxDelay = defaultRetryMaxDelay
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: p.timeout}
	}
	return p, nil
}

// getJSON issues a GET with params and decodes the body into out, retrying
// transient failures with exponential backoff.
func (p *httpProvider) getJSON(ctx context.Context, params url.Values, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.WithLabelValues(p.name).Inc()
			delay := p.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := p.callAPI(ctx, params, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}

	if p.retryAttempts > 1 {
		return fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return lastErr
}

func (p *httpProvider) callAPI(ctx context.Context, params url.Values, out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u := *p.baseURL
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(p.name, "error").Inc()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(p.name, "error").Inc()
		observability.ProviderDuration.WithLabelValues(p.name, "error").Observe(time.Since(start).Seconds())

		err = p.redact(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ProviderCallsTotal.WithLabelValues(p.name, status).Inc()
	observability.ProviderDuration.WithLabelValues(p.name, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// redact drops the query string (which carries the API key) from transport errors.
func (p *httpProvider) redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{Op: urlErr.Op, URL: p.baseURL.Redacted(), Err: urlErr.Err}
	}
	return err
}

func (p *httpProvider) calculateBackoff(attempt int) time.Duration {
	delay := float64(p.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.retryMaxDelay) {
		delay = float64(p.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded")
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrRequestRejected, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
