// Package github provides the GitHub REST API client with error
// classification, adaptive retry, rate limit tracking, and circuit
// breaking.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Romamo/forkscout-sub000/pkg/breaker"
	"github.com/Romamo/forkscout-sub000/pkg/progress"
	"github.com/Romamo/forkscout-sub000/pkg/retry"
)

// Prometheus metrics for GitHub client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkscout_requests_total",
		Help: "Total GitHub requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forkscout_request_duration_seconds",
		Help:    "GitHub request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkscout_errors_total",
		Help: "Total GitHub errors by kind",
	}, []string{"kind"})

	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forkscout_rate_limit_remaining",
		Help: "Requests remaining in the current GitHub rate limit window",
	})
)

// DefaultBaseURL is the GitHub REST API root.
const DefaultBaseURL = "https://api.github.com"

// maxBodySize bounds how much of a response body is read into memory.
const maxBodySize = 10 << 20

// Config holds the client configuration.
type Config struct {
	// BaseURL of the GitHub API (override for tests and GHE).
	BaseURL string

	// Token is the bearer token. Empty means unauthenticated calls with
	// GitHub's much lower anonymous quota.
	Token string

	// UserAgent header (REQUIRED by GitHub).
	UserAgent string

	// APIVersion is sent as X-GitHub-Api-Version.
	APIVersion string

	// Timeout per HTTP exchange.
	Timeout time.Duration

	// Retry configures the retry coordinator.
	Retry retry.Config

	// FailureThreshold opens the circuit after this many consecutive
	// failed logical calls.
	FailureThreshold int

	// BreakerTimeout is the open-state cooldown before a trial call.
	BreakerTimeout time.Duration

	// Progress receives rate limit wait feedback. Defaults to the
	// process-wide manager.
	Progress *progress.Manager
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Token:            token,
		UserAgent:        "forkscout/1.0",
		APIVersion:       "2022-11-28",
		Timeout:          30 * time.Second,
		Retry:            retry.DefaultConfig(),
		FailureThreshold: 5,
		BreakerTimeout:   60 * time.Second,
	}
}

// Client is the GitHub API client. One circuit breaker guards all calls
// made through a client instance.
type Client struct {
	httpClient *http.Client
	config     Config
	retry      *retry.Coordinator
	breaker    *breaker.Breaker
	logger     zerolog.Logger

	mu       sync.Mutex
	lastRate RateLimitState
}

// New creates a new GitHub client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}

	logger := log.With().Str("component", "github-client").Logger()

	if cfg.Token == "" {
		logger.Warn().Msg("No token configured, using anonymous rate limits")
	}

	// The breaker counts only sustained service failures: server errors
	// and transport faults. Rate limits and caller mistakes (404, 401)
	// pass through without tripping it.
	brk := breaker.New("github-api",
		breaker.WithFailureThreshold(cfg.FailureThreshold),
		breaker.WithTimeout(cfg.BreakerTimeout),
		breaker.If(func(err error) bool {
			apiErr := AsAPIError(err)
			return apiErr != nil && (apiErr.StatusCode == 0 || apiErr.StatusCode >= 500)
		}),
	)

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config:  cfg,
		retry:   retry.New(cfg.Retry, cfg.Progress),
		breaker: brk,
		logger:  logger,
	}, nil
}

// Get performs a GET request against the given API path.
func (c *Client) Get(ctx context.Context, path string, access AccessContext) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, path, nil, access)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPost, path, body, AccessGeneric)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPatch, path, body, AccessGeneric)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodDelete, path, nil, AccessGeneric)
}

// call runs one logical API call: breaker, then retry, then a single
// HTTP exchange per attempt. The breaker observes the final outcome of
// the whole retry sequence as one failure or success.
func (c *Client) call(ctx context.Context, method, path string, body any, access AccessContext) (json.RawMessage, error) {
	operation := method + " " + path

	return breaker.Run(ctx, c.breaker, func(ctx context.Context) (json.RawMessage, error) {
		return retry.Do(ctx, c.retry, operation, func(ctx context.Context) (json.RawMessage, error) {
			return c.do(ctx, method, path, body, access)
		})
	})
}

// do performs exactly one HTTP exchange and classifies the outcome.
func (c *Client) do(ctx context.Context, method, path string, body any, access AccessContext) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.config.APIVersion != "" {
		req.Header.Set("X-GitHub-Api-Version", c.config.APIVersion)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("endpoint", path).
		Str("method", method).
		Msg("Executing GitHub request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}
		apiErr := ClassifyTransportError(err)
		errorsTotal.WithLabelValues(string(apiErr.Kind)).Inc()
		requestsTotal.WithLabelValues(path, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", path).Msg("HTTP request failed")
		return nil, apiErr
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		apiErr := ClassifyTransportError(err)
		errorsTotal.WithLabelValues(string(apiErr.Kind)).Inc()
		return nil, apiErr
	}

	c.trackRateLimit(resp.Header)
	requestsTotal.WithLabelValues(path, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		apiErr := Classify(resp, payload, access)
		errorsTotal.WithLabelValues(string(apiErr.Kind)).Inc()

		c.logger.Warn().
			Str("endpoint", path).
			Int("status_code", resp.StatusCode).
			Str("error_kind", string(apiErr.Kind)).
			Msg("GitHub request error")

		return nil, apiErr
	}

	return json.RawMessage(payload), nil
}

// trackRateLimit records the rate limit headers of the latest response.
func (c *Client) trackRateLimit(headers http.Header) {
	state := ParseRateLimit(headers)
	if state.Limit == 0 && state.Remaining == 0 && !state.HasReset() {
		return
	}

	c.mu.Lock()
	c.lastRate = state
	c.mu.Unlock()

	rateLimitRemaining.Set(float64(state.Remaining))

	if state.Remaining > 0 && state.Remaining <= 10 {
		c.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.Reset).
			Msg("GitHub rate limit nearly exhausted")
	}
}

// RateLimit returns the rate limit state of the most recent response.
func (c *Client) RateLimit() RateLimitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRate
}

// CircuitBreakerStatus returns a diagnostic snapshot of the breaker.
func (c *Client) CircuitBreakerStatus() breaker.Status {
	return c.breaker.Status()
}

// ResetCircuitBreaker manually closes the breaker.
func (c *Client) ResetCircuitBreaker() {
	c.breaker.Reset()
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
