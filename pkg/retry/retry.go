// Package retry coordinates adaptive retries for GitHub API calls:
// exponential backoff with jitter for transient failures, and
// rate-limit-aware waiting driven by server-supplied reset times.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Romamo/forkscout-sub000/pkg/progress"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkscout_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"error_kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forkscout_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900, 1800},
	}, []string{"error_kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkscout_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"error_kind"})
)

// Sentinel errors returned by the coordinator.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during
	// a backoff wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// Classified is the contract the coordinator requires from errors it
// retries. The client's classified errors implement it; anything that
// does not propagates immediately after a single invocation.
type Classified interface {
	error

	// Retryable reports whether a later attempt may succeed.
	Retryable() bool

	// Class labels the error for logs and metrics.
	Class() string

	// RateLimited reports whether this is a rate limit error, and the
	// window reset time when the server supplied one (zero otherwise).
	RateLimited() (reset time.Time, ok bool)
}

// rateLimitFallback is the progressive wait schedule used when the
// server reports a rate limit without a usable reset time. Indexed by
// attempt number; attempts beyond the last entry reuse it.
var rateLimitFallback = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

// rateLimitClass is the metrics label for rate limit waits.
const rateLimitClass = "rate_limit"

// Config holds the retry configuration.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Rate limit waits with a server-supplied reset time do not count
	// against it.
	MaxRetries int

	// BaseDelay is the initial backoff duration.
	BaseDelay time.Duration

	// MaxDelay caps the un-jittered exponential backoff.
	MaxDelay time.Duration

	// BackoffFactor is the exponential growth factor.
	BackoffFactor float64

	// Jitter randomizes each backoff into [0.5, 1.0] of its computed
	// value to avoid synchronized retry storms.
	Jitter bool
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Coordinator executes operations with retry. Attempts for one logical
// operation are strictly sequential.
type Coordinator struct {
	cfg      Config
	progress *progress.Manager
	logger   zerolog.Logger

	// injectable for tests
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
	now       func() time.Time
}

// New creates a retry coordinator.
func New(cfg Config, manager *progress.Manager) *Coordinator {
	if manager == nil {
		manager = progress.DefaultManager
	}
	return &Coordinator{
		cfg:       cfg,
		progress:  manager,
		logger:    log.With().Str("component", "retry").Logger(),
		sleep:     sleepContext,
		randFloat: rand.Float64,
		now:       time.Now,
	}
}

// Execute runs fn with retry. Non-retryable errors propagate immediately
// after a single invocation. Retryable non-rate-limit errors use bounded
// exponential backoff. Rate limits wait out the server-supplied reset
// time without an attempt cap; when no future reset time is known they
// fall back to a progressive schedule bounded by MaxRetries.
func (c *Coordinator) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	attempt := 0

	for {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				c.logger.Info().
					Str("operation", operation).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		var cls Classified
		if !errors.As(err, &cls) || !cls.Retryable() {
			return err
		}

		if reset, rateLimited := cls.RateLimited(); rateLimited {
			// A reset time in the past is as good as no reset time: the
			// server is serving stale data and cannot be trusted for an
			// uncapped wait loop.
			resetKnown := reset.After(c.now())

			if !resetKnown && attempt >= c.cfg.MaxRetries {
				retryExhaustedTotal.WithLabelValues(rateLimitClass).Inc()
				return fmt.Errorf("%w for %s after %d attempts: %w",
					ErrRetryExhausted, operation, attempt+1, err)
			}

			delay := RateLimitDelay(reset, attempt)
			if waitErr := c.waitRateLimit(ctx, operation, delay, reset); waitErr != nil {
				return waitErr
			}

			// Future reset times are trusted: those waits do not consume
			// the retry budget.
			if !resetKnown {
				attempt++
			}
			continue
		}

		if attempt >= c.cfg.MaxRetries {
			retryExhaustedTotal.WithLabelValues(cls.Class()).Inc()
			c.logger.Warn().
				Str("operation", operation).
				Str("error_kind", cls.Class()).
				Int("max_retries", c.cfg.MaxRetries).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w for %s after %d attempts: %w",
				ErrRetryExhausted, operation, attempt+1, err)
		}

		delay := c.backoff(attempt)
		retriesTotal.WithLabelValues(cls.Class()).Inc()
		retryBackoffSeconds.WithLabelValues(cls.Class()).Observe(delay.Seconds())

		c.logger.Warn().
			Str("operation", operation).
			Str("error_kind", cls.Class()).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("Retrying request after backoff")

		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%w during backoff for %s: %w", ErrContextCancelled, operation, sleepErr)
		}
		attempt++
	}
}

// Do runs fn with retry and returns its result. Convenience wrapper for
// operations that return a value.
func Do[T any](ctx context.Context, c *Coordinator, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.Execute(ctx, operation, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// waitRateLimit sleeps out a rate limit window with live user feedback.
func (c *Coordinator) waitRateLimit(ctx context.Context, operation string, delay time.Duration, reset time.Time) error {
	retriesTotal.WithLabelValues(rateLimitClass).Inc()
	retryBackoffSeconds.WithLabelValues(rateLimitClass).Observe(delay.Seconds())

	tracker := c.progress.Tracker(operation)
	tracker.TrackWait(ctx, delay, reset)
	defer c.progress.Cleanup(operation)

	if err := c.sleep(ctx, delay); err != nil {
		c.logger.Warn().
			Str("operation", operation).
			Msg("Context cancelled during rate limit wait")
		return fmt.Errorf("%w during rate limit wait for %s: %w", ErrContextCancelled, operation, err)
	}

	tracker.Finish()
	return nil
}

// backoff computes the jittered delay for the given attempt index.
// Jitter is applied after the cap, so it never pushes a delay above the
// un-jittered value.
func (c *Coordinator) backoff(attempt int) time.Duration {
	delay := BackoffDelay(c.cfg, attempt)
	if c.cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + c.randFloat()*0.5))
	}
	return delay
}

// BackoffDelay returns the un-jittered exponential backoff for the given
// attempt index, capped at cfg.MaxDelay.
func BackoffDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RateLimitDelay computes the wait for a rate limit error. A reset time
// in the future yields the remaining window plus a one second buffer,
// uncapped. A zero or stale reset time falls back to the progressive
// schedule, indexed by attempt.
func RateLimitDelay(reset time.Time, attempt int) time.Duration {
	if until := time.Until(reset); !reset.IsZero() && until > 0 {
		return until + 1*time.Second
	}

	idx := attempt
	if idx >= len(rateLimitFallback) {
		idx = len(rateLimitFallback) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return rateLimitFallback[idx]
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
