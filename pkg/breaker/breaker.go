// Package breaker implements a three-state circuit breaker that sheds
// load from a consistently failing operation for a cooldown window.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for circuit breaker activity.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forkscout_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	breakerRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkscout_breaker_rejects_total",
		Help: "Calls rejected while the circuit was open",
	}, []string{"name"})

	breakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkscout_breaker_trips_total",
		Help: "Transitions into the open state",
	}, []string{"name"})
)

// State represents the circuit breaker state.
type State int

const (
	// Closed is the normal operating state. Calls flow through.
	Closed State = iota

	// Open is the tripped state. Calls are rejected immediately.
	Open

	// HalfOpen allows one trial call to test recovery.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Condition determines whether an error counts as a breaker failure.
// Errors not matching the condition pass through without touching state.
type Condition func(error) bool

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ErrOpen is returned when the circuit is open and rejecting calls.
var ErrOpen = errors.New("circuit open")

// IsOpen reports whether err is because the circuit is open.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}

// Default values.
const (
	DefaultFailureThreshold = 5
	DefaultTimeout          = 60 * time.Second
)

// Status is a read-only snapshot of the breaker for diagnostics.
type Status struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	FailureCount     int       `json:"failure_count"`
	FailureThreshold int       `json:"failure_threshold"`
	LastFailureTime  time.Time `json:"last_failure_time,omitzero"`
}

// Breaker is a circuit breaker. Safe for concurrent use: all state
// mutations happen under one mutex (single-writer discipline).
type Breaker struct {
	name string
	cfg  config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	logger      zerolog.Logger
}

// New creates a Breaker with the given options.
func New(name string, opts ...Option) *Breaker {
	cfg := config{
		failureThreshold: DefaultFailureThreshold,
		timeout:          DefaultTimeout,
		condition:        defaultCondition,
		clock:            realClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	breakerState.WithLabelValues(name).Set(float64(Closed))

	return &Breaker{
		name:   name,
		cfg:    cfg,
		state:  Closed,
		logger: log.With().Str("component", "breaker").Str("name", name).Logger(),
	}
}

// Do executes fn with circuit breaker protection. While open and inside
// the cooldown window it fails fast with ErrOpen without invoking fn.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		breakerRejectsTotal.WithLabelValues(b.name).Inc()
		b.logger.Warn().Msg("Call rejected, circuit open")
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// Run executes fn and returns its result with circuit breaker protection.
// Convenience wrapper for functions that return a value.
func Run[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Do(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// State returns the current state, applying the open to half-open
// transition if the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Status returns a diagnostic snapshot.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:             b.name,
		State:            b.currentState().String(),
		FailureCount:     b.failures,
		FailureThreshold: b.cfg.failureThreshold,
		LastFailureTime:  b.lastFailure,
	}
}

// Reset manually resets the circuit to closed with a zero failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(Closed)
	b.failures = 0
	b.logger.Info().Msg("Circuit manually reset")
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.currentState() == Open {
		return ErrOpen
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.cfg.condition(err) {
		if err == nil {
			// Success closes a half-open circuit and always clears the counter.
			if b.currentState() == HalfOpen {
				b.setState(Closed)
			}
			b.failures = 0
		}
		// Non-matching errors leave breaker state untouched.
		return
	}

	b.failures++
	b.lastFailure = b.cfg.clock.Now()

	switch b.currentState() {
	case HalfOpen:
		b.setState(Open)
	case Closed:
		if b.failures >= b.cfg.failureThreshold {
			b.setState(Open)
		}
	}
}

// currentState must be called with the mutex held.
func (b *Breaker) currentState() State {
	if b.state == Open && b.cfg.clock.Now().Sub(b.lastFailure) > b.cfg.timeout {
		b.setState(HalfOpen)
	}
	return b.state
}

// setState must be called with the mutex held.
func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	breakerState.WithLabelValues(b.name).Set(float64(to))

	if to == Open {
		breakerTripsTotal.WithLabelValues(b.name).Inc()
		b.logger.Error().
			Int("failures", b.failures).
			Str("from", from.String()).
			Msg("Circuit opened")
		return
	}

	b.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit state changed")
}

func defaultCondition(err error) bool {
	return err != nil
}
