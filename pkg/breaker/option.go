package breaker

import "time"

type config struct {
	failureThreshold int
	timeout          time.Duration
	condition        Condition
	clock            Clock
}

// Option configures a Breaker.
type Option func(*config)

// WithFailureThreshold sets consecutive failures before opening the
// circuit. Default is 5.
func WithFailureThreshold(n int) Option {
	return func(c *config) {
		c.failureThreshold = n
	}
}

// WithTimeout sets how long the circuit stays open before allowing a
// trial call. Default is 60 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// If sets the condition that determines whether an error counts as a
// failure. By default, any non-nil error is a failure.
func If(cond Condition) Option {
	return func(c *config) {
		c.condition = cond
	}
}

// WithClock sets the clock for time operations. Useful for testing.
func WithClock(clock Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}
