// Package progress renders live countdown feedback during long rate
// limit waits, so a blocked scan never looks like a silent hang.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for rate limit waiting.
var (
	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forkscout_rate_limit_waits_total",
		Help: "Total number of rate limit waits displayed to the user",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forkscout_rate_limit_wait_seconds",
		Help:    "Duration of rate limit waits",
		Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600},
	})
)

// Display thresholds and refresh intervals.
const (
	// MinDisplayWait suppresses output for short waits to avoid flicker.
	MinDisplayWait = 5 * time.Second

	// BarThreshold switches from a simple countdown line to a progress bar.
	BarThreshold = 60 * time.Second

	barInterval  = 30 * time.Second
	lineInterval = 5 * time.Second
	barWidth     = 30
)

// Tracker renders countdown output for one logical operation. A tracker
// runs at most one background reporter at a time.
type Tracker struct {
	operation string
	out       io.Writer
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates a tracker writing to out (os.Stderr if nil).
func NewTracker(operation string, out io.Writer) *Tracker {
	if out == nil {
		out = os.Stderr
	}
	return &Tracker{
		operation: operation,
		out:       out,
		logger:    log.With().Str("component", "progress").Str("operation", operation).Logger(),
	}
}

// Operation returns the operation name this tracker is keyed by.
func (t *Tracker) Operation() string {
	return t.operation
}

// TrackWait starts a background reporter for a rate limit wait of the
// given duration. Waits shorter than MinDisplayWait display nothing.
// The reporter stops on its own when the wait elapses, when ctx is
// cancelled, or when Stop is called. Never blocks the caller.
func (t *Tracker) TrackWait(ctx context.Context, wait time.Duration, reset time.Time) {
	if wait < MinDisplayWait {
		return
	}

	t.Stop() // at most one reporter per tracker

	rateLimitWaitsTotal.Inc()
	rateLimitWaitSeconds.Observe(wait.Seconds())

	reporterCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	event := t.logger.Warn().Dur("wait", wait)
	if !reset.IsZero() {
		event = event.Time("reset_at", reset)
	}
	event.Msg("Rate limit hit, waiting")

	fmt.Fprintf(t.out, "Rate limit reached for %s. Waiting %s...\n",
		t.operation, FormatDuration(wait))

	go t.report(reporterCtx, done, wait)
}

// Stop cancels the background reporter, if any, and waits for it to
// exit. Safe to call repeatedly and safe to call when nothing runs.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Finish prints a completion notice and stops the reporter. Called by
// the retry coordinator once the wait has elapsed.
func (t *Tracker) Finish() {
	t.mu.Lock()
	running := t.cancel != nil
	t.mu.Unlock()

	t.Stop()
	if running {
		fmt.Fprintf(t.out, "Rate limit wait complete for %s, resuming.\n", t.operation)
	}
}

// report is the background reporter loop. It owns no tracker state and
// exits on context cancellation or when the wait elapses.
func (t *Tracker) report(ctx context.Context, done chan<- struct{}, wait time.Duration) {
	defer close(done)

	interval := lineInterval
	if wait > BarThreshold {
		interval = barInterval
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			remaining := wait - elapsed
			if remaining <= 0 {
				return
			}
			if wait > BarThreshold {
				fmt.Fprintln(t.out, renderBar(elapsed, wait))
			} else {
				fmt.Fprintf(t.out, "%.0f seconds remaining...\n", remaining.Seconds())
			}
		}
	}
}

// renderBar draws an ASCII progress bar with percentage and remaining time.
func renderBar(elapsed, total time.Duration) string {
	pct := float64(elapsed) / float64(total)
	if pct > 1 {
		pct = 1
	}

	filled := int(pct * barWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return fmt.Sprintf("[%s] %3.0f%% - %s remaining", bar, pct*100, FormatDuration(remaining))
}

// FormatDuration renders a duration as "Xh Ym", "Xm Ys", or "Xs".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())

	switch {
	case total >= 3600:
		return fmt.Sprintf("%dh %dm", total/3600, (total%3600)/60)
	case total >= 60:
		return fmt.Sprintf("%dm %ds", total/60, total%60)
	default:
		return fmt.Sprintf("%ds", total)
	}
}
