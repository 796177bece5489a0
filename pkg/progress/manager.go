package progress

import (
	"io"
	"sync"
)

// Manager holds one tracker per logical operation name so concurrent
// operations do not interleave their countdown output.
type Manager struct {
	mu       sync.Mutex
	out      io.Writer
	trackers map[string]*Tracker
}

// NewManager creates a manager whose trackers write to out
// (os.Stderr if nil).
func NewManager(out io.Writer) *Manager {
	return &Manager{
		out:      out,
		trackers: make(map[string]*Tracker),
	}
}

// Tracker returns the tracker for operation, creating it on first use.
// Idempotent per operation name.
func (m *Manager) Tracker(operation string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.trackers[operation]; ok {
		return t
	}
	t := NewTracker(operation, m.out)
	m.trackers[operation] = t
	return t
}

// Cleanup stops the tracker for operation and removes it from the map.
// No-op if the operation has no tracker.
func (m *Manager) Cleanup(operation string) {
	m.mu.Lock()
	t, ok := m.trackers[operation]
	delete(m.trackers, operation)
	m.mu.Unlock()

	if ok {
		t.Stop()
	}
}

// StopAll stops every tracker. Used on shutdown so no reporter outlives
// the process teardown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	m.trackers = make(map[string]*Tracker)
	m.mu.Unlock()

	for _, t := range trackers {
		t.Stop()
	}
}

// Len returns the number of live trackers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trackers)
}

// DefaultManager provides process-wide access for call sites that do not
// thread a manager through.
var DefaultManager = NewManager(nil)
