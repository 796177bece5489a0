package progress

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestManager_TrackerIsIdempotent(t *testing.T) {
	m := NewManager(&bytes.Buffer{})

	a := m.Tracker("GET /repos")
	b := m.Tracker("GET /repos")

	if a != b {
		t.Error("same operation should return the same tracker")
	}
	if a.Operation() != "GET /repos" {
		t.Errorf("Operation() = %q, want GET /repos", a.Operation())
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestManager_SeparateOperations(t *testing.T) {
	m := NewManager(&bytes.Buffer{})

	if m.Tracker("a") == m.Tracker("b") {
		t.Error("different operations must get different trackers")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

func TestManager_Cleanup(t *testing.T) {
	m := NewManager(&bytes.Buffer{})

	tracker := m.Tracker("op")
	tracker.TrackWait(context.Background(), time.Minute, time.Time{})

	m.Cleanup("op")

	if m.Len() != 0 {
		t.Errorf("Len() after cleanup = %d, want 0", m.Len())
	}

	// Unknown operations are a no-op.
	m.Cleanup("never existed")
}

func TestManager_StopAll(t *testing.T) {
	m := NewManager(&bytes.Buffer{})

	m.Tracker("a").TrackWait(context.Background(), time.Minute, time.Time{})
	m.Tracker("b").TrackWait(context.Background(), time.Minute, time.Time{})

	m.StopAll()

	if m.Len() != 0 {
		t.Errorf("Len() after StopAll = %d, want 0", m.Len())
	}
}
