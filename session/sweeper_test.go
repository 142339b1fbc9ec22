package session

import (
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/schedflow/core"
)

func TestSweeper_EvictsIdleSessions(t *testing.T) {
	store := NewInMemoryStore()
	_, _ = store.GetOrCreate("s1")
	_, _ = store.GetOrCreate("s2")

	sw := NewSweeper(store, nil, func(o *SweeperOptions) {
		o.IdleAfter = time.Hour
	})
	if evicted := sw.Sweep(); evicted != 0 {
		t.Fatalf("recently touched sessions evicted: %d", evicted)
	}

	// Re-judge from an hour in the future: both are now idle.
	sw = NewSweeper(store, nil, func(o *SweeperOptions) {
		o.IdleAfter = 30 * time.Minute
		o.Now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	})
	if evicted := sw.Sweep(); evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}
	if _, err := store.Get("s1"); !errors.Is(err, core.ErrSessionNotFound) {
		t.Error("idle session should be gone")
	}
}

func TestSweeper_SkipsActiveSessions(t *testing.T) {
	store := NewInMemoryStore()
	_, _ = store.GetOrCreate("busy")

	activity := ActivityFunc(func(id string) bool { return id == "busy" })
	sw := NewSweeper(store, activity, func(o *SweeperOptions) {
		o.IdleAfter = time.Nanosecond
		o.Now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	})

	if evicted := sw.Sweep(); evicted != 0 {
		t.Fatalf("evicted = %d, want 0", evicted)
	}
	if _, err := store.Get("busy"); err != nil {
		t.Error("active session must never be evicted")
	}
}
