package session

import (
	"errors"
	"testing"

	"github.com/hupe1980/schedflow/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.SessionStore = (*InMemoryStore)(nil)
	_ core.SessionStore = (*RedisStore)(nil)
)

func TestInMemoryStore_GetOrCreateIsLazy(t *testing.T) {
	s := NewInMemoryStore()

	if _, err := s.Get("s1"); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	sess, err := s.GetOrCreate("s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID != "s1" || sess.Stage != core.StageGreeting {
		t.Fatalf("unexpected fresh session: %+v", sess)
	}

	if _, err := s.Get("s1"); err != nil {
		t.Fatalf("session should exist after GetOrCreate: %v", err)
	}
}

func TestInMemoryStore_ReadsAreSnapshots(t *testing.T) {
	s := NewInMemoryStore()
	first := "Maria"
	if err := s.Update("s1", core.Patch{Patient: core.PatientRecord{FirstName: &first}}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get("s1")
	*got.Patient.FirstName = "changed"

	again, _ := s.Get("s1")
	if *again.Patient.FirstName != "Maria" {
		t.Error("mutating a returned snapshot leaked into the store")
	}
}

func TestInMemoryStore_MutationsGoThroughSessionRules(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.AppendMessage("s1", "user", "hi, I'd like to book a checkup"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordToolCall("s1", core.ToolCallRecord{
		Tool:   core.ToolCreateAppointment,
		Result: map[string]any{"appointment_id": "a-1"},
	}); err != nil {
		t.Fatal(err)
	}

	sess, _ := s.Get("s1")
	if sess.Stage != core.StageCompleted {
		t.Errorf("fold rules not applied through store, stage = %s", sess.Stage)
	}

	// Patches are rejected after completion, same as on Session directly.
	other := "Other"
	_ = s.Update("s1", core.Patch{Patient: core.PatientRecord{FirstName: &other}})
	sess, _ = s.Get("s1")
	if sess.Patient.FirstName != nil {
		t.Error("completed session accepted a patch through the store")
	}
}

func TestInMemoryStore_ListAndDelete(t *testing.T) {
	s := NewInMemoryStore()
	_, _ = s.GetOrCreate("s1")
	_, _ = s.GetOrCreate("s2")

	all, err := s.List()
	if err != nil || len(all) != 2 {
		t.Fatalf("List = %d sessions, err %v", len(all), err)
	}

	if err := s.Delete("s1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("unknown"); err != nil {
		t.Fatalf("deleting unknown session should be a no-op, got %v", err)
	}
	all, _ = s.List()
	if len(all) != 1 {
		t.Fatalf("expected 1 session after delete, got %d", len(all))
	}
}
