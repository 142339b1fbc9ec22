package core

import (
	"time"
)

// Canonical tool names forming the closed set the orchestration loop
// dispatches over. The external executor owns the mapping from these names
// to whatever the scheduling backend actually calls its operations.
const (
	ToolGetMultiplePatients = "GetMultiplePatients"
	ToolCreatePatient       = "CreatePatient"
	ToolGetAppointments     = "GetAppointments"
	ToolGetAvailableSlots   = "GetAvailableSlots"
	ToolCreateAppointment   = "CreateAppointment"
	ToolUpdateAppointment   = "UpdateAppointment"
	ToolCancelAppointment   = "CancelAppointment"
)

// IsMutatingTool reports whether a tool changes backend state. Mutating
// tools are subject to the at-most-once guard.
func IsMutatingTool(name string) bool {
	switch name {
	case ToolCreateAppointment, ToolUpdateAppointment, ToolCancelAppointment, ToolCreatePatient:
		return true
	}
	return false
}

// ToolCallRecord is one append-only entry of a session's tool call log.
// Exactly one of Result / Error is meaningful; AutoFilled names the
// parameters the loop injected from state rather than the model supplying.
type ToolCallRecord struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	AutoFilled []string       `json:"auto_filled,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Succeeded reports whether the call completed without an error.
func (r ToolCallRecord) Succeeded() bool { return r.Error == "" }

// RecordToolCall appends a tool call record and folds state-relevant result
// fields back into the session: resolved patient ids from patient searches,
// candidate appointment ids from listings, and completion state from
// successful mutations.
func (s *Session) RecordToolCall(rec ToolCallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.ToolCalls = append(s.ToolCalls, rec)

	if rec.Succeeded() {
		switch rec.Tool {
		case ToolGetMultiplePatients, ToolCreatePatient:
			s.foldPatientLocked(rec.Result)
		case ToolGetAppointments:
			s.foldAppointmentListLocked(rec.Result)
		case ToolCreateAppointment, ToolUpdateAppointment:
			s.foldMutationLocked(rec.Result)
		case ToolCancelAppointment:
			s.Stage = StageCompleted
		}
	}

	s.Updated = time.Now().UTC()
	if s.Stage != StageCompleted {
		s.touchLocked()
	} else {
		s.MissingRequired = nil
	}
}

// SuccessfulCalls returns the successful records for the named tool in
// execution order.
func (s *Session) SuccessfulCalls(tool string) []ToolCallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ToolCallRecord
	for _, rec := range s.ToolCalls {
		if rec.Tool == tool && rec.Succeeded() {
			out = append(out, rec)
		}
	}
	return out
}

// HasSuccessfulMutation reports whether any mutating tool call has already
// succeeded in this session.
func (s *Session) HasSuccessfulMutation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.ToolCalls {
		if IsMutatingTool(rec.Tool) && rec.Succeeded() {
			return true
		}
	}
	return false
}

// IsSchedulingMutation reports whether a tool changes the appointment
// schedule itself. Creating a patient record mutates backend state but is
// not a scheduling change: it neither earns a success claim nor triggers
// the at-most-once guard.
func IsSchedulingMutation(name string) bool {
	switch name {
	case ToolCreateAppointment, ToolUpdateAppointment, ToolCancelAppointment:
		return true
	}
	return false
}

// HasSchedulingMutation reports whether a scheduling change has already
// succeeded in this session. The orchestration loop consults this before
// re-invoking a mutation and inside the truthfulness guard.
func (s *Session) HasSchedulingMutation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.ToolCalls {
		if IsSchedulingMutation(rec.Tool) && rec.Succeeded() {
			return true
		}
	}
	return false
}

// ToolCallLog returns a defensive copy of the tool call records.
func (s *Session) ToolCallLog() []ToolCallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ToolCallRecord(nil), s.ToolCalls...)
}

// foldPatientLocked resolves a patient id (and names, if still unknown)
// from a patient search or creation result.
func (s *Session) foldPatientLocked(result any) {
	entry, ok := firstEntry(result, "patients")
	if !ok {
		return
	}
	if id, ok := stringField(entry, "patient_id", "id"); ok && s.Patient.PatientID == nil {
		s.Patient.PatientID = &id
	}
	if first, ok := stringField(entry, "first_name"); ok && s.Patient.FirstName == nil {
		s.Patient.FirstName = &first
	}
	if last, ok := stringField(entry, "last_name"); ok && s.Patient.LastName == nil {
		s.Patient.LastName = &last
	}
}

// foldAppointmentListLocked selects the reschedule/cancel target from a
// listing result: the first entry in "Scheduled" status, else the first
// entry at all. The fallback may target a cancelled or completed
// appointment; callers log it as ambiguous.
func (s *Session) foldAppointmentListLocked(result any) {
	if s.Appointment.ExistingAppointmentID != nil {
		return
	}
	entries := allEntries(result, "appointments")
	if len(entries) == 0 {
		return
	}
	pick := entries[0]
	for _, e := range entries {
		if status, ok := stringField(e, "status"); ok && status == "Scheduled" {
			pick = e
			break
		}
	}
	if id, ok := stringField(pick, "appointment_id", "id"); ok {
		s.Appointment.ExistingAppointmentID = &id
	}
}

// foldMutationLocked marks the session completed and stores the returned
// appointment id after a successful create/update.
func (s *Session) foldMutationLocked(result any) {
	if m, ok := result.(map[string]any); ok {
		if id, ok := stringField(m, "appointment_id", "id"); ok {
			s.Appointment.ExistingAppointmentID = &id
		}
	}
	s.Stage = StageCompleted
}

// firstEntry extracts the first object from a result that is either a list
// of objects, an object wrapping such a list under one of the given keys,
// or a single object.
func firstEntry(result any, listKeys ...string) (map[string]any, bool) {
	entries := allEntries(result, listKeys...)
	if len(entries) == 0 {
		return nil, false
	}
	return entries[0], true
}

func allEntries(result any, listKeys ...string) []map[string]any {
	switch v := result.(type) {
	case []any:
		var out []map[string]any
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case []map[string]any:
		return v
	case map[string]any:
		for _, key := range listKeys {
			if nested, ok := v[key]; ok {
				return allEntries(nested)
			}
		}
		return []map[string]any{v}
	}
	return nil
}

func stringField(m map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
