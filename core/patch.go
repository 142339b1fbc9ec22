package core

// Patch is a field-level partial update to a session. Only non-nil fields
// are merged, so a patch produced by one source (deterministic extraction,
// semantic fallback, tool result folding) can never erase fields another
// source already populated.
type Patch struct {
	Channel     *Channel
	Intent      *Intent
	Patient     PatientRecord
	Appointment AppointmentIntent
}

// IsEmpty reports whether the patch carries no values at all.
func (p Patch) IsEmpty() bool {
	return p.Channel == nil && p.Intent == nil &&
		p.Patient == (PatientRecord{}) &&
		p.Appointment.Category == nil && p.Appointment.PreferredDate == nil &&
		p.Appointment.TimeOfDay == nil && p.Appointment.Slot == nil &&
		p.Appointment.ExistingAppointmentID == nil
}

// ApplyPatch merges all non-nil patch fields into the session. Known fields
// are only overwritten by new values, never by absence. Completed sessions
// reject patches entirely: they are immutable except for audit appends.
func (s *Session) ApplyPatch(p Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Stage == StageCompleted {
		return
	}
	if p.Channel != nil {
		s.Channel = *p.Channel
	}
	if p.Intent != nil && *p.Intent != IntentUnknown {
		s.Intent = *p.Intent
	}
	mergePatient(&s.Patient, p.Patient)
	mergeAppointment(&s.Appointment, p.Appointment)
	s.touchLocked()
}

func mergePatient(dst *PatientRecord, src PatientRecord) {
	if src.FirstName != nil {
		dst.FirstName = cloneStr(src.FirstName)
	}
	if src.LastName != nil {
		dst.LastName = cloneStr(src.LastName)
	}
	if src.Phone != nil {
		dst.Phone = cloneStr(src.Phone)
	}
	if src.Birthdate != nil {
		dst.Birthdate = cloneStr(src.Birthdate)
	}
	if src.PatientID != nil {
		dst.PatientID = cloneStr(src.PatientID)
	}
	if src.NewPatient != nil {
		dst.NewPatient = cloneBool(src.NewPatient)
	}
}

func mergeAppointment(dst *AppointmentIntent, src AppointmentIntent) {
	if src.Category != nil {
		dst.Category = cloneStr(src.Category)
	}
	if src.PreferredDate != nil {
		dst.PreferredDate = cloneStr(src.PreferredDate)
	}
	if src.TimeOfDay != nil {
		dst.TimeOfDay = cloneStr(src.TimeOfDay)
	}
	if src.Slot != nil {
		slot := *src.Slot
		dst.Slot = &slot
	}
	if src.ExistingAppointmentID != nil {
		dst.ExistingAppointmentID = cloneStr(src.ExistingAppointmentID)
	}
}
