package testutil

import (
	"github.com/hupe1980/schedflow/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Intent(core.IntentBook).Name("Jane", "Doe").Build()
type SessionBuilder struct {
	id      string
	patches []core.Patch
	msgs    []core.Message
}

// NewSessionBuilder creates a new builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id}
}

// Intent sets the conversation intent (chainable).
func (b *SessionBuilder) Intent(intent core.Intent) *SessionBuilder {
	b.patches = append(b.patches, core.Patch{Intent: &intent})
	return b
}

// Name sets the patient name pair (chainable).
func (b *SessionBuilder) Name(first, last string) *SessionBuilder {
	b.patches = append(b.patches, core.Patch{Patient: core.PatientRecord{FirstName: &first, LastName: &last}})
	return b
}

// Phone sets the patient phone (chainable).
func (b *SessionBuilder) Phone(phone string) *SessionBuilder {
	b.patches = append(b.patches, core.Patch{Patient: core.PatientRecord{Phone: &phone}})
	return b
}

// PatientID sets a resolved patient id (chainable).
func (b *SessionBuilder) PatientID(id string) *SessionBuilder {
	b.patches = append(b.patches, core.Patch{Patient: core.PatientRecord{PatientID: &id}})
	return b
}

// Appointment sets category, preferred date and time of day (chainable).
func (b *SessionBuilder) Appointment(category, date, timeOfDay string) *SessionBuilder {
	b.patches = append(b.patches, core.Patch{Appointment: core.AppointmentIntent{
		Category:      &category,
		PreferredDate: &date,
		TimeOfDay:     &timeOfDay,
	}})
	return b
}

// Slot marks an explicitly selected slot (chainable).
func (b *SessionBuilder) Slot(slot core.SelectedSlot) *SessionBuilder {
	b.patches = append(b.patches, core.Patch{Appointment: core.AppointmentIntent{Slot: &slot}})
	return b
}

// UserSays appends a user message (chainable).
func (b *SessionBuilder) UserSays(text string) *SessionBuilder {
	b.msgs = append(b.msgs, core.Message{Role: "user", Text: text})
	return b
}

// Build returns a *core.Session with all patches and messages applied.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	for _, msg := range b.msgs {
		s.AppendMessage(msg.Role, msg.Text)
	}
	for _, p := range b.patches {
		s.ApplyPatch(p)
	}
	return s
}
