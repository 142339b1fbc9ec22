package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel identifies the transport a conversation arrived on.
type Channel string

// Supported conversation channels.
const (
	ChannelVoice Channel = "voice"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
	ChannelWeb   Channel = "web"
)

// Intent is the coarse goal of the conversation.
type Intent string

// Recognized conversation intents.
const (
	IntentBook       Intent = "book"
	IntentReschedule Intent = "reschedule"
	IntentCancel     Intent = "cancel"
	IntentCheck      Intent = "check"
	IntentUnknown    Intent = "unknown"
)

// Stage tracks how far a conversation has progressed.
type Stage string

// Conversation stages in their natural order.
const (
	StageGreeting      Stage = "greeting"
	StageIdentifying   Stage = "identifying"
	StageGathering     Stage = "gathering"
	StageCheckingSlots Stage = "checking_slots"
	StageConfirming    Stage = "confirming"
	StageCompleted     Stage = "completed"
)

// Message is one entry of a session's conversation log. Messages are
// append-only and never mutated afterwards; they are the sole input to the
// entity extractors.
type Message struct {
	Role      string    `json:"role"` // user, assistant or system
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// PatientRecord holds the identity fields learned so far. Every field is
// independently known or unknown (nil), never defaulted to an empty string:
// an empty string would be indistinguishable from "extracted but blank".
type PatientRecord struct {
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Phone      *string `json:"phone,omitempty"` // normalized to digits
	Birthdate  *string `json:"birthdate,omitempty"` // ISO date
	PatientID  *string `json:"patient_id,omitempty"`
	NewPatient *bool   `json:"new_patient,omitempty"`
}

// SelectedSlot is an exact slot the user explicitly chose from presented
// options: start time plus the provider and room it was offered with.
type SelectedSlot struct {
	Start      time.Time `json:"start"`
	ProviderID string    `json:"provider_id"`
	RoomID     string    `json:"room_id"`
}

// AppointmentIntent captures what the user wants scheduled. Like
// PatientRecord, absence is expressed through nil, never zero values.
type AppointmentIntent struct {
	Category      *string       `json:"category,omitempty"`
	PreferredDate *string       `json:"preferred_date,omitempty"` // ISO date
	TimeOfDay     *string       `json:"time_of_day,omitempty"`    // named period or HH:MM
	Slot          *SelectedSlot `json:"slot,omitempty"`
	// ExistingAppointmentID targets reschedule/cancel flows once resolved.
	ExistingAppointmentID *string `json:"existing_appointment_id,omitempty"`
}

// Session is the authoritative, session-keyed record of everything learned
// during one conversation. It is safe for concurrent access.
//
// Contract:
//   - Every mutation updates Updated and recomputes MissingRequired
//   - Messages and ToolCalls are append-only
//   - Once Stage is completed only audit appends are accepted; patches
//     no longer change identity or intent fields
//   - Clone returns a deep copy safe for independent use.
type Session struct {
	ID              string            `json:"id"`
	Channel         Channel           `json:"channel"`
	Intent          Intent            `json:"intent"`
	Stage           Stage             `json:"stage"`
	Patient         PatientRecord     `json:"patient"`
	Appointment     AppointmentIntent `json:"appointment"`
	ToolCalls       []ToolCallRecord  `json:"tool_calls"`
	Messages        []Message         `json:"messages"`
	MissingRequired []string          `json:"missing_required"`
	Created         time.Time         `json:"created"`
	Updated         time.Time         `json:"updated"`

	mu sync.RWMutex
}

// NewSession creates a fresh session in the greeting stage.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:      id,
		Channel: ChannelChat,
		Intent:  IntentUnknown,
		Stage:   StageGreeting,
		Created: now,
		Updated: now,
	}
}

// NewID generates a new unique identifier for sessions and tool call records.
func NewID() string { return uuid.NewString() }

// AppendMessage adds one message to the conversation log. Appends are
// accepted in every stage, including completed (audit trail).
func (s *Session) AppendMessage(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, Message{Role: role, Text: text, Timestamp: time.Now().UTC()})
	s.touchLocked()
}

// LastUserMessage returns the most recent user-authored message text, or
// "" when the user has not spoken yet.
func (s *Session) LastUserMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i].Text
		}
	}
	return ""
}

// ConversationMessages returns a defensive copy of the message log.
func (s *Session) ConversationMessages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs
}

// Snapshot returns a deep copy of the session safe for independent use.
func (s *Session) Snapshot() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:          s.ID,
		Channel:     s.Channel,
		Intent:      s.Intent,
		Stage:       s.Stage,
		Patient:     clonePatient(s.Patient),
		Appointment: cloneAppointment(s.Appointment),
		Created:     s.Created,
		Updated:     s.Updated,
	}
	clone.ToolCalls = append([]ToolCallRecord(nil), s.ToolCalls...)
	clone.Messages = append([]Message(nil), s.Messages...)
	clone.MissingRequired = append([]string(nil), s.MissingRequired...)
	return clone
}

func clonePatient(p PatientRecord) PatientRecord {
	return PatientRecord{
		FirstName:  cloneStr(p.FirstName),
		LastName:   cloneStr(p.LastName),
		Phone:      cloneStr(p.Phone),
		Birthdate:  cloneStr(p.Birthdate),
		PatientID:  cloneStr(p.PatientID),
		NewPatient: cloneBool(p.NewPatient),
	}
}

func cloneAppointment(a AppointmentIntent) AppointmentIntent {
	out := AppointmentIntent{
		Category:              cloneStr(a.Category),
		PreferredDate:         cloneStr(a.PreferredDate),
		TimeOfDay:             cloneStr(a.TimeOfDay),
		ExistingAppointmentID: cloneStr(a.ExistingAppointmentID),
	}
	if a.Slot != nil {
		slot := *a.Slot
		out.Slot = &slot
	}
	return out
}

func cloneStr(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// touchLocked refreshes Updated and recomputes derived fields. Caller must
// hold the write lock.
func (s *Session) touchLocked() {
	s.Updated = time.Now().UTC()
	s.MissingRequired = missingRequired(s.Intent, s.Patient, s.Appointment)
	if s.Stage != StageCompleted {
		s.Stage = deriveStage(s.Intent, s.Patient, s.Appointment, len(s.Messages))
	}
}
