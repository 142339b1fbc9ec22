// Package schedule owns the read-through, time-bounded view of schedulable
// resources (providers, rooms, occupied time ranges) and the conflict
// detection algorithm over that view.
package schedule

import (
	"context"
	"time"
)

// Provider is a schedulable staff member.
type Provider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Room is a schedulable physical location.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OccupiedSlot is one existing booking occupying a provider and room for a
// patient over [Start, Start+Duration).
type OccupiedSlot struct {
	AppointmentID string        `json:"appointment_id"`
	PatientID     string        `json:"patient_id"`
	ProviderID    string        `json:"provider_id"`
	RoomID        string        `json:"room_id"`
	Start         time.Time     `json:"start"`
	Duration      time.Duration `json:"duration"`
}

// End returns the half-open interval end of the slot.
func (s OccupiedSlot) End() time.Time { return s.Start.Add(s.Duration) }

// ResourceSnapshot is a read-only, replaceable view of the backend's
// schedulable resources. A refresh produces a new snapshot that atomically
// replaces the old one; snapshots are never mutated in place.
type ResourceSnapshot struct {
	Providers []Provider     `json:"providers"`
	Rooms     []Room         `json:"rooms"`
	Occupied  []OccupiedSlot `json:"occupied"`
	FetchedAt time.Time      `json:"fetched_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	// Fallback marks the minimal placeholder snapshot returned when no
	// fetch has ever succeeded.
	Fallback bool `json:"fallback,omitempty"`
}

// Expired reports whether the snapshot is past its expiry at the given time.
func (s *ResourceSnapshot) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// Directory is the external scheduling API surface the cache reads from.
// Implementations map to whatever backend actually serves the data.
type Directory interface {
	Providers(ctx context.Context) ([]Provider, error)
	Rooms(ctx context.Context) ([]Room, error)
	Occupied(ctx context.Context, from, to time.Time) ([]OccupiedSlot, error)
}
