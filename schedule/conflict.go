package schedule

import (
	"fmt"
	"time"
)

// Candidate is a proposed booking to check against a snapshot.
type Candidate struct {
	Start      time.Time
	ProviderID string
	RoomID     string
	// PatientID is optional; when unset the patient double-booking class
	// is skipped.
	PatientID *string
}

// ConflictResult is the structured outcome of conflict detection.
type ConflictResult struct {
	HasConflict bool     `json:"has_conflict"`
	Reasons     []string `json:"reasons,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// DetectConflicts checks a candidate booking of the given window length
// against every occupied slot in the snapshot. Intervals are half-open
// [start, end): an appointment ending exactly when the candidate starts
// does not conflict.
//
// Three independent conflict classes are checked per overlapping slot, in
// order: patient double-booking, room conflict (with an alternate-room
// suggestion when one is free across the interval), provider conflict
// (with an analogous alternate-provider suggestion). All classes can fire
// for one slot and each produces its own reason. HasConflict is true iff
// at least one reason was generated.
//
// This function is pure: no I/O, fully deterministic given its inputs.
func DetectConflicts(snap *ResourceSnapshot, cand Candidate, window time.Duration) ConflictResult {
	var res ConflictResult
	candEnd := cand.Start.Add(window)

	for _, slot := range snap.Occupied {
		if !overlaps(cand.Start, candEnd, slot.Start, slot.End()) {
			continue
		}

		if cand.PatientID != nil && slot.PatientID != "" && slot.PatientID == *cand.PatientID {
			res.Reasons = append(res.Reasons, fmt.Sprintf(
				"patient %s already has an appointment from %s to %s",
				slot.PatientID, clock(slot.Start), clock(slot.End())))
		}

		if slot.RoomID != "" && slot.RoomID == cand.RoomID {
			res.Reasons = append(res.Reasons, fmt.Sprintf(
				"room %s is occupied from %s to %s",
				slot.RoomID, clock(slot.Start), clock(slot.End())))
			if alt, ok := freeRoom(snap, cand.Start, candEnd, cand.RoomID); ok {
				res.Suggestions = append(res.Suggestions, fmt.Sprintf(
					"room %s is free at the requested time", alt.ID))
			}
		}

		if slot.ProviderID != "" && slot.ProviderID == cand.ProviderID {
			res.Reasons = append(res.Reasons, fmt.Sprintf(
				"provider %s is booked from %s to %s",
				slot.ProviderID, clock(slot.Start), clock(slot.End())))
			if alt, ok := freeProvider(snap, cand.Start, candEnd, cand.ProviderID); ok {
				res.Suggestions = append(res.Suggestions, fmt.Sprintf(
					"provider %s is available at the requested time", alt.ID))
			}
		}
	}

	res.HasConflict = len(res.Reasons) > 0
	return res
}

// overlaps implements half-open interval intersection [aStart, aEnd) vs
// [bStart, bEnd).
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// freeRoom returns the first room other than exclude that has no occupied
// slot overlapping [start, end).
func freeRoom(snap *ResourceSnapshot, start, end time.Time, exclude string) (Room, bool) {
	for _, room := range snap.Rooms {
		if room.ID == exclude {
			continue
		}
		if resourceFree(snap, start, end, func(s OccupiedSlot) bool { return s.RoomID == room.ID }) {
			return room, true
		}
	}
	return Room{}, false
}

// freeProvider returns the first provider other than exclude free across
// [start, end).
func freeProvider(snap *ResourceSnapshot, start, end time.Time, exclude string) (Provider, bool) {
	for _, p := range snap.Providers {
		if p.ID == exclude {
			continue
		}
		if resourceFree(snap, start, end, func(s OccupiedSlot) bool { return s.ProviderID == p.ID }) {
			return p, true
		}
	}
	return Provider{}, false
}

func resourceFree(snap *ResourceSnapshot, start, end time.Time, owns func(OccupiedSlot) bool) bool {
	for _, slot := range snap.Occupied {
		if owns(slot) && overlaps(start, end, slot.Start, slot.End()) {
			return false
		}
	}
	return true
}

func clock(t time.Time) string { return t.Format("2006-01-02 15:04") }
