package flow

import (
	"strings"
	"time"

	"github.com/hupe1980/schedflow/core"
	"github.com/hupe1980/schedflow/tool"
)

// offeredSlots collects every concrete slot surfaced to the user by earlier
// successful GetAvailableSlots calls in this session. These are the only
// slots the truthfulness guard accepts as recovery candidates: a booking
// claim may only be repaired with a slot that was actually offered.
func offeredSlots(sess *core.Session) []core.SelectedSlot {
	var out []core.SelectedSlot
	for _, rec := range sess.SuccessfulCalls(core.ToolGetAvailableSlots) {
		for _, entry := range slotEntries(rec.Result) {
			slot, ok := slotFromEntry(entry)
			if !ok {
				continue
			}
			out = append(out, slot)
		}
	}
	return out
}

func slotEntries(result any) []map[string]any {
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
		for _, key := range []string{"slots", "available_slots"} {
			if nested, ok := v[key]; ok {
				return slotEntries(nested)
			}
		}
		return []map[string]any{v}
	}
	return nil
}

func slotFromEntry(entry map[string]any) (core.SelectedSlot, bool) {
	raw := ""
	for _, key := range []string{"datetime", "start", "apt_date_time", "AptDateTime"} {
		if s, ok := entry[key].(string); ok && s != "" {
			raw = s
			break
		}
	}
	if raw == "" {
		return core.SelectedSlot{}, false
	}
	start, err := tool.ParseAptDateTime(raw)
	if err != nil {
		// Listings sometimes omit the seconds.
		start, err = time.Parse("2006-01-02 15:04", raw)
		if err != nil {
			return core.SelectedSlot{}, false
		}
	}
	slot := core.SelectedSlot{Start: start}
	if s, ok := entry["provider_id"].(string); ok {
		slot.ProviderID = s
	} else if s, ok := entry["ProviderID"].(string); ok {
		slot.ProviderID = s
	}
	if s, ok := entry["room_id"].(string); ok {
		slot.RoomID = s
	} else if s, ok := entry["RoomID"].(string); ok {
		slot.RoomID = s
	}
	return slot, true
}

// slotMentioned reports whether the text names the slot's time in one of
// the renderings the assistant plausibly used.
func slotMentioned(text string, slot core.SelectedSlot) bool {
	lower := strings.ToLower(text)
	for _, layout := range []string{
		"2006-01-02 15:04",
		"15:04",
		"3:04 PM",
		"3 PM",
		"January 2 at 3:04 PM",
	} {
		rendered := strings.ToLower(slot.Start.Format(layout))
		if strings.Contains(lower, rendered) {
			return true
		}
	}
	return false
}

// recoverySlot picks the single slot a success claim can be repaired with:
// an explicitly selected slot wins; otherwise exactly one offered slot must
// be named in the user's most recent turn. Zero or several matches mean no
// recovery.
func recoverySlot(sess *core.Session, userTurn string) (core.SelectedSlot, bool) {
	if sess.Appointment.Slot != nil {
		return *sess.Appointment.Slot, true
	}
	var (
		match core.SelectedSlot
		n     int
	)
	for _, slot := range offeredSlots(sess) {
		if slotMentioned(userTurn, slot) {
			match = slot
			n++
		}
	}
	if n == 1 {
		return match, true
	}
	return core.SelectedSlot{}, false
}
