package extract

import (
	"strings"

	"github.com/hupe1980/schedflow/core"
)

// intentKeywords classifies coarse intent; groups are checked in order and
// the first matching keyword wins, so "change my appointment" classifies
// as reschedule even though it also mentions an appointment.
var intentKeywords = []struct {
	intent   core.Intent
	keywords []string
}{
	{core.IntentReschedule, []string{"reschedule", "move my appointment", "change my appointment", "different time", "different day", "push back"}},
	{core.IntentCancel, []string{"cancel", "call off", "can't make it", "cannot make it", "won't make it"}},
	{core.IntentCheck, []string{"when is my appointment", "do i have an appointment", "confirm my appointment", "check my appointment", "what time is my"}},
	{core.IntentBook, []string{"book", "schedule", "make an appointment", "set up an appointment", "need an appointment", "get an appointment", "come in", "need to see", "like to see"}},
}

// IntentOf classifies one utterance into a coarse intent, returning
// IntentUnknown when nothing matches.
func IntentOf(text string) core.Intent {
	lower := strings.ToLower(text)
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.intent
			}
		}
	}
	return core.IntentUnknown
}
