package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var weekdaysByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var weekdayRe = regexp.MustCompile(`(?i)\b(next|this)?\s*(sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`)

// DatePreference extracts the date the user wants, resolved against the
// supplied reference date and rendered as an ISO date. Accepted forms:
// absolute dates (ISO or US slash), "today"/"tomorrow", and
// "next/this <weekday>". "this <weekday>" is the soonest occurrence
// including the reference day itself; "next <weekday>" never resolves to
// the reference day.
func DatePreference(text string, ref time.Time) (string, bool) {
	lower := strings.ToLower(text)

	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		return isoDate(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]))
	}
	if m := usSlashRe.FindStringSubmatch(text); m != nil {
		return isoDate(atoi(m[3]), time.Month(atoi(m[1])), atoi(m[2]))
	}

	switch {
	case strings.Contains(lower, "day after tomorrow"):
		return formatDay(ref.AddDate(0, 0, 2)), true
	case strings.Contains(lower, "tomorrow"):
		return formatDay(ref.AddDate(0, 0, 1)), true
	case strings.Contains(lower, "today"):
		return formatDay(ref), true
	}

	if m := weekdayRe.FindStringSubmatch(text); m != nil {
		target := weekdaysByName[strings.ToLower(m[2])]
		offset := (int(target) - int(ref.Weekday()) + 7) % 7
		if offset == 0 && strings.EqualFold(m[1], "next") {
			offset = 7
		}
		return formatDay(ref.AddDate(0, 0, offset)), true
	}

	return "", false
}

func formatDay(t time.Time) string { return t.Format("2006-01-02") }

var (
	clockRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)\b`)
	clock24 = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
)

// namedPeriods maps time-of-day phrasing onto canonical period names,
// first match wins.
var namedPeriods = []struct{ keyword, period string }{
	{"early morning", "morning"},
	{"morning", "morning"},
	{"noon", "noon"},
	{"midday", "noon"},
	{"lunch", "noon"},
	{"afternoon", "afternoon"},
	{"evening", "evening"},
	{"end of day", "evening"},
	{"after work", "evening"},
}

// TimeOfDay extracts a coarse or exact time preference: a named period
// ("morning", "noon", "afternoon", "evening") or an exact 24h "HH:MM".
// Explicit clock times take priority over named periods.
func TimeOfDay(text string) (string, bool) {
	if m := clockRe.FindStringSubmatch(text); m != nil {
		hour := atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute = atoi(m[2])
		}
		if hour >= 1 && hour <= 12 && minute < 60 {
			meridiem := strings.ToLower(strings.ReplaceAll(m[3], ".", ""))
			if meridiem == "pm" && hour != 12 {
				hour += 12
			}
			if meridiem == "am" && hour == 12 {
				hour = 0
			}
			return fmt.Sprintf("%02d:%02d", hour, minute), true
		}
	}
	if m := clock24.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("%02d:%02d", atoi(m[1]), atoi(m[2])), true
	}

	lower := strings.ToLower(text)
	for _, np := range namedPeriods {
		if strings.Contains(lower, np.keyword) {
			return np.period, true
		}
	}
	return "", false
}

// categoryKeywords maps utterance keywords onto appointment categories,
// first match wins.
var categoryKeywords = []struct{ keyword, category string }{
	{"follow-up", "follow_up"},
	{"follow up", "follow_up"},
	{"followup", "follow_up"},
	{"physical", "physical"},
	{"annual exam", "physical"},
	{"cleaning", "cleaning"},
	{"check-up", "checkup"},
	{"check up", "checkup"},
	{"checkup", "checkup"},
	{"consult", "consultation"},
	{"urgent", "urgent"},
	{"emergency", "urgent"},
}

// Category extracts the appointment category through a keyword table.
func Category(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, ck := range categoryKeywords {
		if strings.Contains(lower, ck.keyword) {
			return ck.category, true
		}
	}
	return "", false
}
