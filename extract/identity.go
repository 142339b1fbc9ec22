package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// fullNamePatterns are tried in priority order; the first match wins.
var fullNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is ([A-Za-z][A-Za-z'\-]*)\s+([A-Za-z][A-Za-z'\-]*)`),
	regexp.MustCompile(`(?i)\bname'?s ([A-Za-z][A-Za-z'\-]*)\s+([A-Za-z][A-Za-z'\-]*)`),
	regexp.MustCompile(`(?i)\bthis is ([A-Za-z][A-Za-z'\-]*)\s+([A-Za-z][A-Za-z'\-]*)`),
	regexp.MustCompile(`(?i)\bi(?:'m| am) ([A-Za-z][A-Za-z'\-]*)\s+([A-Za-z][A-Za-z'\-]*)`),
	regexp.MustCompile(`(?i)\bit'?s ([A-Za-z][A-Za-z'\-]*)\s+([A-Za-z][A-Za-z'\-]*)\b`),
}

// singleNamePatterns fall back to a lone first name.
var singleNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is ([A-Za-z][A-Za-z'\-]*)`),
	regexp.MustCompile(`(?i)\bname'?s ([A-Za-z][A-Za-z'\-]*)`),
	regexp.MustCompile(`(?i)\bthis is ([A-Za-z][A-Za-z'\-]*)`),
}

// nameStopwords filters phrasing words that pattern position alone cannot
// exclude ("I'm looking for ...", "this is about ...").
var nameStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "about": true, "just": true,
	"calling": true, "looking": true, "trying": true, "wondering": true,
	"here": true, "not": true, "so": true, "going": true, "hoping": true,
	"new": true, "interested": true,
}

// Name extracts a first/last name pair from one utterance. When only a
// first name can be found, last is empty and ok is still true.
func Name(text string) (first, last string, ok bool) {
	for _, re := range fullNamePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if nameStopwords[strings.ToLower(m[1])] || nameStopwords[strings.ToLower(m[2])] {
			continue
		}
		return title(m[1]), title(m[2]), true
	}
	for _, re := range singleNamePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if nameStopwords[strings.ToLower(m[1])] {
			continue
		}
		return title(m[1]), "", true
	}
	return "", "", false
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

var nonDigit = regexp.MustCompile(`\D`)
var digitRun = regexp.MustCompile(`\d[\d\-\.\s\(\)]{8,}\d`)

// Phone extracts a 10-digit US phone number, normalized to digits only.
// An 11-digit run with a leading country 1 is accepted and stripped.
func Phone(text string) (string, bool) {
	for _, run := range digitRun.FindAllString(text, -1) {
		digits := nonDigit.ReplaceAllString(run, "")
		switch {
		case len(digits) == 10:
			return digits, true
		case len(digits) == 11 && digits[0] == '1':
			return digits[1:], true
		}
	}
	return "", false
}

var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	isoDateRe     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	usSlashRe     = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	usShortYearRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{2})\b`)
	monthFirstRe  = regexp.MustCompile(`(?i)\b([A-Za-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayFirstRe    = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?([A-Za-z]+),?\s+(\d{4})\b`)
)

// Birthdate extracts a date of birth and renders it as an ISO date
// (YYYY-MM-DD). Accepted orderings: ISO, US slash with 4-digit year,
// US slash with 2-digit year (>=50 maps to the 1900s, <50 to the 2000s),
// and month-name forms in either order.
func Birthdate(text string) (string, bool) {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		return isoDate(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]))
	}
	if m := usSlashRe.FindStringSubmatch(text); m != nil {
		return isoDate(atoi(m[3]), time.Month(atoi(m[1])), atoi(m[2]))
	}
	if m := usShortYearRe.FindStringSubmatch(text); m != nil {
		year := atoi(m[3])
		if year >= 50 {
			year += 1900
		} else {
			year += 2000
		}
		return isoDate(year, time.Month(atoi(m[1])), atoi(m[2]))
	}
	if m := monthFirstRe.FindStringSubmatch(text); m != nil {
		if month, ok := monthsByName[strings.ToLower(m[1])]; ok {
			return isoDate(atoi(m[3]), month, atoi(m[2]))
		}
	}
	if m := dayFirstRe.FindStringSubmatch(text); m != nil {
		if month, ok := monthsByName[strings.ToLower(m[2])]; ok {
			return isoDate(atoi(m[3]), month, atoi(m[1]))
		}
	}
	return "", false
}

// isoDate validates calendar components by round-tripping through
// time.Date; e.g. 2/30 normalizes away and is rejected.
func isoDate(year int, month time.Month, day int) (string, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return "", false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, int(month), day), true
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
