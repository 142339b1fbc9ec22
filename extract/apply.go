package extract

import (
	"regexp"
	"time"

	"github.com/hupe1980/schedflow/core"
)

var (
	newPatientRe = regexp.MustCompile(`(?i)\b(new patient|first (?:time|visit)|never been)\b`)
	returningRe  = regexp.MustCompile(`(?i)\b(been (?:there|in) before|existing patient|returning patient)\b`)
)

// PatchFromUtterance runs every deterministic extractor over one utterance
// and assembles a field-level patch from the non-empty results. Relative
// dates resolve against ref. The returned patch carries only values that
// were actually found, so applying it can never erase known state.
func PatchFromUtterance(text string, ref time.Time) core.Patch {
	var patch core.Patch

	if intent := IntentOf(text); intent != core.IntentUnknown {
		patch.Intent = &intent
	}

	if first, last, ok := Name(text); ok {
		patch.Patient.FirstName = &first
		if last != "" {
			patch.Patient.LastName = &last
		}
	}
	if phone, ok := Phone(text); ok {
		patch.Patient.Phone = &phone
	}
	if birthdate, ok := Birthdate(text); ok {
		patch.Patient.Birthdate = &birthdate
	}
	if newPatientRe.MatchString(text) {
		yes := true
		patch.Patient.NewPatient = &yes
	} else if returningRe.MatchString(text) {
		no := false
		patch.Patient.NewPatient = &no
	}

	if category, ok := Category(text); ok {
		patch.Appointment.Category = &category
	}
	if date, ok := DatePreference(text, ref); ok {
		// A date that equals an extracted birthdate is identity, not a
		// scheduling preference.
		if patch.Patient.Birthdate == nil || *patch.Patient.Birthdate != date {
			patch.Appointment.PreferredDate = &date
		}
	}
	if tod, ok := TimeOfDay(text); ok {
		patch.Appointment.TimeOfDay = &tod
	}

	return patch
}
