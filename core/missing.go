package core

// Canonical field names reported in Session.MissingRequired and in the
// structured refusals the orchestration loop feeds back to the model.
const (
	FieldFirstName             = "first_name"
	FieldLastName              = "last_name"
	FieldPhone                 = "phone"
	FieldBirthdate             = "birthdate"
	FieldCategory              = "category"
	FieldPreferredDate         = "preferred_date"
	FieldTimeOfDay             = "time_of_day"
	FieldExistingAppointmentID = "existing_appointment_id"
	FieldIntent                = "intent"
)

// missingRequired computes the intent-specific list of required fields that
// are still unknown. The result is recomputed after every session mutation.
func missingRequired(intent Intent, p PatientRecord, a AppointmentIntent) []string {
	var missing []string

	switch intent {
	case IntentBook:
		if a.Category == nil {
			missing = append(missing, FieldCategory)
		}
		if a.PreferredDate == nil {
			missing = append(missing, FieldPreferredDate)
		}
		if a.TimeOfDay == nil {
			missing = append(missing, FieldTimeOfDay)
		}
		missing = append(missing, missingIdentity(p)...)
		if p.NewPatient != nil && *p.NewPatient {
			if p.Birthdate == nil {
				missing = append(missing, FieldBirthdate)
			}
			if p.Phone == nil {
				missing = append(missing, FieldPhone)
			}
		}
	case IntentReschedule, IntentCancel:
		missing = append(missing, missingIdentity(p)...)
		if a.ExistingAppointmentID == nil {
			missing = append(missing, FieldExistingAppointmentID)
		}
	case IntentCheck:
		missing = append(missing, missingIdentity(p)...)
	default:
		missing = append(missing, FieldIntent)
	}

	return missing
}

// missingIdentity lists identity fields still needed to look a patient up.
// A resolved patient id or a phone number is each sufficient on its own.
func missingIdentity(p PatientRecord) []string {
	if p.PatientID != nil || p.Phone != nil {
		return nil
	}
	var missing []string
	if p.FirstName == nil {
		missing = append(missing, FieldFirstName)
	}
	if p.LastName == nil {
		missing = append(missing, FieldLastName)
	}
	return missing
}

// deriveStage maps the currently known state onto the stage enum. Completed
// is never derived here; it is set only by a successful mutating tool call.
func deriveStage(intent Intent, p PatientRecord, a AppointmentIntent, messageCount int) Stage {
	switch {
	case a.Slot != nil:
		return StageConfirming
	case intent != IntentUnknown && len(missingRequired(intent, p, a)) == 0:
		return StageCheckingSlots
	case identityKnown(p):
		return StageGathering
	case messageCount > 0:
		return StageIdentifying
	default:
		return StageGreeting
	}
}

func identityKnown(p PatientRecord) bool {
	return p.PatientID != nil || p.Phone != nil || (p.FirstName != nil && p.LastName != nil)
}
