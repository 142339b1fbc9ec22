package tool

import (
	"fmt"
	"time"

	"github.com/hupe1980/schedflow/core"
	"github.com/hupe1980/schedflow/model"
)

// Canonical parameter names shared between the loop, the specs and the
// executor boundary.
const (
	ParamFirstName     = "FirstName"
	ParamLastName      = "LastName"
	ParamPhone         = "Phone"
	ParamBirthdate     = "Birthdate"
	ParamPatientID     = "PatientID"
	ParamAppointmentID = "AppointmentID"
	ParamCategory      = "Category"
	ParamDate          = "Date"
	ParamTimeOfDay     = "TimeOfDay"
	ParamAptDateTime   = "AptDateTime"
	ParamProviderID    = "ProviderID"
	ParamRoomID        = "RoomID"
)

// AptDateTimeLayout is the wire format for exact appointment datetimes.
const AptDateTimeLayout = "2006-01-02 15:04:05"

// Spec declares one tool of the closed set: which parameters are required
// before execution, which can be auto-filled from session state, and
// whether the tool mutates backend state.
type Spec struct {
	Name        string
	Description string
	// Required parameters that must all be present.
	Required []string
	// AnyOf lists alternative parameter groups of which at least one must
	// be fully present (e.g. a name pair or a phone number).
	AnyOf [][]string
	// Optional parameters advertised to the model.
	Optional []string
	// Mutating tools are subject to the at-most-once guard.
	Mutating bool
	// AutoFill derives parameter values from session state. The loop
	// injects them only for parameters the model did not supply.
	AutoFill func(sess *core.Session) map[string]any
}

// Registry is the closed, ordered set of tool specifications.
type Registry struct {
	specs []Spec
	byName map[string]*Spec
}

// NewRegistry builds the default scheduling tool registry.
func NewRegistry() *Registry {
	r := &Registry{byName: map[string]*Spec{}}
	for _, spec := range defaultSpecs() {
		r.add(spec)
	}
	return r
}

func (r *Registry) add(spec Spec) {
	r.specs = append(r.specs, spec)
	r.byName[spec.Name] = &r.specs[len(r.specs)-1]
}

// Lookup returns the spec for a tool name.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	spec, ok := r.byName[name]
	return spec, ok
}

// Definitions renders every spec as a model-facing tool definition.
func (r *Registry) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(r.specs))
	for _, spec := range r.specs {
		defs = append(defs, spec.Definition())
	}
	return defs
}

// Definition renders the spec as a minimal JSON schema tool definition.
func (s *Spec) Definition() model.ToolDefinition {
	properties := map[string]any{}
	seen := map[string]bool{}
	addProp := func(name string) {
		if !seen[name] {
			seen[name] = true
			properties[name] = map[string]any{"type": "string"}
		}
	}
	for _, p := range s.Required {
		addProp(p)
	}
	for _, group := range s.AnyOf {
		for _, p := range group {
			addProp(p)
		}
	}
	for _, p := range s.Optional {
		addProp(p)
	}

	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(s.Required) > 0 {
		params["required"] = append([]string(nil), s.Required...)
	}
	return model.ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  params,
	}
}

// MissingParams returns the required parameters absent from the supplied
// set, treating an unsatisfied AnyOf group as all of its shortest
// alternative missing.
func (s *Spec) MissingParams(params map[string]any) []string {
	var missing []string
	for _, p := range s.Required {
		if !present(params, p) {
			missing = append(missing, p)
		}
	}

	if len(s.AnyOf) > 0 {
		satisfied := false
		for _, group := range s.AnyOf {
			ok := true
			for _, p := range group {
				if !present(params, p) {
					ok = false
					break
				}
			}
			if ok {
				satisfied = true
				break
			}
		}
		if !satisfied {
			best := s.AnyOf[0]
			for _, group := range s.AnyOf[1:] {
				if gapSize(params, group) < gapSize(params, best) {
					best = group
				}
			}
			for _, p := range best {
				if !present(params, p) {
					missing = append(missing, p)
				}
			}
		}
	}

	return missing
}

func present(params map[string]any, name string) bool {
	v, ok := params[name]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

func gapSize(params map[string]any, group []string) int {
	n := 0
	for _, p := range group {
		if !present(params, p) {
			n++
		}
	}
	return n
}

func defaultSpecs() []Spec {
	return []Spec{
		{
			Name:        core.ToolGetMultiplePatients,
			Description: "Look up existing patients by name or phone number.",
			AnyOf:       [][]string{{ParamFirstName, ParamLastName}, {ParamPhone}},
			Optional:    []string{ParamBirthdate},
			AutoFill:    patientAutoFill,
		},
		{
			Name:        core.ToolCreatePatient,
			Description: "Create a new patient record.",
			Required:    []string{ParamFirstName, ParamLastName, ParamPhone, ParamBirthdate},
			Mutating:    true,
			AutoFill:    patientAutoFill,
		},
		{
			Name:        core.ToolGetAppointments,
			Description: "List a patient's appointments.",
			AnyOf:       [][]string{{ParamPatientID}, {ParamPhone}, {ParamFirstName, ParamLastName}},
			AutoFill:    patientAutoFill,
		},
		{
			Name:        core.ToolGetAvailableSlots,
			Description: "Find open appointment slots for a date.",
			Required:    []string{ParamDate},
			Optional:    []string{ParamCategory, ParamTimeOfDay, ParamProviderID},
			AutoFill: func(sess *core.Session) map[string]any {
				fill := map[string]any{}
				if sess.Appointment.PreferredDate != nil {
					fill[ParamDate] = *sess.Appointment.PreferredDate
				}
				if sess.Appointment.Category != nil {
					fill[ParamCategory] = *sess.Appointment.Category
				}
				if sess.Appointment.TimeOfDay != nil {
					fill[ParamTimeOfDay] = *sess.Appointment.TimeOfDay
				}
				return fill
			},
		},
		{
			Name:        core.ToolCreateAppointment,
			Description: "Book a new appointment at an exact datetime with a provider and room.",
			Required:    []string{ParamAptDateTime, ParamProviderID, ParamRoomID, ParamPatientID},
			Optional:    []string{ParamCategory},
			Mutating:    true,
			AutoFill:    slotAutoFill,
		},
		{
			Name:        core.ToolUpdateAppointment,
			Description: "Move an existing appointment to a new datetime.",
			Required:    []string{ParamAppointmentID, ParamAptDateTime},
			Optional:    []string{ParamProviderID, ParamRoomID},
			Mutating:    true,
			AutoFill:    slotAutoFill,
		},
		{
			Name:        core.ToolCancelAppointment,
			Description: "Cancel an existing appointment.",
			Required:    []string{ParamAppointmentID},
			Mutating:    true,
			AutoFill: func(sess *core.Session) map[string]any {
				fill := map[string]any{}
				if sess.Appointment.ExistingAppointmentID != nil {
					fill[ParamAppointmentID] = *sess.Appointment.ExistingAppointmentID
				}
				return fill
			},
		},
	}
}

// patientAutoFill derives identity parameters from session state.
func patientAutoFill(sess *core.Session) map[string]any {
	fill := map[string]any{}
	if sess.Patient.FirstName != nil {
		fill[ParamFirstName] = *sess.Patient.FirstName
	}
	if sess.Patient.LastName != nil {
		fill[ParamLastName] = *sess.Patient.LastName
	}
	if sess.Patient.Phone != nil {
		fill[ParamPhone] = *sess.Patient.Phone
	}
	if sess.Patient.Birthdate != nil {
		fill[ParamBirthdate] = *sess.Patient.Birthdate
	}
	if sess.Patient.PatientID != nil {
		fill[ParamPatientID] = *sess.Patient.PatientID
	}
	return fill
}

// slotAutoFill derives slot and identity parameters from state: the
// selected slot supplies datetime/provider/room, the resolved patient and
// existing appointment ids supply the rest.
func slotAutoFill(sess *core.Session) map[string]any {
	fill := patientAutoFill(sess)
	if slot := sess.Appointment.Slot; slot != nil {
		fill[ParamAptDateTime] = slot.Start.Format(AptDateTimeLayout)
		fill[ParamProviderID] = slot.ProviderID
		fill[ParamRoomID] = slot.RoomID
	}
	if sess.Appointment.ExistingAppointmentID != nil {
		fill[ParamAppointmentID] = *sess.Appointment.ExistingAppointmentID
	}
	if sess.Appointment.Category != nil {
		fill[ParamCategory] = *sess.Appointment.Category
	}
	return fill
}

// ParseAptDateTime parses the wire datetime format, accepting RFC3339 as a
// secondary form.
func ParseAptDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(AptDateTimeLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}
