package tool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/schedflow/core"
)

func TestRegistry_CoversClosedToolSet(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		core.ToolGetMultiplePatients,
		core.ToolCreatePatient,
		core.ToolGetAppointments,
		core.ToolGetAvailableSlots,
		core.ToolCreateAppointment,
		core.ToolUpdateAppointment,
		core.ToolCancelAppointment,
	} {
		spec, ok := r.Lookup(name)
		require.True(t, ok, "missing spec for %s", name)
		assert.Equal(t, name, spec.Name)
	}
	assert.Len(t, r.Definitions(), 7)

	_, ok := r.Lookup("DeleteEverything")
	assert.False(t, ok)
}

func TestSpec_MissingParamsRequired(t *testing.T) {
	r := NewRegistry()
	spec, _ := r.Lookup(core.ToolCreateAppointment)

	missing := spec.MissingParams(map[string]any{
		ParamAptDateTime: "2026-09-01 09:00:00",
		ParamPatientID:   "p-1",
	})
	assert.Equal(t, []string{ParamProviderID, ParamRoomID}, missing)

	missing = spec.MissingParams(map[string]any{
		ParamAptDateTime: "2026-09-01 09:00:00",
		ParamProviderID:  "dr-lee",
		ParamRoomID:      "room-1",
		ParamPatientID:   "p-1",
	})
	assert.Empty(t, missing)
}

func TestSpec_MissingParamsAnyOfPicksSmallestGap(t *testing.T) {
	r := NewRegistry()
	spec, _ := r.Lookup(core.ToolGetMultiplePatients)

	// Nothing supplied: the name pair is the first group, but phone alone
	// is the smaller gap.
	missing := spec.MissingParams(map[string]any{})
	assert.Equal(t, []string{ParamPhone}, missing)

	// A first name makes the name group the closest alternative.
	missing = spec.MissingParams(map[string]any{ParamFirstName: "Maria"})
	assert.Equal(t, []string{ParamLastName}, missing)

	// Phone satisfies the group outright.
	missing = spec.MissingParams(map[string]any{ParamPhone: "5551234567"})
	assert.Empty(t, missing)
}

func TestSpec_MissingParamsTreatsEmptyStringAsAbsent(t *testing.T) {
	r := NewRegistry()
	spec, _ := r.Lookup(core.ToolCancelAppointment)

	missing := spec.MissingParams(map[string]any{ParamAppointmentID: ""})
	assert.Equal(t, []string{ParamAppointmentID}, missing)
}

func TestSpec_DefinitionSchema(t *testing.T) {
	r := NewRegistry()
	spec, _ := r.Lookup(core.ToolCreateAppointment)
	def := spec.Definition()

	assert.Equal(t, core.ToolCreateAppointment, def.Name)
	props, ok := def.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, ParamAptDateTime)
	assert.Equal(t, []string{ParamAptDateTime, ParamProviderID, ParamRoomID, ParamPatientID}, def.Parameters["required"])
}

func TestAutoFill_SlotSuppliesBookingParams(t *testing.T) {
	sess := core.NewSession("s1")
	patientID := "p-42"
	slot := core.SelectedSlot{
		Start:      time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		ProviderID: "dr-lee",
		RoomID:     "room-1",
	}
	sess.ApplyPatch(core.Patch{
		Patient:     core.PatientRecord{PatientID: &patientID},
		Appointment: core.AppointmentIntent{Slot: &slot},
	})

	r := NewRegistry()
	spec, _ := r.Lookup(core.ToolCreateAppointment)
	fill := spec.AutoFill(sess)

	assert.Equal(t, "2026-09-01 09:00:00", fill[ParamAptDateTime])
	assert.Equal(t, "dr-lee", fill[ParamProviderID])
	assert.Equal(t, "room-1", fill[ParamRoomID])
	assert.Equal(t, "p-42", fill[ParamPatientID])
}

func TestParseAptDateTime(t *testing.T) {
	got, err := ParseAptDateTime("2026-09-01 09:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC), got)

	got, err = ParseAptDateTime("2026-09-01T09:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Hour())

	_, err = ParseAptDateTime("tomorrow at nine")
	assert.Error(t, err)
}
