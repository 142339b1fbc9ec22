package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/schedflow/core"
	"github.com/hupe1980/schedflow/internal/testutil"
	"github.com/hupe1980/schedflow/model"
	"github.com/hupe1980/schedflow/tool"
)

func TestClaimsSuccess(t *testing.T) {
	claims := []string{
		"You're all set for Tuesday!",
		"I've booked your cleaning for 9 AM.",
		"Your appointment is confirmed.",
		"I have cancelled the appointment.",
		"Successfully created your booking.",
	}
	for _, text := range claims {
		assert.True(t, claimsSuccess(text), "should detect claim in %q", text)
	}

	neutral := []string{
		"Would you like me to book the 9 AM slot?",
		"I can see two open slots on Tuesday.",
		"What time works for you?",
	}
	for _, text := range neutral {
		assert.False(t, claimsSuccess(text), "false positive on %q", text)
	}
}

func TestTruthGuard_UnearnedClaimIsReplaced(t *testing.T) {
	llm := model.NewMockModel()
	// The model claims success without ever calling a tool.
	llm.Enqueue(testutil.TextResponse("Great news, you're all set for Tuesday at 9 AM!"))

	exec := newRecordingExecutor()
	loop, store := newTestLoop(llm, exec)

	res, err := loop.Run(context.Background(), "s1", "book me for tuesday 9am")
	require.NoError(t, err)
	assert.NotContains(t, res.Reply, "all set")
	assert.Contains(t, res.Reply, "confirm")
	assert.Empty(t, exec.executed())

	// The replacement, not the claim, is what gets persisted.
	sess, _ := store.Get("s1")
	msgs := sess.ConversationMessages()
	assert.Equal(t, res.Reply, msgs[len(msgs)-1].Text)
}

func TestTruthGuard_EarnedClaimPassesThrough(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{
		toolCall("c1", core.ToolCreateAppointment, map[string]any{
			tool.ParamAptDateTime: "2026-09-01 09:00:00",
			tool.ParamProviderID:  "dr-lee",
			tool.ParamRoomID:      "room-1",
			tool.ParamPatientID:   "p-42",
		}),
	}})
	llm.Enqueue(testutil.TextResponse("You're all set for 9 AM!"))

	exec := newRecordingExecutor()
	exec.results[core.ToolCreateAppointment] = map[string]any{"appointment_id": "a-1"}

	loop, _ := newTestLoop(llm, exec)
	res, err := loop.Run(context.Background(), "s1", "book it")
	require.NoError(t, err)
	assert.Equal(t, "You're all set for 9 AM!", res.Reply)
}

func TestTruthGuard_RecoveryBooksSelectedSlot(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(testutil.TextResponse("You're booked for Tuesday at 9 AM!"))

	exec := newRecordingExecutor()
	exec.results[core.ToolCreateAppointment] = map[string]any{"appointment_id": "a-9"}

	loop, store := newTestLoop(llm, exec, func(o *Options) {
		o.AutoConfirmOnMatch = true
	})

	patientID := "p-42"
	slot := core.SelectedSlot{
		Start:      time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		ProviderID: "dr-lee",
		RoomID:     "room-1",
	}
	require.NoError(t, store.Update("s1", core.Patch{
		Patient:     core.PatientRecord{PatientID: &patientID},
		Appointment: core.AppointmentIntent{Slot: &slot},
	}))

	res, err := loop.Run(context.Background(), "s1", "yes, go ahead")
	require.NoError(t, err)

	// The claim stands because the loop completed the booking itself.
	assert.Equal(t, "You're booked for Tuesday at 9 AM!", res.Reply)
	calls := exec.executed()
	require.Len(t, calls, 1)
	assert.Equal(t, core.ToolCreateAppointment, calls[0].name)
	assert.Equal(t, "2026-09-01 09:00:00", calls[0].params[tool.ParamAptDateTime])

	sess, _ := store.Get("s1")
	assert.Equal(t, core.StageCompleted, sess.Stage)
}

func TestTruthGuard_RecoveryFollowsUserTurnNotClaim(t *testing.T) {
	llm := model.NewMockModel()
	// The model hallucinates the wrong slot in its success claim.
	llm.Enqueue(testutil.TextResponse("You're all set for 2:30 PM!"))

	exec := newRecordingExecutor()
	exec.results[core.ToolCreateAppointment] = map[string]any{"appointment_id": "a-3"}

	loop, store := newTestLoop(llm, exec, func(o *Options) {
		o.AutoConfirmOnMatch = true
	})

	patientID := "p-42"
	require.NoError(t, store.Update("s1", core.Patch{
		Patient: core.PatientRecord{PatientID: &patientID},
	}))
	require.NoError(t, store.RecordToolCall("s1", core.ToolCallRecord{
		Tool: core.ToolGetAvailableSlots,
		Result: map[string]any{"slots": []any{
			map[string]any{"datetime": "2026-09-01 09:00:00", "provider_id": "dr-lee", "room_id": "room-1"},
			map[string]any{"datetime": "2026-09-01 14:30:00", "provider_id": "dr-patel", "room_id": "room-2"},
		}},
	}))

	res, err := loop.Run(context.Background(), "s1", "book the 9:00 AM one please")
	require.NoError(t, err)

	calls := exec.executed()
	require.Len(t, calls, 1)
	assert.Equal(t, core.ToolCreateAppointment, calls[0].name)
	assert.Equal(t, "2026-09-01 09:00:00", calls[0].params[tool.ParamAptDateTime], "the user's slot governs, not the claim's")
	assert.Equal(t, "dr-lee", calls[0].params[tool.ParamProviderID])

	// The reply must describe the booking that actually happened.
	assert.NotContains(t, res.Reply, "2:30")
	assert.Contains(t, res.Reply, "9:00 AM")
}

func TestTruthGuard_RecoveryDisabledByDefault(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(testutil.TextResponse("You're booked for Tuesday at 9 AM!"))

	exec := newRecordingExecutor()
	loop, store := newTestLoop(llm, exec)

	patientID := "p-42"
	slot := core.SelectedSlot{Start: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC), ProviderID: "dr-lee", RoomID: "room-1"}
	require.NoError(t, store.Update("s1", core.Patch{
		Patient:     core.PatientRecord{PatientID: &patientID},
		Appointment: core.AppointmentIntent{Slot: &slot},
	}))

	res, err := loop.Run(context.Background(), "s1", "yes, go ahead")
	require.NoError(t, err)
	assert.Empty(t, exec.executed(), "recovery must be opt-in")
	assert.Contains(t, res.Reply, "confirm")
}

func TestTruthGuard_RecoveryFailureFallsBackToQuestion(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(testutil.TextResponse("You're booked for Tuesday at 9 AM!"))

	exec := newRecordingExecutor()
	exec.errs[core.ToolCreateAppointment] = tool.NewBackendError(core.ToolCreateAppointment, "slot taken", "")

	loop, store := newTestLoop(llm, exec, func(o *Options) {
		o.AutoConfirmOnMatch = true
	})

	patientID := "p-42"
	slot := core.SelectedSlot{Start: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC), ProviderID: "dr-lee", RoomID: "room-1"}
	require.NoError(t, store.Update("s1", core.Patch{
		Patient:     core.PatientRecord{PatientID: &patientID},
		Appointment: core.AppointmentIntent{Slot: &slot},
	}))

	res, err := loop.Run(context.Background(), "s1", "yes, go ahead")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "confirm", "failed recovery must not keep the claim")

	sess, _ := store.Get("s1")
	log := sess.ToolCallLog()
	require.Len(t, log, 1, "the failed recovery attempt is still audited")
	assert.False(t, log[0].Succeeded())
}

func TestRecoverySlot_MatchesUniqueOfferedSlot(t *testing.T) {
	sess := core.NewSession("s1")
	sess.RecordToolCall(core.ToolCallRecord{
		Tool: core.ToolGetAvailableSlots,
		Result: map[string]any{"slots": []any{
			map[string]any{"datetime": "2026-09-01 09:00:00", "provider_id": "dr-lee", "room_id": "room-1"},
			map[string]any{"datetime": "2026-09-01 14:30:00", "provider_id": "dr-patel", "room_id": "room-2"},
		}},
	})

	slot, ok := recoverySlot(sess, "the 2:30 PM one works for me")
	require.True(t, ok)
	assert.Equal(t, "dr-patel", slot.ProviderID)

	// A turn naming no offered slot matches nothing.
	_, ok = recoverySlot(sess, "yes that works")
	assert.False(t, ok)
}
