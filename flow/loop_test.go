package flow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/schedflow/core"
	"github.com/hupe1980/schedflow/extract"
	"github.com/hupe1980/schedflow/internal/testutil"
	"github.com/hupe1980/schedflow/model"
	"github.com/hupe1980/schedflow/schedule"
	"github.com/hupe1980/schedflow/session"
	"github.com/hupe1980/schedflow/tool"
)

// recordingExecutor captures every executed call and serves scripted
// results per tool name.
type recordingExecutor struct {
	mu      sync.Mutex
	calls   []executedCall
	results map[string]any
	errs    map[string]error
}

type executedCall struct {
	name   string
	params map[string]any
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{results: map[string]any{}, errs: map[string]error{}}
}

func (e *recordingExecutor) Execute(_ context.Context, name string, params map[string]any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, executedCall{name: name, params: params})
	if err, ok := e.errs[name]; ok {
		return nil, err
	}
	if result, ok := e.results[name]; ok {
		return result, nil
	}
	return map[string]any{}, nil
}

func (e *recordingExecutor) executed() []executedCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]executedCall(nil), e.calls...)
}

func toolCall(id, name string, args map[string]any) model.ToolCall {
	raw, _ := json.Marshal(args)
	return model.ToolCall{ID: id, Name: name, Arguments: raw}
}

func newTestLoop(llm model.Model, exec tool.Executor, optFns ...func(o *Options)) (*Loop, core.SessionStore) {
	store := session.NewInMemoryStore()
	loop := NewLoop(store, llm, exec, nil, nil, optFns...)
	return loop, store
}

func TestLoop_FinalTextWithoutTools(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(testutil.TextResponse("Hello! How can I help you today?"))

	loop, store := newTestLoop(llm, newRecordingExecutor())
	res, err := loop.Run(context.Background(), "s1", "hi there")
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help you today?", res.Reply)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.LimitReached)

	sess, _ := store.Get("s1")
	msgs := sess.ConversationMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestLoop_DeterministicExtractionFeedsState(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(testutil.TextResponse("Thanks Maria, what day works for you?"))

	loop, store := newTestLoop(llm, newRecordingExecutor())
	_, err := loop.Run(context.Background(), "s1", "Hi, this is Maria Gonzalez, I'd like to book a cleaning. My number is 555-123-4567.")
	require.NoError(t, err)

	sess, _ := store.Get("s1")
	require.NotNil(t, sess.Patient.FirstName)
	assert.Equal(t, "Maria", *sess.Patient.FirstName)
	assert.Equal(t, core.IntentBook, sess.Intent)
	require.NotNil(t, sess.Patient.Phone)
	assert.Equal(t, "5551234567", *sess.Patient.Phone)

	// The model sees the extracted state, not just raw text.
	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "first_name=Maria")
	assert.Contains(t, reqs[0].Instructions, "phone=5551234567")
	assert.NotEmpty(t, reqs[0].Tools)
}

func TestLoop_AutoFillNeverOverwritesModelParams(t *testing.T) {
	llm := model.NewMockModel()
	// The model supplies its own datetime; everything else comes from state.
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{
		toolCall("c1", core.ToolCreateAppointment, map[string]any{
			tool.ParamAptDateTime: "2026-09-01 14:30:00",
		}),
	}})
	llm.Enqueue(testutil.TextResponse("Your appointment is booked for 2:30 PM."))

	exec := newRecordingExecutor()
	exec.results[core.ToolCreateAppointment] = map[string]any{"appointment_id": "a-77"}

	loop, store := newTestLoop(llm, exec)
	patientID := "p-42"
	slot := core.SelectedSlot{
		Start:      time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		ProviderID: "dr-lee",
		RoomID:     "room-1",
	}
	intent := core.IntentBook
	require.NoError(t, store.Update("s1", core.Patch{
		Intent:      &intent,
		Patient:     core.PatientRecord{PatientID: &patientID},
		Appointment: core.AppointmentIntent{Slot: &slot},
	}))

	res, err := loop.Run(context.Background(), "s1", "actually 2:30 pm works better")
	require.NoError(t, err)

	calls := exec.executed()
	require.Len(t, calls, 1)
	params := calls[0].params
	assert.Equal(t, "2026-09-01 14:30:00", params[tool.ParamAptDateTime], "model-supplied value must win over state")
	assert.Equal(t, "dr-lee", params[tool.ParamProviderID])
	assert.Equal(t, "room-1", params[tool.ParamRoomID])
	assert.Equal(t, "p-42", params[tool.ParamPatientID])

	sess, _ := store.Get("s1")
	log := sess.ToolCallLog()
	require.Len(t, log, 1)
	assert.ElementsMatch(t, []string{tool.ParamProviderID, tool.ParamRoomID, tool.ParamPatientID}, log[0].AutoFilled)
	assert.Equal(t, core.StageCompleted, sess.Stage)
	assert.Equal(t, 2, res.Iterations)
}

func TestLoop_MissingParamsRefusedWithoutExecution(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{
		toolCall("c1", core.ToolCancelAppointment, map[string]any{}),
	}})
	llm.Enqueue(testutil.TextResponse("Which appointment would you like to cancel?"))

	exec := newRecordingExecutor()
	loop, store := newTestLoop(llm, exec)

	res, err := loop.Run(context.Background(), "s1", "I need to cancel")
	require.NoError(t, err)
	assert.Empty(t, exec.executed(), "invalid call must never reach the executor")
	assert.Equal(t, "Which appointment would you like to cancel?", res.Reply)

	// The refusal is fed back to the model as a structured tool result.
	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Contains(t, last.Text, "missing required parameters")
	assert.Contains(t, last.Text, tool.ParamAppointmentID)
	assert.Contains(t, last.Text, "ask the user", "the refusal itself must carry the instruction")

	// And recorded in the audit log as a failed call.
	sess, _ := store.Get("s1")
	log := sess.ToolCallLog()
	require.Len(t, log, 1)
	assert.False(t, log[0].Succeeded())
}

func TestLoop_FallbackSkippedWithoutIntent(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(testutil.TextResponse("Hi! How can I help you today?"))
	fbLLM := model.NewMockModel()

	store := session.NewInMemoryStore()
	loop := NewLoop(store, llm, newRecordingExecutor(), nil, extract.NewFallback(fbLLM, nil))

	_, err := loop.Run(context.Background(), "s1", "hi there")
	require.NoError(t, err)
	assert.Empty(t, fbLLM.Requests(), "a greeting must not pay a fallback round-trip")
	assert.Len(t, llm.Requests(), 1)
}

func TestLoop_FallbackInvokedForUnresolvedToolParams(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(testutil.TextResponse("What day works for your cleaning?"))
	fbLLM := model.NewMockModel()
	fbLLM.Enqueue(testutil.TextResponse(`{"category": "cleaning", "confidence": 0.9}`))

	store := session.NewInMemoryStore()
	loop := NewLoop(store, llm, newRecordingExecutor(), nil, extract.NewFallback(fbLLM, nil))

	_, err := loop.Run(context.Background(), "s1", "I need an appointment")
	require.NoError(t, err)

	reqs := fbLLM.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].ForceJSON)

	sess, _ := store.Get("s1")
	require.NotNil(t, sess.Appointment.Category)
	assert.Equal(t, "cleaning", *sess.Appointment.Category)
}

func TestLoop_SchedulingMutationRunsAtMostOnce(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{
		toolCall("c1", core.ToolUpdateAppointment, map[string]any{
			tool.ParamAppointmentID: "a-1",
			tool.ParamAptDateTime:   "2026-09-02 10:00:00",
		}),
	}})
	llm.Enqueue(testutil.TextResponse("Done, moved to the 2nd at 10 AM."))

	exec := newRecordingExecutor()
	exec.results[core.ToolUpdateAppointment] = map[string]any{"appointment_id": "a-1"}

	loop, store := newTestLoop(llm, exec)
	// A scheduling change already succeeded earlier in this session.
	require.NoError(t, store.RecordToolCall("s1", core.ToolCallRecord{
		Tool:   core.ToolCreateAppointment,
		Result: map[string]any{"appointment_id": "a-1"},
	}))

	_, err := loop.Run(context.Background(), "s1", "move it please")
	require.NoError(t, err)
	assert.Empty(t, exec.executed(), "second scheduling mutation must be refused")
}

func TestLoop_DuplicateMutationWithinOneIteration(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{
		toolCall("c1", core.ToolCreateAppointment, map[string]any{
			tool.ParamAptDateTime: "2026-09-01 09:00:00",
			tool.ParamProviderID:  "dr-lee",
			tool.ParamRoomID:      "room-1",
			tool.ParamPatientID:   "p-42",
		}),
		toolCall("c2", core.ToolCreateAppointment, map[string]any{
			tool.ParamAptDateTime: "2026-09-01 09:00:00",
			tool.ParamProviderID:  "dr-lee",
			tool.ParamRoomID:      "room-1",
			tool.ParamPatientID:   "p-42",
		}),
	}})
	llm.Enqueue(testutil.TextResponse("Booked!"))

	exec := newRecordingExecutor()
	exec.results[core.ToolCreateAppointment] = map[string]any{"appointment_id": "a-5"}

	loop, _ := newTestLoop(llm, exec)
	_, err := loop.Run(context.Background(), "s1", "book it twice please")
	require.NoError(t, err)
	assert.Len(t, exec.executed(), 1, "only one of two identical mutations may execute")
}

// failFirstExecutor errors the first attempt at one tool, then delegates.
type failFirstExecutor struct {
	recordingExecutor
	failTool string
	failErr  error
	failed   bool
}

func (e *failFirstExecutor) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	e.mu.Lock()
	if name == e.failTool && !e.failed {
		e.failed = true
		e.calls = append(e.calls, executedCall{name: name, params: params})
		e.mu.Unlock()
		return nil, e.failErr
	}
	e.mu.Unlock()
	return e.recordingExecutor.Execute(ctx, name, params)
}

func TestLoop_FailedMutationRetriesAfterFeedback(t *testing.T) {
	params := map[string]any{
		tool.ParamAptDateTime: "2026-09-01 09:00:00",
		tool.ParamProviderID:  "dr-lee",
		tool.ParamRoomID:      "room-1",
		tool.ParamPatientID:   "p-42",
	}
	llm := model.NewMockModel()
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{toolCall("c1", core.ToolCreateAppointment, params)}})
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{toolCall("c2", core.ToolCreateAppointment, params)}})
	llm.Enqueue(testutil.TextResponse("You're all set for 9 AM!"))

	exec := &failFirstExecutor{
		recordingExecutor: recordingExecutor{
			results: map[string]any{core.ToolCreateAppointment: map[string]any{"appointment_id": "a-8"}},
			errs:    map[string]error{},
		},
		failTool: core.ToolCreateAppointment,
		failErr:  tool.NewBackendError(core.ToolCreateAppointment, "upstream timeout", ""),
	}

	loop, store := newTestLoop(llm, exec)
	res, err := loop.Run(context.Background(), "s1", "book it")
	require.NoError(t, err)

	assert.Len(t, exec.executed(), 2, "a failed mutation must not block the corrected retry")
	assert.Equal(t, "You're all set for 9 AM!", res.Reply)

	sess, _ := store.Get("s1")
	assert.Equal(t, core.StageCompleted, sess.Stage)
}

func TestLoop_IterationCeilingApologizes(t *testing.T) {
	llm := model.NewMockModel()
	for range 3 {
		llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{
			toolCall("c", core.ToolGetAvailableSlots, map[string]any{tool.ParamDate: "2026-09-01"}),
		}})
	}

	loop, store := newTestLoop(llm, newRecordingExecutor(), func(o *Options) {
		o.MaxIterations = 2
	})

	res, err := loop.Run(context.Background(), "s1", "find me a slot")
	require.NoError(t, err)
	assert.True(t, res.LimitReached)
	assert.Equal(t, 2, res.Iterations)
	assert.Contains(t, res.Reply, "sorry")

	sess, _ := store.Get("s1")
	msgs := sess.ConversationMessages()
	assert.Equal(t, res.Reply, msgs[len(msgs)-1].Text, "apology must be persisted")
}

func TestLoop_ConflictPreValidationRefusesBooking(t *testing.T) {
	dir := &testutil.StaticDirectory{
		ProviderList: []schedule.Provider{{ID: "dr-lee"}, {ID: "dr-patel"}},
		RoomList:     []schedule.Room{{ID: "room-1"}, {ID: "room-2"}},
		OccupiedList: []schedule.OccupiedSlot{{
			AppointmentID: "a-1", ProviderID: "dr-patel", RoomID: "room-1",
			Start: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC), Duration: time.Hour,
		}},
	}
	cache := schedule.NewCache(dir)

	llm := model.NewMockModel()
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{
		toolCall("c1", core.ToolCreateAppointment, map[string]any{
			tool.ParamAptDateTime: "2026-09-01 09:30:00",
			tool.ParamProviderID:  "dr-lee",
			tool.ParamRoomID:      "room-1",
			tool.ParamPatientID:   "p-42",
		}),
	}})
	llm.Enqueue(testutil.TextResponse("That room is taken, how about room 2?"))

	exec := newRecordingExecutor()
	store := session.NewInMemoryStore()
	loop := NewLoop(store, llm, exec, cache, nil)

	_, err := loop.Run(context.Background(), "s1", "book room 1 at 9:30")
	require.NoError(t, err)
	assert.Empty(t, exec.executed(), "conflicting booking must never reach the backend")

	reqs := llm.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, last.Text, "room room-1 is occupied")
	assert.Contains(t, last.Text, "room room-2 is free")
}

func TestLoop_MalformedDatetimeRefused(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{
		toolCall("c1", core.ToolCreateAppointment, map[string]any{
			tool.ParamAptDateTime: "tomorrow morning",
			tool.ParamProviderID:  "dr-lee",
			tool.ParamRoomID:      "room-1",
			tool.ParamPatientID:   "p-42",
		}),
	}})
	llm.Enqueue(testutil.TextResponse("Let me get the exact time sorted."))

	exec := newRecordingExecutor()
	loop, _ := newTestLoop(llm, exec)

	_, err := loop.Run(context.Background(), "s1", "book it for tomorrow")
	require.NoError(t, err)
	assert.Empty(t, exec.executed())

	reqs := llm.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, last.Text, "YYYY-MM-DD HH:MM:SS")
}

func TestLoop_BackendErrorIsFedBackNotFatal(t *testing.T) {
	llm := model.NewMockModel()
	llm.Enqueue(&model.Response{ToolCalls: []model.ToolCall{
		toolCall("c1", core.ToolGetAppointments, map[string]any{tool.ParamPatientID: "p-42"}),
	}})
	llm.Enqueue(testutil.TextResponse("I couldn't reach the scheduling system, let me try again shortly."))

	exec := newRecordingExecutor()
	exec.errs[core.ToolGetAppointments] = tool.NewBackendError(core.ToolGetAppointments, "upstream timeout", "")

	loop, store := newTestLoop(llm, exec)
	res, err := loop.Run(context.Background(), "s1", "do I have anything booked?")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reply)

	sess, _ := store.Get("s1")
	log := sess.ToolCallLog()
	require.Len(t, log, 1)
	assert.Contains(t, log[0].Error, "upstream timeout")
}
