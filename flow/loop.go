package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/schedflow/core"
	"github.com/hupe1980/schedflow/extract"
	"github.com/hupe1980/schedflow/logging"
	"github.com/hupe1980/schedflow/model"
	"github.com/hupe1980/schedflow/schedule"
	"github.com/hupe1980/schedflow/tool"
)

// apologyReply is the terminal fallback sent when a turn exhausts its
// iteration budget without producing a final answer.
const apologyReply = "I'm sorry, I'm having trouble completing this request right now. A member of our staff will follow up to finish the scheduling for you."

// Options configures a Loop.
type Options struct {
	// MaxIterations bounds model round-trips per user turn.
	MaxIterations int
	// ConflictWindow is the appointment duration assumed when checking a
	// candidate booking against occupied slots.
	ConflictWindow time.Duration
	// AutoConfirmOnMatch lets the truthfulness guard repair an unearned
	// success claim by performing the booking, provided the claim names
	// exactly one previously offered slot. Off by default: the safe
	// behavior is to ask the user to confirm.
	AutoConfirmOnMatch bool
	// Logger receives turn-level diagnostics.
	Logger logging.Logger
	// Now is the clock anchoring relative-date extraction. Overridable in
	// tests.
	Now func() time.Time
}

// Loop drives one conversation turn end to end. It is safe for concurrent
// use; turns on the same session are serialized by the ActiveGuard.
type Loop struct {
	store    core.SessionStore
	llm      model.Model
	executor tool.Executor
	registry *tool.Registry
	cache    *schedule.Cache
	fallback *extract.Fallback
	guard    *ActiveGuard
	opts     Options
}

// NewLoop wires an orchestration loop over the given collaborators. The
// cache may be nil, which disables booking pre-validation against the
// resource snapshot; the fallback may be nil, which disables semantic
// extraction.
func NewLoop(store core.SessionStore, llm model.Model, executor tool.Executor, cache *schedule.Cache, fallback *extract.Fallback, optFns ...func(o *Options)) *Loop {
	opts := Options{
		MaxIterations:  8,
		ConflictWindow: 30 * time.Minute,
		Logger:         logging.NoOpLogger{},
		Now:            func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	return &Loop{
		store:    store,
		llm:      llm,
		executor: executor,
		registry: tool.NewRegistry(),
		cache:    cache,
		fallback: fallback,
		guard:    NewActiveGuard(),
		opts:     opts,
	}
}

// Guard exposes the per-session activity guard, e.g. for the sweeper.
func (l *Loop) Guard() *ActiveGuard { return l.guard }

// Result is the outcome of one conversation turn.
type Result struct {
	SessionID string
	// Reply is the assistant text to show the user.
	Reply string
	// Session is a snapshot of state after the turn.
	Session *core.Session
	// Iterations is the number of model round-trips consumed.
	Iterations int
	// LimitReached marks turns terminated by the iteration ceiling.
	LimitReached bool
	// Usage aggregates token usage across all model calls of the turn.
	Usage model.TokenUsage
}

// Run processes one user utterance: deterministic extraction, optional
// semantic fallback, then a bounded model/tool iteration that ends with a
// final reply. Turns on the same session are serialized.
func (l *Loop) Run(ctx context.Context, sessionID, userText string) (*Result, error) {
	release, err := l.guard.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := l.store.GetOrCreate(sessionID); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := l.store.AppendMessage(sessionID, "user", userText); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	now := l.opts.Now()
	if err := l.extractTurn(ctx, sessionID, userText, now); err != nil {
		return nil, err
	}

	res := &Result{SessionID: sessionID}
	transcript := []model.Message(nil)

	for iter := 0; iter < l.opts.MaxIterations; iter++ {
		sess, err := l.store.Get(sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}

		resp, err := l.llm.Generate(ctx, l.buildRequest(sess, transcript, now))
		if err != nil {
			return nil, fmt.Errorf("model generate: %w", err)
		}
		res.Iterations++
		if resp.Usage != nil {
			res.Usage.PromptTokens += resp.Usage.PromptTokens
			res.Usage.CompletionTokens += resp.Usage.CompletionTokens
			res.Usage.TotalTokens += resp.Usage.TotalTokens
		}

		if resp.IsFinal() {
			reply := l.applyTruthGuard(ctx, sessionID, resp.Text)
			return l.finish(res, sessionID, reply, false)
		}

		transcript = append(transcript, model.Message{
			Role:      "assistant",
			Text:      resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		results := l.executeToolCalls(ctx, sessionID, sess, resp.ToolCalls)
		transcript = append(transcript, results...)
	}

	l.opts.Logger.Warn("flow.iteration_ceiling", "session_id", sessionID, "max_iterations", l.opts.MaxIterations)
	return l.finish(res, sessionID, apologyReply, true)
}

func (l *Loop) finish(res *Result, sessionID, reply string, limited bool) (*Result, error) {
	if err := l.store.AppendMessage(sessionID, "assistant", reply); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	sess, err := l.store.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	res.Reply = reply
	res.Session = sess
	res.LimitReached = limited
	return res, nil
}

// extractTurn runs the deterministic extraction pass over the utterance and
// escalates to the semantic fallback only if required fields remain.
func (l *Loop) extractTurn(ctx context.Context, sessionID, userText string, now time.Time) error {
	patch := extract.PatchFromUtterance(userText, now)
	if !patch.IsEmpty() {
		if err := l.store.Update(sessionID, patch); err != nil {
			return fmt.Errorf("apply extraction: %w", err)
		}
	}

	sess, err := l.store.Get(sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if l.fallback == nil || !needsFallback(sess) {
		return nil
	}

	result := l.fallback.Extract(ctx, sess.ConversationMessages(), sess.MissingRequired, now)
	if fbPatch := result.PatchFor(sess); !fbPatch.IsEmpty() {
		if err := l.store.Update(sessionID, fbPatch); err != nil {
			return fmt.Errorf("apply fallback extraction: %w", err)
		}
	}
	return nil
}

// needsFallback reports whether the upcoming tool path still misses
// required parameters the deterministic pass could not resolve. Without a
// classified intent no tool call is in sight, so a greeting or small talk
// never pays the extra model round-trip.
func needsFallback(sess *core.Session) bool {
	if sess.Intent == core.IntentUnknown {
		return false
	}
	return len(sess.MissingRequired) > 0
}

const instructionsTemplate = `You are a scheduling assistant for a medical practice. You help patients book, reschedule, cancel and check appointments.
Today's date is %s. Resolve every relative date against it.

Rules:
- Use the provided tools for every factual claim about patients, appointments or availability. Never invent ids, slots or results.
- Never tell the user an appointment was booked, moved or cancelled unless the corresponding tool call succeeded in this conversation.
- When a tool refuses a call for missing parameters, ask the user for exactly those details instead of guessing.
- Datetimes passed to tools use the format YYYY-MM-DD HH:MM:SS.
- Be concise and warm. One question at a time.

%s`

// buildRequest assembles the model request: instructions with today's date
// and a state summary, the conversation so far, the run-local tool
// transcript and the closed tool set.
func (l *Loop) buildRequest(sess *core.Session, transcript []model.Message, now time.Time) model.Request {
	req := model.Request{
		Instructions: fmt.Sprintf(instructionsTemplate, now.Format("2006-01-02"), stateSummary(sess)),
		Tools:        l.registry.Definitions(),
		Today:        now,
	}
	for _, msg := range sess.ConversationMessages() {
		if msg.Role == "user" || msg.Role == "assistant" {
			req.Messages = append(req.Messages, model.Message{Role: msg.Role, Text: msg.Text})
		}
	}
	req.Messages = append(req.Messages, transcript...)
	return req
}

// stateSummary renders what the conversation has established so far, so the
// model never re-asks for known fields.
func stateSummary(sess *core.Session) string {
	var b strings.Builder
	b.WriteString("Conversation state:\n")
	fmt.Fprintf(&b, "- intent: %s, stage: %s\n", sess.Intent, sess.Stage)

	known := map[string]string{}
	addKnown(known, "first_name", sess.Patient.FirstName)
	addKnown(known, "last_name", sess.Patient.LastName)
	addKnown(known, "phone", sess.Patient.Phone)
	addKnown(known, "birthdate", sess.Patient.Birthdate)
	addKnown(known, "patient_id", sess.Patient.PatientID)
	addKnown(known, "category", sess.Appointment.Category)
	addKnown(known, "preferred_date", sess.Appointment.PreferredDate)
	addKnown(known, "time_of_day", sess.Appointment.TimeOfDay)
	addKnown(known, "appointment_id", sess.Appointment.ExistingAppointmentID)
	if sess.Patient.NewPatient != nil {
		known["new_patient"] = fmt.Sprintf("%t", *sess.Patient.NewPatient)
	}
	if sess.Appointment.Slot != nil {
		known["selected_slot"] = sess.Appointment.Slot.Start.Format("2006-01-02 15:04")
	}

	if len(known) > 0 {
		keys := make([]string, 0, len(known))
		for k := range known {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("- known: ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, known[k])
		}
		b.WriteString("\n")
	}
	if len(sess.MissingRequired) > 0 {
		fmt.Fprintf(&b, "- still needed: %s\n", strings.Join(sess.MissingRequired, ", "))
	}
	return b.String()
}

func addKnown(m map[string]string, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

// runState carries per-turn execution bookkeeping shared between the
// concurrently executing calls of one iteration.
type runState struct {
	mu           sync.Mutex
	mutationDone bool
}

// reserveMutation claims the turn's single scheduling mutation. Returns
// false when one already completed or is in flight.
func (s *runState) reserveMutation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutationDone {
		return false
	}
	s.mutationDone = true
	return true
}

// releaseMutation hands back a reservation whose call was refused or
// failed, so a corrected retry in a later iteration may proceed.
func (s *runState) releaseMutation() {
	s.mu.Lock()
	s.mutationDone = false
	s.mu.Unlock()
}

// executeToolCalls validates and executes one iteration's proposed calls
// concurrently, records each in the session log and returns the tool-role
// messages feeding the next model turn, in proposal order.
func (l *Loop) executeToolCalls(ctx context.Context, sessionID string, sess *core.Session, calls []model.ToolCall) []model.Message {
	state := &runState{mutationDone: sess.HasSchedulingMutation()}
	records := make([]core.ToolCallRecord, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			records[i] = l.handleToolCall(gctx, sess, call, state)
			return nil
		})
	}
	_ = g.Wait()

	msgs := make([]model.Message, 0, len(calls))
	for i, rec := range records {
		if err := l.store.RecordToolCall(sessionID, rec); err != nil {
			l.opts.Logger.Error("flow.record_failed", "session_id", sessionID, "tool", rec.Tool, "error", err)
		}
		msgs = append(msgs, model.Message{
			Role:       "tool",
			ToolCallID: calls[i].ID,
			Text:       toolResultText(rec),
		})
	}
	return msgs
}

// handleToolCall runs the full pre-flight for one proposed call: resolve
// the spec, decode arguments, auto-fill absent parameters from state,
// refuse on missing required parameters, guard mutations, pre-validate
// bookings against the resource snapshot, then execute.
func (l *Loop) handleToolCall(ctx context.Context, sess *core.Session, call model.ToolCall, state *runState) core.ToolCallRecord {
	rec := core.ToolCallRecord{ID: call.ID, Tool: call.Name}

	spec, ok := l.registry.Lookup(call.Name)
	if !ok {
		rec.Error = tool.NewValidationError(call.Name, "unknown tool").Error()
		return rec
	}

	args, err := call.Args()
	if err != nil {
		rec.Error = tool.NewValidationError(call.Name, fmt.Sprintf("malformed arguments: %v", err)).Error()
		return rec
	}

	// Auto-fill from state, but never overwrite what the model supplied.
	if spec.AutoFill != nil {
		for name, value := range spec.AutoFill(sess) {
			if !paramPresent(args, name) {
				args[name] = value
				rec.AutoFilled = append(rec.AutoFilled, name)
			}
		}
		sort.Strings(rec.AutoFilled)
	}
	rec.Params = args

	if missing := spec.MissingParams(args); len(missing) > 0 {
		// The refusal must stand on its own as a tool result: name the
		// gap and tell the model what to do about it.
		te := tool.NewValidationError(call.Name, fmt.Sprintf(
			"missing required parameters: %s; ask the user for these values instead of guessing them or calling a different tool",
			strings.Join(missing, ", ")))
		te.Details = map[string]any{
			"missing":     missing,
			"instruction": "ask the user; do not invent values or switch tools",
		}
		rec.Error = te.Error()
		l.opts.Logger.Debug("flow.refused", "tool", call.Name, "missing", strings.Join(missing, ", "))
		return rec
	}

	if spec.Mutating {
		// Reserve the turn's single scheduling mutation up front, then
		// validate and execute with no lock held; a reservation whose
		// call does not go through is handed back.
		scheduling := core.IsSchedulingMutation(call.Name)
		if scheduling && !state.reserveMutation() {
			rec.Error = tool.NewValidationError(call.Name, "a scheduling change already completed in this conversation; not repeating it").Error()
			return rec
		}
		if refusal := l.preValidateConflict(ctx, spec, args); refusal != nil {
			if scheduling {
				state.releaseMutation()
			}
			rec.Error = refusal.Error()
			if len(refusal.Hint) > 0 {
				rec.Error += "; " + refusal.Hint
			}
			return rec
		}
		result, execErr := l.executor.Execute(ctx, call.Name, args)
		if execErr != nil && scheduling {
			state.releaseMutation()
		}
		fillRecord(&rec, result, execErr)
		return rec
	}

	result, execErr := l.executor.Execute(ctx, call.Name, args)
	fillRecord(&rec, result, execErr)
	return rec
}

func fillRecord(rec *core.ToolCallRecord, result any, err error) {
	if err != nil {
		rec.Error = err.Error()
		return
	}
	rec.Result = result
}

// preValidateConflict checks a booking or move against the cached resource
// snapshot before the backend sees it. Returns nil when the call may
// proceed.
func (l *Loop) preValidateConflict(ctx context.Context, spec *tool.Spec, args map[string]any) *tool.ToolError {
	if spec.Name != core.ToolCreateAppointment && spec.Name != core.ToolUpdateAppointment {
		return nil
	}

	raw, _ := args[tool.ParamAptDateTime].(string)
	start, err := tool.ParseAptDateTime(raw)
	if err != nil {
		return tool.NewValidationError(spec.Name, fmt.Sprintf("%s must be formatted YYYY-MM-DD HH:MM:SS, got %q", tool.ParamAptDateTime, raw))
	}
	if l.cache == nil {
		return nil
	}

	cand := schedule.Candidate{Start: start}
	if s, ok := args[tool.ParamProviderID].(string); ok {
		cand.ProviderID = s
	}
	if s, ok := args[tool.ParamRoomID].(string); ok {
		cand.RoomID = s
	}
	if s, ok := args[tool.ParamPatientID].(string); ok && s != "" {
		cand.PatientID = &s
	}

	res := schedule.DetectConflicts(l.cache.Get(ctx), cand, l.opts.ConflictWindow)
	if !res.HasConflict {
		return nil
	}
	te := tool.NewValidationError(spec.Name, strings.Join(res.Reasons, "; "))
	te.Hint = strings.Join(res.Suggestions, "; ")
	te.Details = res
	return te
}

func paramPresent(args map[string]any, name string) bool {
	v, ok := args[name]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// toolResultText serializes a record for the model: successful results as
// JSON, failures as a structured error envelope the model can react to.
func toolResultText(rec core.ToolCallRecord) string {
	if rec.Succeeded() {
		raw, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Sprintf(`{"result": %q}`, fmt.Sprint(rec.Result))
		}
		return string(raw)
	}
	raw, err := json.Marshal(map[string]any{"error": rec.Error})
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, rec.Error)
	}
	return string(raw)
}
