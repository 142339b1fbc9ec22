package flow

import (
	"context"
	"fmt"
	"regexp"

	"github.com/hupe1980/schedflow/core"
	"github.com/hupe1980/schedflow/tool"
)

// successClaimRe matches phrasings that assert a completed scheduling
// action. Kept deliberately broad; a false positive only costs one extra
// confirmation question, a false negative lies to the patient.
var successClaimRe = regexp.MustCompile(`(?i)\b(booked|scheduled|rescheduled|moved your appointment|cancell?ed|all set|you'?re set|appointment is (set|confirmed)|successfully (created|updated))\b`)

// claimsSuccess reports whether the final text asserts a completed booking,
// reschedule or cancellation.
func claimsSuccess(text string) bool {
	return successClaimRe.MatchString(text)
}

// applyTruthGuard inspects a final reply before it reaches the user. A
// success claim with no successful mutating tool call behind it is either
// repaired by actually performing the booking (when policy allows and the
// user's last turn names exactly one offered slot) or replaced with a
// confirmation question. Returns the reply to send.
func (l *Loop) applyTruthGuard(ctx context.Context, sessionID string, text string) string {
	sess, err := l.store.Get(sessionID)
	if err != nil {
		return text
	}
	if !claimsSuccess(text) || sess.HasSchedulingMutation() {
		return text
	}

	l.opts.Logger.Warn("flow.truth_guard.unearned_claim", "session_id", sessionID, "stage", string(sess.Stage))

	if l.opts.AutoConfirmOnMatch {
		// The slot the user asked for governs, not the one the claim
		// names. A model that hallucinated the wrong time must not get
		// its version of events executed.
		if slot, ok := recoverySlot(sess, sess.LastUserMessage()); ok && sess.Patient.PatientID != nil {
			if l.recoverBooking(ctx, sessionID, sess, slot) {
				if slotMentioned(text, slot) {
					return text
				}
				return fmt.Sprintf("Your appointment is booked for %s.", slot.Start.Format("Monday, January 2 at 3:04 PM"))
			}
		}
	}

	return "I haven't completed that yet. Before I do, can you confirm the appointment details one more time?"
}

// recoverBooking performs the claimed booking on the user's behalf. Returns
// true only when the mutation actually succeeded.
func (l *Loop) recoverBooking(ctx context.Context, sessionID string, sess *core.Session, slot core.SelectedSlot) bool {
	spec, ok := l.registry.Lookup(core.ToolCreateAppointment)
	if !ok {
		return false
	}
	params := map[string]any{
		tool.ParamAptDateTime: slot.Start.Format(tool.AptDateTimeLayout),
		tool.ParamProviderID:  slot.ProviderID,
		tool.ParamRoomID:      slot.RoomID,
		tool.ParamPatientID:   *sess.Patient.PatientID,
	}
	if sess.Appointment.Category != nil {
		params[tool.ParamCategory] = *sess.Appointment.Category
	}
	if missing := spec.MissingParams(params); len(missing) > 0 {
		return false
	}
	if refusal := l.preValidateConflict(ctx, spec, params); refusal != nil {
		l.opts.Logger.Warn("flow.truth_guard.recovery_conflict", "session_id", sessionID, "error", refusal.Message)
		return false
	}

	result, err := l.executor.Execute(ctx, spec.Name, params)
	rec := core.ToolCallRecord{
		Tool:       spec.Name,
		Params:     params,
		AutoFilled: []string{tool.ParamAptDateTime, tool.ParamProviderID, tool.ParamRoomID, tool.ParamPatientID},
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.Result = result
	}
	if storeErr := l.store.RecordToolCall(sessionID, rec); storeErr != nil {
		l.opts.Logger.Error("flow.truth_guard.record_failed", "session_id", sessionID, "error", storeErr)
	}
	if err != nil {
		l.opts.Logger.Warn("flow.truth_guard.recovery_failed", "session_id", sessionID, "error", err.Error())
		return false
	}
	l.opts.Logger.Info("flow.truth_guard.recovered", "session_id", sessionID, "tool", spec.Name)
	return true
}
