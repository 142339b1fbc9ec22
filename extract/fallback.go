package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/schedflow/core"
	"github.com/hupe1980/schedflow/logging"
	"github.com/hupe1980/schedflow/model"
)

// FallbackResult is the fixed JSON shape the semantic fallback asks the
// model to return. All fields are optional; Confidence is clamped to [0,1].
type FallbackResult struct {
	FirstName     *string `json:"first_name"`
	LastName      *string `json:"last_name"`
	Phone         *string `json:"phone"`
	Birthdate     *string `json:"birthdate"`
	NewPatient    *bool   `json:"new_patient"`
	Category      *string `json:"category"`
	PreferredDate *string `json:"preferred_date"`
	TimeOfDay     *string `json:"time_of_day"`
	Intent        *string `json:"intent"`
	Confidence    float64 `json:"confidence"`
}

// Fallback is the semantic fallback extractor. It is invoked only when
// required fields remain unresolved after the deterministic pass and
// auto-fill, and issues exactly one model call per invocation.
type Fallback struct {
	llm    model.Model
	logger logging.Logger
}

// NewFallback constructs a semantic fallback over the given model.
func NewFallback(llm model.Model, logger logging.Logger) *Fallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Fallback{llm: llm, logger: logger}
}

const fallbackInstructions = `You extract scheduling fields from a patient conversation.
Today's date is %s. Resolve every relative date ("tomorrow", "next Friday") against that date; never assume any other current date.
Return ONLY a JSON object with exactly these keys (use null for anything the conversation does not state):
{"first_name": string|null, "last_name": string|null, "phone": string|null, "birthdate": string|null, "new_patient": boolean|null, "category": string|null, "preferred_date": string|null, "time_of_day": string|null, "intent": string|null, "confidence": number}
Dates are ISO (YYYY-MM-DD), phone is digits only, intent is one of book, reschedule, cancel, check. confidence is your overall confidence in [0,1].
The caller still needs these fields: %s. Focus on them; do not invent values.`

// Extract issues one structured-output request over the full message log.
// Parse failures are not errors: they degrade to a zero-confidence empty
// result and the caller falls through to asking the user directly.
func (f *Fallback) Extract(ctx context.Context, messages []core.Message, missing []string, today time.Time) FallbackResult {
	req := model.Request{
		Instructions: fmt.Sprintf(fallbackInstructions, today.Format("2006-01-02"), strings.Join(missing, ", ")),
		Today:        today,
		ForceJSON:    true,
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, model.Message{Role: msg.Role, Text: msg.Text})
	}

	resp, err := f.llm.Generate(ctx, req)
	if err != nil {
		f.logger.Warn("extract.fallback.model_error", "error", err.Error())
		return FallbackResult{}
	}

	result, ok := parseFallback(resp.Text)
	if !ok {
		f.logger.Warn("extract.fallback.unparseable", "length", len(resp.Text))
		return FallbackResult{}
	}

	f.logger.Debug("extract.fallback.ok", "confidence", result.Confidence)
	return result
}

// parseFallback decodes the model output, tolerating surrounding prose by
// slicing out the outermost JSON object.
func parseFallback(text string) (FallbackResult, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return FallbackResult{}, false
	}

	var result FallbackResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return FallbackResult{}, false
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, true
}

// PatchFor converts the result into a patch containing only fields the
// session does not already know: state stays authoritative over the
// fallback once both exist.
func (r FallbackResult) PatchFor(sess *core.Session) core.Patch {
	var patch core.Patch

	if r.Intent != nil && sess.Intent == core.IntentUnknown {
		switch intent := core.Intent(*r.Intent); intent {
		case core.IntentBook, core.IntentReschedule, core.IntentCancel, core.IntentCheck:
			patch.Intent = &intent
		}
	}
	if r.FirstName != nil && sess.Patient.FirstName == nil {
		patch.Patient.FirstName = r.FirstName
	}
	if r.LastName != nil && sess.Patient.LastName == nil {
		patch.Patient.LastName = r.LastName
	}
	if r.Phone != nil && sess.Patient.Phone == nil {
		if digits := nonDigit.ReplaceAllString(*r.Phone, ""); len(digits) == 10 {
			patch.Patient.Phone = &digits
		}
	}
	if r.Birthdate != nil && sess.Patient.Birthdate == nil {
		patch.Patient.Birthdate = r.Birthdate
	}
	if r.NewPatient != nil && sess.Patient.NewPatient == nil {
		patch.Patient.NewPatient = r.NewPatient
	}
	if r.Category != nil && sess.Appointment.Category == nil {
		patch.Appointment.Category = r.Category
	}
	if r.PreferredDate != nil && sess.Appointment.PreferredDate == nil {
		patch.Appointment.PreferredDate = r.PreferredDate
	}
	if r.TimeOfDay != nil && sess.Appointment.TimeOfDay == nil {
		patch.Appointment.TimeOfDay = r.TimeOfDay
	}

	return patch
}
