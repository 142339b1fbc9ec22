// Package tool defines the boundary to the external tool executor plus the
// closed set of tool specifications the orchestration loop dispatches over:
// per-tool required parameters, state auto-fill bindings and the mutating
// flag that drives the at-most-once guard.
package tool

import (
	"context"
	"fmt"
)

// Executor is the external tool execution collaborator. It accepts calls
// with schedflow's canonical parameter names; the mapping onto the
// backend's actual field names is the executor's responsibility, not the
// orchestration loop's.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, name string, params map[string]any) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	return f(ctx, name, params)
}

// Error codes used across the tool boundary.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeBackend    = "BACKEND_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// ToolError represents errors surfaced from tool validation or execution.
// Hint optionally carries a backend remediation suggestion ("retry with a
// different room") safe to show the model; raw backend internals stay out
// of user-facing text.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Hint    string `json:"hint,omitempty"`
	// Retryable marks backend errors the model may work around with an
	// alternative proposal. Validation errors are never retryable.
	Retryable bool        `json:"retryable,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewValidationError creates a non-retryable validation ToolError.
func NewValidationError(tool, message string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: CodeValidation}
}

// NewBackendError creates a retryable backend ToolError with an optional
// remediation hint.
func NewBackendError(tool, message, hint string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: CodeBackend, Hint: hint, Retryable: true}
}

// IsValidationError reports whether err is a validation-class ToolError.
func IsValidationError(err error) bool {
	te, ok := err.(*ToolError)
	return ok && te.Code == CodeValidation
}
