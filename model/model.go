// Package model defines the normalized request/response boundary between
// schedflow and language model providers. The core never inspects how a
// response was produced, only its shape: either one or more proposed tool
// calls or a final text message.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message is one conversational turn handed to the model.
type Message struct {
	Role string `json:"role"` // system, user, assistant or tool
	Text string `json:"text"`
	// ToolCallID correlates tool-role messages with the call they answer.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls carries assistant-proposed calls when replaying history.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-proposed invocation of a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON object of parameters
}

// Args decodes the call's arguments into a map. Empty arguments decode to
// an empty map rather than an error.
func (tc ToolCall) Args() (map[string]any, error) {
	if len(tc.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool call arguments: %w", err)
	}
	return args, nil
}

// ToolDefinition declaratively exposes a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the loop.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	// Today anchors relative-date resolution; the model must never be left
	// to infer the current date on its own.
	Today time.Time `json:"today"`
	// ForceJSON requests structured output (used by the semantic fallback).
	ForceJSON bool `json:"force_json,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one complete model turn: proposed tool calls, a final text, or
// both (text accompanying calls is treated as commentary, not final output).
type Response struct {
	Text         string      `json:"text,omitempty"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// IsFinal reports whether the response carries no pending tool calls.
func (r *Response) IsFinal() bool { return len(r.ToolCalls) == 0 }

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the orchestration loop requires.
type Model interface {
	// Generate produces one complete turn for the request.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}
