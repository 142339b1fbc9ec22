package model

import (
	"context"
	"sync"
)

// MockModel is a lightweight in-memory Model that replays a scripted queue
// of responses. Useful for tests & examples: script the exact tool calls
// and final texts a scenario needs, then assert on what the loop did.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	script   []*Response
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel() *MockModel {
	return &MockModel{
		info: Info{Name: "mock", Provider: "mock", SupportsTools: true},
	}
}

// Enqueue appends responses to the replay script in order.
func (m *MockModel) Enqueue(responses ...*Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
}

// Requests returns a copy of every request seen so far, in order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Generate pops the next scripted response. An exhausted script yields an
// empty final text so loops terminate rather than hang.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		return &Response{FinishReason: "stop"}, nil
	}
	next := m.script[0]
	m.script = m.script[1:]
	return next, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
