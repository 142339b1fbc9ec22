package core

import "errors"

// ErrSessionNotFound is returned by stores for lookups of unknown sessions
// on operations that do not create lazily.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists sessions keyed by their opaque identifier.
//
// Implementations must return snapshots (deep copies) from read paths so
// callers can never mutate stored state without going through the store,
// and must apply mutations through the Session's own methods so merge and
// recomputation rules hold everywhere.
type SessionStore interface {
	// GetOrCreate returns the session, creating it lazily on first reference.
	GetOrCreate(sessionID string) (*Session, error)

	// Get returns the session or ErrSessionNotFound.
	Get(sessionID string) (*Session, error)

	// Update applies a field-level patch to the session, creating it if needed.
	Update(sessionID string, patch Patch) error

	// AppendMessage appends one conversation message.
	AppendMessage(sessionID, role, text string) error

	// RecordToolCall appends a tool call record and folds its result.
	RecordToolCall(sessionID string, rec ToolCallRecord) error

	// List returns snapshots of all stored sessions (used by the eviction
	// sweeper; order is unspecified).
	List() ([]*Session, error)

	// Delete removes a session. Deleting an unknown session is a no-op.
	Delete(sessionID string) error
}
