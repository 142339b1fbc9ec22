package session

import (
	"sync"

	"github.com/hupe1980/schedflow/core"
)

// InMemoryStore is a volatile SessionStore keeping sessions in a process
// local map. It is safe for concurrent access and best suited for tests or
// single-instance deployments. Read paths return snapshots so callers can
// never mutate stored state directly.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// GetOrCreate returns a snapshot of the session, creating it lazily.
func (s *InMemoryStore) GetOrCreate(sessionID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(sessionID).Snapshot(), nil
}

// Get returns a snapshot of an existing session or ErrSessionNotFound.
func (s *InMemoryStore) Get(sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Snapshot(), nil
}

// Update applies a field-level patch, creating the session if needed.
func (s *InMemoryStore) Update(sessionID string, patch core.Patch) error {
	s.mu.Lock()
	sess := s.getOrCreateLocked(sessionID)
	s.mu.Unlock()
	sess.ApplyPatch(patch)
	return nil
}

// AppendMessage appends one conversation message.
func (s *InMemoryStore) AppendMessage(sessionID, role, text string) error {
	s.mu.Lock()
	sess := s.getOrCreateLocked(sessionID)
	s.mu.Unlock()
	sess.AppendMessage(role, text)
	return nil
}

// RecordToolCall appends a tool call record and folds its result.
func (s *InMemoryStore) RecordToolCall(sessionID string, rec core.ToolCallRecord) error {
	s.mu.Lock()
	sess := s.getOrCreateLocked(sessionID)
	s.mu.Unlock()
	sess.RecordToolCall(rec)
	return nil
}

// List returns snapshots of all stored sessions.
func (s *InMemoryStore) List() ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Snapshot())
	}
	return out, nil
}

// Delete removes a session; unknown ids are a no-op.
func (s *InMemoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// getOrCreateLocked allocates and stores a new session if absent; caller
// must hold the write lock.
func (s *InMemoryStore) getOrCreateLocked(sessionID string) *core.Session {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = core.NewSession(sessionID)
		s.sessions[sessionID] = sess
	}
	return sess
}
