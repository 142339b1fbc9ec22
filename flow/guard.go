package flow

import (
	"context"
	"sync"
)

// ActiveGuard serializes turn processing per session and exposes which
// sessions are mid-turn so the eviction sweeper can skip them. Turns for
// different sessions run independently.
type ActiveGuard struct {
	mu   sync.Mutex
	sems map[string]*sessionSem
}

type sessionSem struct {
	ch      chan struct{}
	waiters int
}

// NewActiveGuard creates an empty guard.
func NewActiveGuard() *ActiveGuard {
	return &ActiveGuard{sems: make(map[string]*sessionSem)}
}

// Acquire blocks until the session is free or ctx is cancelled. On success
// it returns a release function that must be called exactly once.
func (g *ActiveGuard) Acquire(ctx context.Context, sessionID string) (func(), error) {
	g.mu.Lock()
	sem, ok := g.sems[sessionID]
	if !ok {
		sem = &sessionSem{ch: make(chan struct{}, 1)}
		g.sems[sessionID] = sem
	}
	sem.waiters++
	g.mu.Unlock()

	select {
	case sem.ch <- struct{}{}:
		return func() {
			<-sem.ch
			g.drop(sessionID, sem)
		}, nil
	case <-ctx.Done():
		g.drop(sessionID, sem)
		return nil, ctx.Err()
	}
}

func (g *ActiveGuard) drop(sessionID string, sem *sessionSem) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem.waiters--
	if sem.waiters == 0 && len(sem.ch) == 0 {
		delete(g.sems, sessionID)
	}
}

// Active reports whether the session currently holds or awaits the turn
// lock. Satisfies the sweeper's activity interface.
func (g *ActiveGuard) Active(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.sems[sessionID]
	return ok && (len(sem.ch) > 0 || sem.waiters > 0)
}
