package session

import (
	"context"
	"time"

	"github.com/hupe1980/schedflow/core"
	"github.com/hupe1980/schedflow/logging"
)

// Activity reports whether a session is currently being processed. The
// sweeper never evicts an active session, even if its Updated timestamp is
// stale, because a long-running tool call does not touch the store.
type Activity interface {
	Active(sessionID string) bool
}

// ActivityFunc adapts a function to the Activity interface.
type ActivityFunc func(sessionID string) bool

// Active calls f.
func (f ActivityFunc) Active(sessionID string) bool { return f(sessionID) }

// Sweeper evicts sessions that have been idle longer than the configured
// threshold. It runs on a fixed interval until its context is cancelled.
type Sweeper struct {
	store    core.SessionStore
	opts     SweeperOptions
	activity Activity
}

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	// IdleAfter is how long a session may go without updates before it is
	// evicted.
	IdleAfter time.Duration
	// Interval is the time between sweep passes.
	Interval time.Duration
	// Logger receives per-pass eviction counts.
	Logger logging.Logger
	// Now is the clock used when judging idleness. Overridable in tests.
	Now func() time.Time
}

// NewSweeper creates a sweeper over the given store. The activity guard may
// be nil, in which case every idle session is eligible.
func NewSweeper(store core.SessionStore, activity Activity, optFns ...func(o *SweeperOptions)) *Sweeper {
	opts := SweeperOptions{
		IdleAfter: time.Hour,
		Interval:  5 * time.Minute,
		Logger:    logging.NoOpLogger{},
		Now:       func() time.Time { return time.Now().UTC() },
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
	return &Sweeper{store: store, opts: opts, activity: activity}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one eviction pass and returns the number of evicted sessions.
func (s *Sweeper) Sweep() int {
	sessions, err := s.store.List()
	if err != nil {
		s.opts.Logger.Warn("session sweep: list failed", "error", err)
		return 0
	}
	cutoff := s.opts.Now().Add(-s.opts.IdleAfter)
	evicted := 0
	for _, sess := range sessions {
		if !sess.Updated.Before(cutoff) {
			continue
		}
		if s.activity != nil && s.activity.Active(sess.ID) {
			continue
		}
		if err := s.store.Delete(sess.ID); err != nil {
			s.opts.Logger.Warn("session sweep: delete failed", "session_id", sess.ID, "error", err)
			continue
		}
		evicted++
	}
	if evicted > 0 {
		s.opts.Logger.Info("session sweep", "evicted", evicted, "idle_after", s.opts.IdleAfter.String())
	}
	return evicted
}
