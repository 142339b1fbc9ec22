// Package schedflow provides a high-level façade over the conversation core
// for appointment scheduling. Most applications interact with this package
// by:
//  1. Creating a Schedflow via New() with a model and a tool executor
//  2. Feeding user utterances to Chat(), one call per conversation turn
//  3. Optionally running the session sweeper for long-lived deployments
//
// The façade delegates turn processing to flow.Loop while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a Redis-backed session
// store, a resource directory and a structured logger.
package schedflow

import (
	"context"
	"time"

	"github.com/hupe1980/schedflow/core"
	"github.com/hupe1980/schedflow/extract"
	"github.com/hupe1980/schedflow/flow"
	"github.com/hupe1980/schedflow/logging"
	"github.com/hupe1980/schedflow/model"
	"github.com/hupe1980/schedflow/schedule"
	"github.com/hupe1980/schedflow/session"
	"github.com/hupe1980/schedflow/tool"
)

// Options configures the Schedflow instance.
type Options struct {
	// SessionStore persists conversation state. Defaults to in-memory.
	SessionStore core.SessionStore

	// Directory serves providers, rooms and occupied slots for conflict
	// pre-validation. Nil disables the resource cache.
	Directory schedule.Directory

	// MaxIterations bounds model round-trips per user turn.
	MaxIterations int

	// ConflictWindow is the appointment duration assumed when checking a
	// candidate booking against occupied slots.
	ConflictWindow time.Duration

	// CacheTTL is how long a fetched resource snapshot stays fresh.
	CacheTTL time.Duration

	// AutoConfirmOnMatch lets the truthfulness guard complete a booking
	// the model claimed but never executed, when the claim names exactly
	// one previously offered slot. Off by default.
	AutoConfirmOnMatch bool

	// DisableFallback turns off the semantic fallback extractor; only the
	// deterministic extraction pass runs.
	DisableFallback bool

	// RetryMaxElapsed bounds backoff retries around the tool executor.
	// Zero disables retrying.
	RetryMaxElapsed time.Duration

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Schedflow is the high-level façade aggregating the orchestration loop and
// its collaborators.
type Schedflow struct {
	opts  Options
	store core.SessionStore
	loop  *flow.Loop
	cache *schedule.Cache
}

// New creates a new Schedflow instance over the given model and tool
// executor with optional overrides.
func New(llm model.Model, executor tool.Executor, optFns ...func(o *Options)) *Schedflow {
	opts := Options{
		SessionStore:   session.NewInMemoryStore(),
		MaxIterations:  8,
		ConflictWindow: 30 * time.Minute,
		CacheTTL:       5 * time.Minute,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}

	var cache *schedule.Cache
	if opts.Directory != nil {
		cache = schedule.NewCache(opts.Directory, func(o *schedule.CacheOptions) {
			o.TTL = opts.CacheTTL
			o.Logger = opts.Logger
		})
	}

	var fallback *extract.Fallback
	if !opts.DisableFallback {
		fallback = extract.NewFallback(llm, opts.Logger)
	}

	if opts.RetryMaxElapsed > 0 {
		executor = tool.NewRetryingExecutor(executor, func(o *tool.RetryOptions) {
			o.MaxElapsed = opts.RetryMaxElapsed
			o.Logger = opts.Logger
		})
	}

	loop := flow.NewLoop(opts.SessionStore, llm, executor, cache, fallback, func(o *flow.Options) {
		o.MaxIterations = opts.MaxIterations
		o.ConflictWindow = opts.ConflictWindow
		o.AutoConfirmOnMatch = opts.AutoConfirmOnMatch
		o.Logger = opts.Logger
	})

	return &Schedflow{opts: opts, store: opts.SessionStore, loop: loop, cache: cache}
}

// Chat processes one user utterance for the session and returns the
// assistant reply along with the turn outcome.
func (s *Schedflow) Chat(ctx context.Context, sessionID, userText string) (*flow.Result, error) {
	return s.loop.Run(ctx, sessionID, userText)
}

// Session returns a snapshot of the session state.
func (s *Schedflow) Session(sessionID string) (*core.Session, error) {
	return s.store.Get(sessionID)
}

// EndSession removes a session from the store.
func (s *Schedflow) EndSession(sessionID string) error {
	return s.store.Delete(sessionID)
}

// Resources returns the current resource snapshot, refreshing it if stale.
// Returns nil when no directory was configured.
func (s *Schedflow) Resources(ctx context.Context) *schedule.ResourceSnapshot {
	if s.cache == nil {
		return nil
	}
	return s.cache.Get(ctx)
}

// NewSweeper builds an idle-session sweeper bound to this instance's store
// and activity guard. Callers run it via its Run method.
func (s *Schedflow) NewSweeper(optFns ...func(o *session.SweeperOptions)) *session.Sweeper {
	return session.NewSweeper(s.store, s.loop.Guard(), optFns...)
}
