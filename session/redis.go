package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hupe1980/schedflow/core"
)

const redisKeyPrefix = "schedflow:session:"

// RedisStore persists sessions as JSON documents in Redis, one key per
// session. It lets conversations survive process restarts and be shared
// between instances behind a sticky-free load balancer.
//
// Mutations are read-modify-write: the hot path serializes per session in
// the orchestration loop, so optimistic locking is not needed here.
type RedisStore struct {
	client *redis.Client
	opts   RedisOptions
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// TTL expires idle sessions server-side. Zero keeps them forever and
	// leaves eviction to the sweeper.
	TTL time.Duration
	// Ctx is used for all Redis commands. Defaults to context.Background().
	Ctx context.Context
}

// NewRedisStore wraps an existing Redis client as a SessionStore.
func NewRedisStore(client *redis.Client, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{Ctx: context.Background()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Ctx == nil {
		opts.Ctx = context.Background()
	}
	return &RedisStore{client: client, opts: opts}
}

// GetOrCreate loads the session, creating and persisting a fresh one if it
// does not exist yet.
func (s *RedisStore) GetOrCreate(sessionID string) (*core.Session, error) {
	sess, err := s.load(sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, core.ErrSessionNotFound) {
		return nil, err
	}
	sess = core.NewSession(sessionID)
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads an existing session or returns ErrSessionNotFound.
func (s *RedisStore) Get(sessionID string) (*core.Session, error) {
	return s.load(sessionID)
}

// Update applies a field-level patch and writes the session back.
func (s *RedisStore) Update(sessionID string, patch core.Patch) error {
	return s.mutate(sessionID, func(sess *core.Session) {
		sess.ApplyPatch(patch)
	})
}

// AppendMessage appends one conversation message and writes the session back.
func (s *RedisStore) AppendMessage(sessionID, role, text string) error {
	return s.mutate(sessionID, func(sess *core.Session) {
		sess.AppendMessage(role, text)
	})
}

// RecordToolCall appends a tool call record and writes the session back.
func (s *RedisStore) RecordToolCall(sessionID string, rec core.ToolCallRecord) error {
	return s.mutate(sessionID, func(sess *core.Session) {
		sess.RecordToolCall(rec)
	})
}

// List scans all session keys and loads each session.
func (s *RedisStore) List() ([]*core.Session, error) {
	var (
		out    []*core.Session
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(s.opts.Ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		for _, key := range keys {
			sess, err := s.load(key[len(redisKeyPrefix):])
			if errors.Is(err, core.ErrSessionNotFound) {
				continue // expired between scan and load
			}
			if err != nil {
				return nil, err
			}
			out = append(out, sess)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Delete removes a session; unknown ids are a no-op.
func (s *RedisStore) Delete(sessionID string) error {
	if err := s.client.Del(s.opts.Ctx, redisKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) mutate(sessionID string, fn func(sess *core.Session)) error {
	sess, err := s.load(sessionID)
	if errors.Is(err, core.ErrSessionNotFound) {
		sess = core.NewSession(sessionID)
	} else if err != nil {
		return err
	}
	fn(sess)
	return s.save(sess)
}

func (s *RedisStore) load(sessionID string) (*core.Session, error) {
	raw, err := s.client.Get(s.opts.Ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var sess core.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (s *RedisStore) save(sess *core.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(s.opts.Ctx, redisKeyPrefix+sess.ID, raw, s.opts.TTL).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}
