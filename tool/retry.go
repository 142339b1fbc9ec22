package tool

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/schedflow/logging"
)

// RetryOptions tune the backoff policy applied to backend tool calls.
type RetryOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	Logger          logging.Logger
}

// RetryingExecutor wraps an Executor with exponential backoff on transient
// backend failures. Validation-class errors are never retried: they need
// new information from the user, not another attempt.
type RetryingExecutor struct {
	inner Executor
	opts  RetryOptions
}

// NewRetryingExecutor wraps the given executor with the retry policy.
func NewRetryingExecutor(inner Executor, optFns ...func(o *RetryOptions)) *RetryingExecutor {
	opts := RetryOptions{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      20 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RetryingExecutor{inner: inner, opts: opts}
}

// Execute implements Executor.
func (r *RetryingExecutor) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.InitialInterval
	policy.MaxInterval = r.opts.MaxInterval
	policy.MaxElapsedTime = r.opts.MaxElapsed

	var result any
	attempt := 0
	op := func() error {
		attempt++
		var err error
		result, err = r.inner.Execute(ctx, name, params)
		if err == nil {
			return nil
		}
		if IsValidationError(err) {
			return backoff.Permanent(err)
		}
		if te, ok := err.(*ToolError); ok && !te.Retryable {
			return backoff.Permanent(err)
		}
		r.opts.Logger.Warn("tool.retry", "tool", name, "attempt", attempt, "error", err.Error())
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}
