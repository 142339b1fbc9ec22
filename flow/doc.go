// Package flow implements the tool-call orchestration loop: the bounded
// conversation turn that runs deterministic extraction, consults the model,
// validates and executes proposed tool calls, folds their results back into
// session state and guards the final reply against unearned success claims.
package flow
