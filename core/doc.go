// Package core defines the conversation state model shared by every other
// schedflow package: the per-session Session record, the partially-known
// patient and appointment intent structures, the append-only tool call log
// and the message history. All mutation rules (field-level patch merging,
// missing-required recomputation, result folding) live here so that the
// extractors, the session stores and the orchestration loop agree on a
// single source of truth.
package core
