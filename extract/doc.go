// Package extract turns single free-form utterances into typed optional
// values: names, phone numbers, birthdates, appointment categories, date and
// time-of-day preferences and coarse intent. Every extractor is a pure
// function that returns "nothing found" rather than guessing; callers merge
// only non-empty results into session state so an absent result can never
// clear a previously known field.
//
// The semantic fallback (Fallback) covers what the deterministic pass
// misses, at the cost of one model call per invocation.
package extract
