// Package session provides SessionStore implementations (in-memory and
// Redis-backed) plus the idle-session eviction sweeper.
package session
