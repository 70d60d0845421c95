// Package session persists refinement sessions and their exchange history.
//
// The Store interface is written to once per state change: session creation,
// status transitions, each completed turn, every document revision and round
// advance. The engine treats persistence as best-effort; a failing store is
// logged and never interrupts a running session. InMemoryStore backs tests
// and single-run tools, the sqlite and postgres subpackages provide durable
// storage.
package session
