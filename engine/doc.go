// Package engine implements the round scheduler that drives a refinement
// session end to end.
//
// A session moves a working document through rounds of generation and
// critique. Each round runs three phases in order: the writer drafts or
// revises the document, every active editor critiques it concurrently, and
// the synthesizer condenses the editors' feedback into one prioritized
// revision directive. After normal termination the writer runs one final
// polish pass against the directive from the closing round.
//
// Start launches a session and returns a Handle for observing and steering
// it: a buffered event stream carrying every state change token by token,
// cooperative Pause/Resume/Cancel, and point-in-time state snapshots. Pause
// and cancel requests take effect at turn boundaries, never mid-generation,
// so an in-flight provider call is always allowed to finish.
//
// Concurrency model: the scheduler goroutine is the sole writer of session
// state. Phase-2 editors run on their own goroutines with pre-assigned turn
// numbers and report back exclusively through a shared queue the scheduler
// drains; their completed turns are appended to history in turn-number order
// once the batch joins.
//
// Persistence (session.Store) and billing (ledger.Ledger) are optional
// collaborators. When configured, state changes are persisted best-effort
// after each turn, and the credit balance read at start bounds how far the
// session may run. The engine never deducts credits itself; settlement
// belongs to the caller once the run ends.
package engine
