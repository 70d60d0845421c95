// Package ledger tracks per-user credit balances and the audit trail of
// grants and deductions behind them.
//
// The Ledger interface is intentionally small: the runner checks a balance
// before a session starts and deducts the session's credits when it ends.
// Implementations guarantee atomic deductions so concurrent sessions can
// never drive a balance negative. InMemory suits tests and single-process
// runs; the sqlite subpackage persists balances across processes.
package ledger
