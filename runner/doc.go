// Package runner wraps the engine with the billing choreography a hosted
// deployment needs: a conservative credit estimate gates the session before
// the first provider call, and the user's ledger is settled once the run
// ends. The engine itself never deducts; it only projects the balance it was
// started with.
//
// Run returns a Run whose event stream mirrors the engine's. The stream
// closes only after settlement, so a drained Run is also a billed one.
// RunSync is the blocking convenience for tools and tests.
package runner
