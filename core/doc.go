// Package core provides the foundational domain types and event contract used
// by Redraft. It defines the core abstractions for:
//
//   - Agents (writer / editor / synthesizer roles with evaluation criteria)
//   - Sessions (immutable configuration plus mutable refinement state)
//   - Exchange turns (append-only records of completed agent invocations)
//   - Events (the ordered lifecycle stream consumed by callers)
//   - Fault categories (a closed classification of backend failures)
//
// The package intentionally keeps implementation concerns (provider clients,
// prompt assembly, scheduling, persistence) out of scope, exposing small types
// that the engine and its collaborators share. All exported identifiers include
// concise documentation to aid discoverability and external consumption.
package core
