// Package prompt assembles the system and user prompts for every agent turn.
//
// Prompts are plain text built from fixed section markers: reference
// materials, exchange history, the working document, the agent's task and the
// evaluation format the agent must answer in. Task instructions depend on the
// agent's phase: the writer drafts or revises, editors critique without
// rewriting, and the synthesizer turns a round's critiques into one
// prioritized revision directive.
//
// Role descriptions may carry {{.placeholders}}; these are rendered against
// session values (title, round, agent name) before use, and left verbatim if
// rendering fails so a malformed template never loses a turn.
package prompt
