// Package evaluation recovers structured self-evaluations from the
// free-text responses of generative agents.
//
// Agents are asked to score their own work against named criteria and to
// respond in a fixed JSON shape, but model output is inherently unreliable:
// the JSON may be fenced, bare, nested, malformed or missing entirely.
// Parse therefore layers three strategies (structured JSON, natural-language
// pattern matching, positional numeric fallback) and treats total absence as
// a normal outcome the caller records rather than an exceptional one.
//
// ExtractContent solves the complementary problem: separating the agent's
// actual deliverable (document text or critique) from the JSON wrapper it
// arrives in, surviving the truncated JSON an interrupted stream leaves
// behind.
package evaluation
