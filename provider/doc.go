// Package provider abstracts generative-text backends behind a single
// interface so the scheduler can drive heterogeneous providers uniformly.
//
// Implementations live in the subpackages (anthropic, openai, perplexity) and
// map their SDK failures into the closed fault-category set in core, which is
// the only error vocabulary downstream code reasons about. The retry policy
// is written once here against those categories; a streaming call that has
// already surfaced tokens to a live viewer is never restarted.
package provider
