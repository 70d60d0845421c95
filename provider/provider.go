package provider

import (
	"context"

	"github.com/hupe1980/redraft/core"
)

// GenerateRequest carries everything a single model invocation needs.
type GenerateRequest struct {
	// SystemPrompt frames the agent's role; may be empty.
	SystemPrompt string
	// UserPrompt is the composed task prompt.
	UserPrompt string
	// Model is the provider-specific model identifier.
	Model string
	// Temperature is the sampling temperature, typically 0 to 1.
	Temperature float64
	// MaxTokens caps the response length. Zero lets the implementation pick
	// its default (or omit the cap where the API allows).
	MaxTokens int
	// OnRetry, when set, is notified before each retry attempt with the
	// 1-based failed attempt, the attempt limit and a human-readable reason.
	OnRetry func(attempt, maxAttempts int, reason string)
}

// TokenUsage is the backend-reported token accounting for a call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the result of a non-streaming generation.
type Response struct {
	Content string      `json:"content"`
	Model   string      `json:"model"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

// StreamResult aggregates a completed streaming generation: the concatenated
// content plus token totals, backend-reported when the API supplies them and
// estimated at four characters per token otherwise.
type StreamResult struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Provider is a generative-text backend.
//
// Generate blocks until the full completion is available. GenerateStream
// invokes onToken for every text fragment as it arrives and returns the
// aggregate result; onToken may be nil when the caller only wants the
// aggregate. Both honor ctx cancellation and classify failures into the
// core fault categories.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*Response, error)
	GenerateStream(ctx context.Context, req GenerateRequest, onToken func(token string)) (*StreamResult, error)
	Kind() core.ProviderKind
}
