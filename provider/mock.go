package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/credits"
)

// MockOptions configures a MockProvider.
type MockOptions struct {
	// Respond computes the full response for a request. The default echoes a
	// canned line naming the model. May be called concurrently.
	Respond func(req GenerateRequest) (string, error)
	// ChunkSize is the width of streamed fragments in bytes.
	ChunkSize int
	// Latency delays each streamed fragment and the whole non-streaming
	// response, letting tests observe the interleaving of concurrent calls.
	Latency time.Duration
	// FailStreamAfter, when positive, fails the stream after that many
	// fragments were delivered, simulating a connection dropped mid-response.
	FailStreamAfter int
	// StreamErr is the error injected by FailStreamAfter.
	StreamErr error
}

// MockProvider synthesizes responses locally. It exists for tests and
// runnable examples; no network is involved.
type MockProvider struct {
	kind core.ProviderKind
	opts MockOptions

	mu    sync.Mutex
	calls []GenerateRequest
}

// NewMockProvider constructs a mock of the given kind.
func NewMockProvider(kind core.ProviderKind, optFns ...func(o *MockOptions)) *MockProvider {
	opts := MockOptions{
		ChunkSize: 16,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Respond == nil {
		opts.Respond = func(req GenerateRequest) (string, error) {
			return fmt.Sprintf("Mock %s response.", req.Model), nil
		}
	}
	if opts.StreamErr == nil {
		opts.StreamErr = fmt.Errorf("mock stream interrupted")
	}

	return &MockProvider{kind: kind, opts: opts}
}

// Kind implements Provider.
func (m *MockProvider) Kind() core.ProviderKind { return m.kind }

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	m.record(req)

	if m.opts.Latency > 0 {
		if err := SleepContext(ctx, m.opts.Latency); err != nil {
			return nil, err
		}
	}

	content, err := m.opts.Respond(req)
	if err != nil {
		return nil, err
	}
	return &Response{
		Content: content,
		Model:   req.Model,
		Usage: &TokenUsage{
			InputTokens:  credits.EstimateTokens(req.SystemPrompt + req.UserPrompt),
			OutputTokens: credits.EstimateTokens(content),
		},
	}, nil
}

// GenerateStream implements Provider, slicing the response into fixed-width
// fragments.
func (m *MockProvider) GenerateStream(ctx context.Context, req GenerateRequest, onToken func(token string)) (*StreamResult, error) {
	m.record(req)

	content, err := m.opts.Respond(req)
	if err != nil {
		return nil, err
	}

	delivered := 0
	for start := 0; start < len(content); start += m.opts.ChunkSize {
		if m.opts.FailStreamAfter > 0 && delivered >= m.opts.FailStreamAfter {
			return nil, m.opts.StreamErr
		}
		if m.opts.Latency > 0 {
			if err := SleepContext(ctx, m.opts.Latency); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+m.opts.ChunkSize, len(content))
		if onToken != nil {
			onToken(content[start:end])
		}
		delivered++
	}

	return &StreamResult{
		Content:      content,
		InputTokens:  credits.EstimateTokens(req.SystemPrompt + req.UserPrompt),
		OutputTokens: credits.EstimateTokens(content),
	}, nil
}

// Calls returns the requests seen so far in arrival order.
func (m *MockProvider) Calls() []GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenerateRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) record(req GenerateRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
}
