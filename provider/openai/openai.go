// Package openai provides the OpenAI chat completions provider for Redraft.
// It also backs any OpenAI-compatible endpoint via NewCompatible.
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/credits"
	"github.com/hupe1980/redraft/provider"
)

// Options configures the OpenAI provider.
type Options struct {
	// APIKey is the OpenAI API key. If empty, the OPENAI_API_KEY environment
	// variable is used.
	APIKey string

	// BaseURL overrides the API endpoint. Mainly for testing.
	BaseURL string
}

// Provider wraps the Chat Completions API behind the provider.Provider
// interface. The kind field attributes errors and health to the backing
// service, which differs from openai for compatible endpoints.
type Provider struct {
	client  *openai.Client
	kind    core.ProviderKind
	retrier provider.Retrier
}

// New creates an OpenAI provider using the official client.
func New(optFns ...func(o *Options)) (*Provider, error) {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: no API key; set OPENAI_API_KEY or Options.APIKey")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(clientOpts...)

	return &Provider{
		client:  &client,
		kind:    core.ProviderOpenAI,
		retrier: provider.NewRetrier(),
	}, nil
}

// NewCompatible creates a provider for an OpenAI-compatible API served at
// baseURL, reporting kind for error and health attribution.
func NewCompatible(kind core.ProviderKind, baseURL, apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: no API key", kind)
	}

	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL))

	return &Provider{
		client:  &client,
		kind:    kind,
		retrier: provider.NewRetrier(),
	}, nil
}

// Kind implements provider.Provider.
func (p *Provider) Kind() core.ProviderKind { return p.kind }

// Generate implements provider.Provider using a non-streaming completion.
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (*provider.Response, error) {
	params := buildParams(req)

	var resp *openai.ChatCompletion
	err := p.retrier.Do(ctx, req.OnRetry, func() (bool, error) {
		var callErr error
		resp, callErr = p.client.Chat.Completions.New(ctx, params)
		if callErr != nil {
			return false, p.classify(callErr)
		}
		if len(resp.Choices) == 0 {
			return false, core.NewProviderError(p.kind, core.FaultServerError, errors.New("no choices returned"))
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	content := resp.Choices[0].Message.Content
	usage := provider.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if resp.Usage.TotalTokens == 0 {
		usage = estimateUsage(req, content)
	}

	return &provider.Response{
		Content: content,
		Model:   resp.Model,
		Usage:   &usage,
	}, nil
}

// GenerateStream implements provider.Provider. Content deltas are forwarded
// to onToken as they arrive; once any delta has been delivered a failure is
// surfaced rather than retried.
func (p *Provider) GenerateStream(ctx context.Context, req provider.GenerateRequest, onToken func(token string)) (*provider.StreamResult, error) {
	params := buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	var result *provider.StreamResult
	err := p.retrier.Do(ctx, req.OnRetry, func() (bool, error) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)

		var text strings.Builder
		var usage provider.TokenUsage
		delivered := false

		for stream.Next() {
			chunk := stream.Current()

			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				text.WriteString(choice.Delta.Content)
				delivered = true
				if onToken != nil {
					onToken(choice.Delta.Content)
				}
			}

			// With IncludeUsage set, the final chunk carries usage and no choices.
			if chunk.Usage.TotalTokens > 0 {
				usage.InputTokens = int(chunk.Usage.PromptTokens)
				usage.OutputTokens = int(chunk.Usage.CompletionTokens)
			}
		}
		if err := stream.Err(); err != nil {
			return delivered, p.classify(err)
		}

		content := text.String()
		if usage.InputTokens == 0 && usage.OutputTokens == 0 {
			usage = estimateUsage(req, content)
		}

		result = &provider.StreamResult{
			Content:      content,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		}
		return delivered, nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func buildParams(req provider.GenerateRequest) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       req.Model,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	return params
}

// estimateUsage fills token counts for endpoints that omit usage reporting.
func estimateUsage(req provider.GenerateRequest, content string) provider.TokenUsage {
	return provider.TokenUsage{
		InputTokens:  credits.EstimateTokens(req.SystemPrompt + req.UserPrompt),
		OutputTokens: credits.EstimateTokens(content),
	}
}

// classify maps SDK errors onto provider faults so the retrier can tell
// transient failures from fatal ones.
func (p *Provider) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return core.NewProviderError(p.kind, core.FaultFromStatus(apierr.StatusCode), err)
	}
	return core.NewProviderError(p.kind, core.FaultFromText(err.Error()), err)
}
