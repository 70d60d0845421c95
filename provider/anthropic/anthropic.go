// Package anthropic provides the Anthropic Claude provider for Redraft.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/provider"
)

// DefaultMaxTokens bounds the response when a request does not set MaxTokens.
const DefaultMaxTokens = 16000

// Options configures the Anthropic provider.
type Options struct {
	// APIKey is the Anthropic API key. If empty, the ANTHROPIC_API_KEY
	// environment variable is used. Ignored when UseBedrock is set.
	APIKey string

	// UseBedrock routes requests through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string

	// BaseURL overrides the API endpoint. Mainly for testing.
	BaseURL string
}

// Provider wraps the Anthropic Messages API behind the provider.Provider interface.
type Provider struct {
	client     *anthropic.Client
	useBedrock bool
	retrier    provider.Retrier
}

// New creates an Anthropic provider using the official client.
func New(optFns ...func(o *Options)) (*Provider, error) {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption

	if opts.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if opts.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(opts.AWSRegion))
		}
		if opts.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.AWSProfile))
		}

		clientOpts = append(clientOpts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := opts.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic: no API key; set ANTHROPIC_API_KEY or Options.APIKey")
		}
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Provider{
		client:     &client,
		useBedrock: opts.UseBedrock,
		retrier:    provider.NewRetrier(),
	}, nil
}

// Kind implements provider.Provider.
func (p *Provider) Kind() core.ProviderKind { return core.ProviderAnthropic }

// Generate implements provider.Provider using the non-streaming Messages API.
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (*provider.Response, error) {
	params := p.buildParams(req)

	var resp *anthropic.Message
	err := p.retrier.Do(ctx, req.OnRetry, func() (bool, error) {
		var callErr error
		resp, callErr = p.client.Messages.New(ctx, params)
		if callErr != nil {
			return false, p.classify(callErr)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return &provider.Response{
		Content: text.String(),
		Model:   string(resp.Model),
		Usage: &provider.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GenerateStream implements provider.Provider. Text deltas are forwarded to
// onToken as they arrive; once any delta has been delivered a failure is
// surfaced rather than retried.
func (p *Provider) GenerateStream(ctx context.Context, req provider.GenerateRequest, onToken func(token string)) (*provider.StreamResult, error) {
	params := p.buildParams(req)

	var result *provider.StreamResult
	err := p.retrier.Do(ctx, req.OnRetry, func() (bool, error) {
		stream := p.client.Messages.NewStreaming(ctx, params)

		var text strings.Builder
		message := anthropic.Message{}
		delivered := false

		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				return delivered, p.classify(err)
			}

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					text.WriteString(delta.Text)
					delivered = true
					if onToken != nil {
						onToken(delta.Text)
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return delivered, p.classify(err)
		}

		result = &provider.StreamResult{
			Content:      text.String(),
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		}
		return delivered, nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (p *Provider) buildParams(req provider.GenerateRequest) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	model := anthropic.Model(req.Model)
	if p.useBedrock {
		model = translateModelForBedrock(model)
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	return params
}

// classify maps SDK errors onto provider faults so the retrier can tell
// transient failures from fatal ones.
func (p *Provider) classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return core.NewProviderError(core.ProviderAnthropic, core.FaultFromStatus(apierr.StatusCode), err)
	}
	return core.NewProviderError(core.ProviderAnthropic, core.FaultFromText(err.Error()), err)
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock
// cross-region inference profiles (us.anthropic.{model}-v1:0). Unknown names
// pass through unchanged.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		"claude-opus-4-5-20251101":   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		"claude-sonnet-4-5-20250929": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		"claude-sonnet-4-20250514":   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		"claude-3-7-sonnet-20250219": "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		"claude-3-5-haiku-20241022":  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}

	return model
}
