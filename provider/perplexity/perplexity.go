// Package perplexity provides the Perplexity Sonar provider for Redraft.
package perplexity

import (
	"fmt"
	"os"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/provider/openai"
)

// BaseURL is the Perplexity API endpoint.
const BaseURL = "https://api.perplexity.ai"

// Options configures the Perplexity provider.
type Options struct {
	// APIKey is the Perplexity API key. If empty, the PERPLEXITY_API_KEY
	// environment variable is used.
	APIKey string

	// BaseURL overrides the API endpoint. Mainly for testing.
	BaseURL string
}

// Provider is an OpenAI-compatible client pointed at the Perplexity API.
type Provider = openai.Provider

// New creates a Perplexity provider. Perplexity serves an OpenAI-compatible
// chat completions API, so the provider reuses the OpenAI client against the
// Perplexity endpoint while reporting the perplexity kind.
func New(optFns ...func(o *Options)) (*Provider, error) {
	opts := Options{
		BaseURL: BaseURL,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("PERPLEXITY_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("perplexity: no API key; set PERPLEXITY_API_KEY or Options.APIKey")
	}

	return openai.NewCompatible(core.ProviderPerplexity, opts.BaseURL, apiKey)
}
