package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/provider"
	"github.com/hupe1980/redraft/provider/anthropic"
	"github.com/hupe1980/redraft/provider/openai"
	"github.com/hupe1980/redraft/provider/perplexity"
)

// cliConfig holds everything the CLI resolves outside the session file:
// provider credentials, Bedrock routing and local data placement.
type cliConfig struct {
	DataDir    string          `mapstructure:"data_dir"`
	User       string          `mapstructure:"user"`
	Anthropic  anthropicConfig `mapstructure:"anthropic"`
	OpenAI     keyConfig       `mapstructure:"openai"`
	Perplexity keyConfig       `mapstructure:"perplexity"`
}

type keyConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type anthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// loadCLIConfig resolves CLI settings with the usual precedence: environment
// variables (the canonical provider key names, then REDRAFT_*) over
// ~/.redraft.yaml over defaults.
func loadCLIConfig() (*cliConfig, error) {
	v := viper.New()

	v.SetDefault("user", "local")

	v.SetConfigName(".redraft")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading ~/.redraft.yaml: %w", err)
		}
	}

	v.SetEnvPrefix("REDRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The canonical provider variables win over the prefixed forms.
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("perplexity.api_key", "PERPLEXITY_API_KEY")

	cfg := &cliConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Allow ${VAR} references in config-file keys.
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.OpenAI.APIKey = os.ExpandEnv(cfg.OpenAI.APIKey)
	cfg.Perplexity.APIKey = os.ExpandEnv(cfg.Perplexity.APIKey)

	return cfg, nil
}

// buildProviders constructs a client for each requested provider kind. Run
// passes the kinds the session's active agents name; health passes every kind
// with a resolvable credential.
func buildProviders(cfg *cliConfig, kinds []core.ProviderKind) (map[core.ProviderKind]provider.Provider, error) {
	providers := make(map[core.ProviderKind]provider.Provider, len(kinds))

	for _, kind := range kinds {
		var (
			p   provider.Provider
			err error
		)

		switch kind {
		case core.ProviderAnthropic:
			p, err = anthropic.New(func(o *anthropic.Options) {
				o.APIKey = cfg.Anthropic.APIKey
				o.UseBedrock = cfg.Anthropic.UseBedrock
				o.AWSRegion = cfg.Anthropic.AWSRegion
				o.AWSProfile = cfg.Anthropic.AWSProfile
			})
		case core.ProviderOpenAI:
			p, err = openai.New(func(o *openai.Options) {
				o.APIKey = cfg.OpenAI.APIKey
			})
		case core.ProviderPerplexity:
			p, err = perplexity.New(func(o *perplexity.Options) {
				o.APIKey = cfg.Perplexity.APIKey
			})
		default:
			err = fmt.Errorf("unknown provider kind %q", kind)
		}
		if err != nil {
			return nil, err
		}

		providers[kind] = p
	}

	return providers, nil
}

// sessionProviderKinds lists the distinct provider kinds the active agents
// use, in roster order.
func sessionProviderKinds(cfg core.SessionConfig) []core.ProviderKind {
	seen := make(map[core.ProviderKind]bool, len(cfg.Agents))

	var kinds []core.ProviderKind
	for _, a := range cfg.Agents {
		if !a.IsActive || seen[a.Provider] {
			continue
		}
		seen[a.Provider] = true
		kinds = append(kinds, a.Provider)
	}

	return kinds
}

// configuredProviderKinds lists every kind the CLI has a credential for,
// checking the config file and the canonical environment variables.
func configuredProviderKinds(cfg *cliConfig) []core.ProviderKind {
	var kinds []core.ProviderKind

	if cfg.Anthropic.APIKey != "" || cfg.Anthropic.UseBedrock || os.Getenv("ANTHROPIC_API_KEY") != "" {
		kinds = append(kinds, core.ProviderAnthropic)
	}
	if cfg.OpenAI.APIKey != "" || os.Getenv("OPENAI_API_KEY") != "" {
		kinds = append(kinds, core.ProviderOpenAI)
	}
	if cfg.Perplexity.APIKey != "" || os.Getenv("PERPLEXITY_API_KEY") != "" {
		kinds = append(kinds, core.ProviderPerplexity)
	}

	return kinds
}
