package providers

import (
	"fmt"

	"github.com/nextlevelbuilder/nutribot/internal/config"
)

// FromConfig builds the configured chat provider.
func FromConfig(cfg *config.Config) (Provider, error) {
	switch cfg.Agent.Provider {
	case "openai", "":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but NUTRIBOT_OPENAI_API_KEY is not set")
		}
		return NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.APIBase, cfg.Agent.Model), nil
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but NUTRIBOT_ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicProvider(cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.APIBase, cfg.Agent.Model), nil
	case "openrouter":
		if cfg.Providers.OpenRouter.APIKey == "" {
			return nil, fmt.Errorf("openrouter provider selected but NUTRIBOT_OPENROUTER_API_KEY is not set")
		}
		base := cfg.Providers.OpenRouter.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		return NewOpenAIProvider("openrouter", cfg.Providers.OpenRouter.APIKey,
			base, cfg.Agent.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Agent.Provider)
	}
}

// EmbedderFromConfig returns an embedder when OpenAI credentials are
// available, or nil. Callers fall back to keyword retrieval on nil.
func EmbedderFromConfig(cfg *config.Config) Embedder {
	if cfg.Providers.OpenAI.APIKey == "" {
		return nil
	}
	return NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenAI.APIBase, cfg.Agent.Model)
}
