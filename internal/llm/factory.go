package llm

import (
	"os"
	"strings"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, errors.New("no LLM provider configured (supported: openai, anthropic, ollama)")

	default:
		return nil, errors.Newf("unknown LLM provider: %s (supported: openai, anthropic, ollama)", config.Provider)
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config. A missing API key
// falls back to the provider's conventional environment variable.
func ConfigFromModel(c model.LLMConfig) Config {
	cfg := Config{
		Provider:          c.Provider,
		Model:             c.Model,
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		Timeout:           c.Timeout,
		MaxTokens:         c.MaxTokens,
		MaxInputTokens:    c.MaxInputTokens,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		HTTPProxy:         c.HTTPProxy,
		HTTPSProxy:        c.HTTPSProxy,
	}
	if cfg.APIKey == "" {
		cfg.APIKey = apiKeyFromEnv(cfg.Provider)
	}
	return cfg
}

func apiKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic", "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}
