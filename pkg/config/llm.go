package config

import "time"

// LLMConfig configures the Guardian/Conductor analyzers' connection
// to a large language model provider.
type LLMConfig struct {
	// BaseURL is the provider's API endpoint. Empty means no provider
	// is configured and the analyzers fall back to a degraded
	// in-process client rather than failing startup.
	BaseURL string `yaml:"base_url"`

	// Model is the default model name passed on every Generate call
	// unless a caller overrides it.
	Model string `yaml:"model"`

	// APIKey authenticates with the provider. Loaded from the
	// environment, never from the YAML file.
	APIKey string `yaml:"-"`

	// RequestTimeout bounds a single Generate call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:          "claude-sonnet-4.5",
		RequestTimeout: 30 * time.Second,
	}
}
