package config

import "time"

// APIConfig controls the HTTP/WebSocket API server.
type APIConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// WebhookSigningSecret authenticates inbound Git-provider webhooks
	// (commit/PR status updates). Loaded from the environment, never
	// from the YAML file.
	WebhookSigningSecret string `yaml:"-"`
}

// DefaultAPIConfig returns the built-in API server defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		ListenAddr:      ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}
