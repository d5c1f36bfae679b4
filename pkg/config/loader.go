package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the on-disk conductor.yaml structure. Every
// section is optional; omitted sections fall back to built-in
// defaults via Load.
type fileConfig struct {
	Defaults   *Defaults         `yaml:"defaults"`
	Queue      *QueueConfig      `yaml:"queue"`
	Monitoring *MonitoringConfig `yaml:"monitoring"`
	Validator  *ValidatorConfig  `yaml:"validator"`
	Budget     *BudgetConfig     `yaml:"budget"`
	Sandbox    *SandboxConfig    `yaml:"sandbox"`
	Database   *DatabaseConfig   `yaml:"database"`
	API        *APIConfig        `yaml:"api"`
	Retention  *RetentionConfig  `yaml:"retention"`
	LLM        *LLMConfig        `yaml:"llm"`
}

// Load reads conductor.yaml from configPath (if present), expands
// environment variables, merges it over the built-in defaults, and
// validates the result. configPath may be empty, in which case the
// built-in defaults plus environment-variable overrides are used.
func Load(ctx context.Context, configPath string) (*Config, error) {
	log := slog.With("config_path", configPath)

	fc, err := loadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		configPath: configPath,
		Defaults:   DefaultDefaults(),
		Queue:      DefaultQueueConfig(),
		Monitoring: DefaultMonitoringConfig(),
		Validator:  DefaultValidatorConfig(),
		Budget:     DefaultBudgetConfig(),
		Sandbox:    DefaultSandboxConfig(),
		Database:   DefaultDatabaseConfig(),
		API:        DefaultAPIConfig(),
		Retention:  DefaultRetentionConfig(),
		LLM:        DefaultLLMConfig(),
	}

	if err := mergeInto(cfg, fc); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.InfoContext(ctx, "configuration loaded", "stats", cfg.Stats())
	return cfg, nil
}

func loadFile(configPath string) (*fileConfig, error) {
	fc := &fileConfig{}
	if configPath == "" {
		return fc, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fc, nil
		}
		return nil, NewLoadError(filepath.Base(configPath), err)
	}

	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, NewLoadError(filepath.Base(configPath), fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}
	return fc, nil
}

// mergeInto overlays non-nil sections of fc onto the defaults already
// populated in cfg. mergo.Merge with WithOverride lets a partially
// specified YAML section (e.g. only queue.worker_count) override just
// that field while leaving sibling defaults intact.
func mergeInto(cfg *Config, fc *fileConfig) error {
	merges := []struct {
		dst, src interface{}
	}{
		{cfg.Defaults, fc.Defaults},
		{cfg.Queue, fc.Queue},
		{cfg.Monitoring, fc.Monitoring},
		{cfg.Validator, fc.Validator},
		{cfg.Budget, fc.Budget},
		{cfg.Sandbox, fc.Sandbox},
		{cfg.Database, fc.Database},
		{cfg.API, fc.API},
		{cfg.Retention, fc.Retention},
		{cfg.LLM, fc.LLM},
	}
	for _, m := range merges {
		if m.src == nil {
			continue
		}
		if err := mergo.Merge(m.dst, m.src, mergo.WithOverride); err != nil {
			return err
		}
	}
	return nil
}

// applyEnvOverrides layers environment variables over the merged
// configuration for secrets and deployment-specific values that
// should never live in a checked-in YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("SANDBOX_GATEWAY_URL"); v != "" {
		cfg.Sandbox.GatewayURL = v
	}
	if v := os.Getenv("API_LISTEN_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("WEBHOOK_SIGNING_SECRET"); v != "" {
		cfg.API.WebhookSigningSecret = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("EXECUTION_MODE"); v != "" {
		cfg.Queue.ExecutionMode = v
	}
}
