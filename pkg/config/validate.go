package config

import "fmt"

// validate checks invariants across the merged configuration that a
// struct tag alone cannot express.
func validate(cfg *Config) error {
	if cfg.Queue.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("must be >= 1, got %d", cfg.Queue.WorkerCount))
	}
	if cfg.Queue.MaxConcurrentAgents < 1 {
		return NewValidationError("queue", "max_concurrent_agents", fmt.Errorf("must be >= 1, got %d", cfg.Queue.MaxConcurrentAgents))
	}
	if cfg.Validator.MaxIterations < 1 {
		return NewValidationError("validator", "max_validation_iterations", fmt.Errorf("must be >= 1, got %d", cfg.Validator.MaxIterations))
	}
	if cfg.Budget.DefaultAlertThreshold <= 0 || cfg.Budget.DefaultAlertThreshold > 1 {
		return NewValidationError("budget", "default_alert_threshold", fmt.Errorf("must be in (0, 1], got %v", cfg.Budget.DefaultAlertThreshold))
	}
	if cfg.Monitoring.AnalysisConcurrency < 1 {
		return NewValidationError("monitoring", "analysis_concurrency", fmt.Errorf("must be >= 1, got %d", cfg.Monitoring.AnalysisConcurrency))
	}
	if cfg.Database.Database == "" {
		return NewValidationError("database", "database", ErrMissingRequiredField)
	}
	if cfg.Queue.ExecutionMode != "legacy" && cfg.Queue.ExecutionMode != "sandbox" {
		return NewValidationError("queue", "execution_mode", fmt.Errorf("must be \"legacy\" or \"sandbox\", got %q", cfg.Queue.ExecutionMode))
	}
	return nil
}
