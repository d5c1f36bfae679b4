// Package config loads and validates conductor configuration: queue
// tuning, monitoring-loop intervals, validator policy, budget defaults,
// and sandbox gateway settings. All values layer over hard-coded
// defaults, overridden by a YAML file, then by environment variables.
package config

// Config is the umbrella configuration object returned by Load and
// threaded through the rest of the application.
type Config struct {
	configPath string

	Defaults   *Defaults
	Queue      *QueueConfig
	Monitoring *MonitoringConfig
	Validator  *ValidatorConfig
	Budget     *BudgetConfig
	Sandbox    *SandboxConfig
	Database   *DatabaseConfig
	API        *APIConfig
	Retention  *RetentionConfig
	LLM        *LLMConfig
}

// ConfigPath returns the path the configuration was loaded from, or
// the empty string when running purely off defaults/env.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// ConfigStats summarizes the loaded configuration for startup logging.
type ConfigStats struct {
	WorkerCount         int
	MaxConcurrentAgents int
	GuardianInterval    string
	ConductorInterval   string
	ValidationEnabled   bool
}

// Stats returns a snapshot of the interesting configuration knobs.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		WorkerCount:         c.Queue.WorkerCount,
		MaxConcurrentAgents: c.Queue.MaxConcurrentAgents,
		GuardianInterval:    c.Monitoring.GuardianInterval.String(),
		ConductorInterval:   c.Monitoring.ConductorInterval.String(),
		ValidationEnabled:   c.Validator.Enabled,
	}
}
