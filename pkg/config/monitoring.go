package config

import "time"

// MonitoringConfig tunes the monitoring loop that orchestrates the
// Guardian and Conductor analyses.
type MonitoringConfig struct {
	// GuardianInterval is how often each live agent is re-analyzed
	// for trajectory alignment.
	GuardianInterval time.Duration `yaml:"guardian_interval"`

	// ConductorInterval is how often the system-wide coherence and
	// duplicate-work analysis runs.
	ConductorInterval time.Duration `yaml:"conductor_interval"`

	// HealthCheckInterval drives a lightweight liveness pass that
	// does not invoke the LLM.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// AnalysisConcurrency bounds how many Guardian analyses run
	// concurrently within one monitoring cycle.
	AnalysisConcurrency int `yaml:"analysis_concurrency"`

	// IdleThreshold is how long a sandbox may go without a work
	// event before the Idle Monitor terminates it.
	IdleThreshold time.Duration `yaml:"idle_threshold"`

	// AutoSteeringEnabled gates whether Guardian interventions are
	// actually executed, versus recorded with executed=false.
	AutoSteeringEnabled bool `yaml:"auto_steering_enabled"`

	// DuplicateSimilarityThreshold is the score above which two
	// agents in the same phase are flagged as duplicate work.
	DuplicateSimilarityThreshold float64 `yaml:"duplicate_similarity_threshold"`

	// StaleHeartbeatThreshold is how long an agent may go without a
	// heartbeat before the health check marks it health=degraded.
	StaleHeartbeatThreshold time.Duration `yaml:"stale_heartbeat_threshold"`

	// RestartThreshold is how long an agent may go without a
	// heartbeat before the health check force-fails it and registers
	// a replacement in its place (spec.md §1 item 3's automatic
	// restart). Longer than StaleHeartbeatThreshold so an agent is
	// degraded for one full window before being replaced.
	RestartThreshold time.Duration `yaml:"restart_threshold"`
}

// DefaultMonitoringConfig returns the built-in monitoring defaults.
func DefaultMonitoringConfig() *MonitoringConfig {
	return &MonitoringConfig{
		GuardianInterval:             60 * time.Second,
		ConductorInterval:            300 * time.Second,
		HealthCheckInterval:          30 * time.Second,
		AnalysisConcurrency:          5,
		IdleThreshold:                3 * time.Minute,
		AutoSteeringEnabled:          true,
		DuplicateSimilarityThreshold: 0.7,
		StaleHeartbeatThreshold:      2 * time.Minute,
		RestartThreshold:             5 * time.Minute,
	}
}
