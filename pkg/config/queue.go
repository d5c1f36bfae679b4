package config

import "time"

// QueueConfig contains task-queue and worker-pool tuning. These values
// control how tasks are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of orchestrator worker goroutines per
	// conductor replica. Each worker independently polls and claims
	// dependency-ready tasks.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentAgents is the configured ceiling on simultaneously
	// running agents. It is validated and reported in the health
	// response; no claim path reads it, so it does not limit claims.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`

	// PollInterval is the base interval between dependency-ready
	// queries.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is random jitter added to PollInterval so
	// workers do not all query in lockstep.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// ReaperInterval is how often the timeout reaper scans for
	// running tasks whose wall-clock timeout has elapsed.
	ReaperInterval time.Duration `yaml:"reaper_interval"`

	// GracefulShutdownTimeout is a configured limit on how long workers
	// wait for in-flight claims during shutdown. No component reads it;
	// Pool.Stop waits for in-flight claims without a time limit.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// ExecutionMode selects the orchestrator dispatch strategy for
	// every worker started by cmd/conductor: "legacy" drives tasks to
	// completion in-process, "sandbox" spawns a remote sandbox per
	// task through the configured gateway. Mirrors
	// pkg/orchestrator.ExecutionMode without importing it here, so
	// pkg/config stays dependency-free of the orchestrator package.
	ExecutionMode string `yaml:"execution_mode"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentAgents:     10,
		PollInterval:            10 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		ReaperInterval:          30 * time.Second,
		GracefulShutdownTimeout: 15 * time.Minute,
		ExecutionMode:           "legacy",
	}
}
