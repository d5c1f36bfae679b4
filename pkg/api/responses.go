package api

import "github.com/r3e-conductor/conductor/pkg/store"

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status        string             `json:"status"`
	Configuration ConfigurationStats `json:"configuration,omitempty"`
}

// ConfigurationStats summarizes the loaded configuration for the
// health endpoint.
type ConfigurationStats struct {
	WorkerCount         int  `json:"worker_count"`
	MaxConcurrentAgents int  `json:"max_concurrent_agents"`
	ValidationEnabled   bool `json:"validation_enabled"`
}

// TicketResponse mirrors store.Ticket for JSON responses.
type TicketResponse struct {
	*store.Ticket
}

// TaskResponse mirrors store.Task for JSON responses.
type TaskResponse struct {
	*store.Task
}

// SpawnSandboxResponse is returned by POST /api/v1/sandboxes/spawn.
type SpawnSandboxResponse struct {
	SandboxID string `json:"sandbox_id"`
}
