package config

import "time"

// RetentionConfig controls the cleanup service's data retention
// policy (spec §4.18): how long terminal tickets/tasks are kept
// before soft-deletion, how long transient event rows are kept before
// hard-deletion, and how often the sweep runs.
type RetentionConfig struct {
	// TicketRetentionDays is how long a ticket stays in status=done
	// (or a rejected/timed-out approval) before it is soft-deleted.
	TicketRetentionDays int `yaml:"ticket_retention_days"`

	// TaskRetentionDays is how long a task stays completed, failed,
	// or cancelled before it is soft-deleted.
	TaskRetentionDays int `yaml:"task_retention_days"`

	// EventTTL is how long an events table row survives before the
	// cleanup service hard-deletes it; events are replay/catch-up
	// state, not an audit trail, so they do not soft-delete.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TicketRetentionDays: 90,
		TaskRetentionDays:   30,
		EventTTL:            7 * 24 * time.Hour,
		CleanupInterval:     1 * time.Hour,
	}
}
