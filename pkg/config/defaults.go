package config

// Defaults contains system-wide defaults applied when a ticket, task,
// or agent does not override a value.
type Defaults struct {
	// Priority is the inherited task priority when a ticket does not
	// specify one: one of CRITICAL, HIGH, MEDIUM, LOW.
	Priority string `yaml:"priority,omitempty" validate:"omitempty,oneof=CRITICAL HIGH MEDIUM LOW"`

	// TaskTimeoutSeconds is used when a task does not set its own
	// timeout_seconds.
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds,omitempty" validate:"omitempty,min=1"`

	// ApprovalTimeoutSeconds bounds how long a ticket may sit in
	// approval_status=pending_review before auto-rejection.
	ApprovalTimeoutSeconds int `yaml:"approval_timeout_seconds,omitempty"`

	// AverageTokensPerTask feeds cost forecasting when no historical
	// data exists yet for a ticket or agent.
	AverageTokensPerTask int `yaml:"average_tokens_per_task,omitempty"`

	// ForecastBufferMultiplier inflates a cost forecast to leave
	// headroom before a pre-flight budget check rejects a task.
	ForecastBufferMultiplier float64 `yaml:"forecast_buffer_multiplier,omitempty"`
}

// DefaultDefaults returns the built-in system-wide defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		Priority:                 "MEDIUM",
		TaskTimeoutSeconds:       3600,
		ApprovalTimeoutSeconds:   86400,
		AverageTokensPerTask:     5000,
		ForecastBufferMultiplier: 1.2,
	}
}
