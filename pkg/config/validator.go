package config

// ValidatorConfig controls the validation pipeline wrapping task
// completion.
type ValidatorConfig struct {
	// Enabled toggles the validator entirely; when false, completed
	// tasks go straight to completed without a review pass.
	Enabled bool `yaml:"validation_enabled"`

	// MaxIterations bounds the iterate-on-failure retry loop before a
	// task is marked failed with the validator's last feedback.
	MaxIterations int `yaml:"max_validation_iterations" validate:"omitempty,min=1"`
}

// DefaultValidatorConfig returns the built-in validator defaults.
func DefaultValidatorConfig() *ValidatorConfig {
	return &ValidatorConfig{
		Enabled:       true,
		MaxIterations: 3,
	}
}
