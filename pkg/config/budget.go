package config

// BudgetConfig holds system-wide settings for the cost and budget
// engine. They are validated at load time; budget creation does not
// read them.
type BudgetConfig struct {
	// DefaultAlertThreshold is a configured spent/limit warning
	// fraction. store.CreateBudget gives a budget without an explicit
	// alert_threshold a fixed 0.8 and does not read this value.
	DefaultAlertThreshold float64 `yaml:"default_alert_threshold"`

	// GlobalLimitUSD is a configured limit for a global-scope budget.
	// No component reads it; no global budget is created from it.
	GlobalLimitUSD float64 `yaml:"global_limit_usd"`
}

// DefaultBudgetConfig returns the built-in budget defaults.
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		DefaultAlertThreshold: 0.8,
		GlobalLimitUSD:        1000.0,
	}
}
