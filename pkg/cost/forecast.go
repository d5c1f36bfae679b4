package cost

// BufferMultiplier inflates a raw forecast to leave headroom before a
// pre-flight budget check rejects work; matches
// config.Defaults.ForecastBufferMultiplier's default.
const BufferMultiplier = 1.2

// Forecast implements the §4.6 forecasting formula:
//
//	estimated_cost = task_count * cost_per_task * buffer_multiplier
//
// cost_per_task is computed assuming a 50/50 prompt/completion split
// of avgTokensPerTask against the given provider/model rate. With
// avg_tokens_per_task=5000, provider=anthropic,
// model=claude-sonnet-4.5, and taskCount=10, this yields
// 0.045*10*1.2 = 0.54.
func (t *PricingTable) Forecast(provider, model string, avgTokensPerTask, taskCount int) (float64, error) {
	half := avgTokensPerTask / 2
	calc, err := t.Calculate(provider, model, half, avgTokensPerTask-half)
	if err != nil {
		return 0, err
	}
	return calc.TotalCost * float64(taskCount) * BufferMultiplier, nil
}
