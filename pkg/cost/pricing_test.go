package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateKnownRate(t *testing.T) {
	table := DefaultPricingTable()
	calc, err := table.Calculate("anthropic", "claude-sonnet-4.5", 2500, 2500)
	require.NoError(t, err)
	assert.InDelta(t, 0.0075, calc.PromptCost, 1e-9)
	assert.InDelta(t, 0.0375, calc.CompletionCost, 1e-9)
	assert.InDelta(t, 0.045, calc.TotalCost, 1e-9)
}

func TestCalculateUnknownRate(t *testing.T) {
	table := DefaultPricingTable()
	_, err := table.Calculate("unknown", "model-x", 10, 10)
	require.Error(t, err)
}

func TestForecastWorkedExample(t *testing.T) {
	table := DefaultPricingTable()
	estimated, err := table.Forecast("anthropic", "claude-sonnet-4.5", 5000, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.54, estimated, 1e-9)
}

func TestSetOverridesRate(t *testing.T) {
	table := NewPricingTable(nil)
	table.Set("acme", "model-1", Rate{PromptTokenCost: 0.01, CompletionTokenCost: 0.02})
	calc, err := table.Calculate("acme", "model-1", 100, 100)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, calc.TotalCost, 1e-9)
}
