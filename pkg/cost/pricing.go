// Package cost implements the cost-recording and budget-enforcement
// engine (spec §4.6): per-turn cost calculation against a pricing
// table, immutable cost records, budget threshold/exceeded detection,
// and pre-flight forecasting.
package cost

import (
	"fmt"
	"sync"
)

// Rate is the per-token price for one provider/model pair.
type Rate struct {
	PromptTokenCost     float64
	CompletionTokenCost float64
}

// PricingTable holds provider→model→Rate, loaded once at startup and
// read concurrently by every worker computing a cost record.
type PricingTable struct {
	mu    sync.RWMutex
	rates map[string]map[string]Rate
}

// NewPricingTable builds a pricing table from a nested
// provider→model→Rate map, taking a defensive copy so later mutation
// of the caller's map cannot affect already-running workers.
func NewPricingTable(rates map[string]map[string]Rate) *PricingTable {
	copied := make(map[string]map[string]Rate, len(rates))
	for provider, models := range rates {
		m := make(map[string]Rate, len(models))
		for model, rate := range models {
			m[model] = rate
		}
		copied[provider] = m
	}
	return &PricingTable{rates: copied}
}

// DefaultPricingTable returns built-in rates for the handful of
// providers/models the conductor ships talking to out of the box.
// cmd/conductor uses this table as is; no configuration overrides it.
func DefaultPricingTable() *PricingTable {
	return NewPricingTable(map[string]map[string]Rate{
		"anthropic": {
			"claude-sonnet-4.5": {PromptTokenCost: 0.000003, CompletionTokenCost: 0.000015},
			"claude-opus-4.1":   {PromptTokenCost: 0.000015, CompletionTokenCost: 0.000075},
		},
		"openai": {
			"gpt-4o":      {PromptTokenCost: 0.0000025, CompletionTokenCost: 0.00001},
			"gpt-4o-mini": {PromptTokenCost: 0.00000015, CompletionTokenCost: 0.0000006},
		},
	})
}

// ErrRateNotFound is returned by Rate when no pricing entry exists for
// the given provider/model pair.
type ErrRateNotFound struct {
	Provider, Model string
}

func (e *ErrRateNotFound) Error() string {
	return fmt.Sprintf("no pricing rate for provider %q model %q", e.Provider, e.Model)
}

// Get returns the rate for provider/model.
func (t *PricingTable) Get(provider, model string) (Rate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	models, ok := t.rates[provider]
	if !ok {
		return Rate{}, &ErrRateNotFound{Provider: provider, Model: model}
	}
	rate, ok := models[model]
	if !ok {
		return Rate{}, &ErrRateNotFound{Provider: provider, Model: model}
	}
	return rate, nil
}

// Set installs or overrides the rate for one provider/model pair.
func (t *PricingTable) Set(provider, model string, rate Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rates[provider] == nil {
		t.rates[provider] = make(map[string]Rate)
	}
	t.rates[provider][model] = rate
}

// Calculation is the breakdown produced by calculate_cost.
type Calculation struct {
	PromptCost     float64
	CompletionCost float64
	TotalCost      float64
}

// Calculate implements calculate_cost(provider, model, pt, ct).
func (t *PricingTable) Calculate(provider, model string, promptTokens, completionTokens int) (Calculation, error) {
	rate, err := t.Get(provider, model)
	if err != nil {
		return Calculation{}, err
	}
	promptCost := float64(promptTokens) * rate.PromptTokenCost
	completionCost := float64(completionTokens) * rate.CompletionTokenCost
	return Calculation{
		PromptCost:     promptCost,
		CompletionCost: completionCost,
		TotalCost:      promptCost + completionCost,
	}, nil
}
