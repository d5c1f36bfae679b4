package cost

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/store"
)

type mockCostStore struct {
	costs   map[string]*store.CostRecord
	budgets map[string]*store.Budget
	tasks   map[string]*store.Task
}

func newMockCostStore() *mockCostStore {
	return &mockCostStore{
		costs:   make(map[string]*store.CostRecord),
		budgets: make(map[string]*store.Budget),
		tasks:   make(map[string]*store.Task),
	}
}

func (m *mockCostStore) RecordCost(_ context.Context, c *store.CostRecord) (*store.CostRecord, bool, error) {
	if c.ID == "" {
		c.ID = "cost-id"
	}
	key := c.TaskID
	if c.SessionID != nil && c.TurnIndex != nil {
		key = c.TaskID + "|" + *c.SessionID
	}
	if _, exists := m.costs[key]; exists {
		return m.costs[key], false, nil
	}
	cp := *c
	m.costs[key] = &cp
	return &cp, true, nil
}

func (m *mockCostStore) GetBudget(_ context.Context, id string) (*store.Budget, error) {
	b, ok := m.budgets[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return b, nil
}

func (m *mockCostStore) GetBudgetByScope(_ context.Context, scopeType string, scopeID *string) (*store.Budget, error) {
	for _, b := range m.budgets {
		if b.ScopeType != scopeType {
			continue
		}
		if scopeID == nil && b.ScopeID == nil {
			return b, nil
		}
		if scopeID != nil && b.ScopeID != nil && *scopeID == *b.ScopeID {
			return b, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *mockCostStore) CreateBudget(_ context.Context, b *store.Budget) (*store.Budget, error) {
	if b.ID == "" {
		b.ID = "budget-id"
	}
	m.budgets[b.ID] = b
	return b, nil
}

func (m *mockCostStore) ApplySpend(_ context.Context, _ *sql.Tx, budgetID string, amount float64) (*store.Budget, bool, bool, error) {
	b, ok := m.budgets[budgetID]
	if !ok {
		return nil, false, false, errs.ErrNotFound
	}
	wasOver := b.LimitAmount > 0 && b.SpentAmount/b.LimitAmount >= b.AlertThreshold
	b.SpentAmount += amount
	isOver := b.LimitAmount > 0 && b.SpentAmount/b.LimitAmount >= b.AlertThreshold
	crossed := isOver && !wasOver
	if crossed {
		b.AlertTriggered = true
	}
	exceeded := b.LimitAmount > 0 && b.SpentAmount > b.LimitAmount
	return b, crossed, exceeded, nil
}

func (m *mockCostStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

func (m *mockCostStore) GetTask(_ context.Context, id string) (*store.Task, error) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return task, nil
}

func TestRecordTurnChargesGlobalBudget(t *testing.T) {
	s := newMockCostStore()
	s.budgets["global"] = &store.Budget{ID: "global", ScopeType: "global", LimitAmount: 100, AlertThreshold: 0.8}
	e := New(s, DefaultPricingTable(), nil)

	rec, err := e.RecordTurn(context.Background(), TurnParams{
		TaskID: "t1", Provider: "anthropic", Model: "claude-sonnet-4.5",
		PromptTokens: 1000, CompletionTokens: 1000,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.018, rec.TotalCost, 1e-9)
	assert.InDelta(t, 0.018, s.budgets["global"].SpentAmount, 1e-9)
}

func TestRecordTurnIdempotentReplay(t *testing.T) {
	s := newMockCostStore()
	s.budgets["global"] = &store.Budget{ID: "global", ScopeType: "global", LimitAmount: 100}
	e := New(s, DefaultPricingTable(), nil)
	sessionID := "sess-1"
	turn := 0

	_, err := e.RecordTurn(context.Background(), TurnParams{
		TaskID: "t1", SessionID: &sessionID, TurnIndex: &turn,
		Provider: "anthropic", Model: "claude-sonnet-4.5", PromptTokens: 100, CompletionTokens: 100,
	})
	require.NoError(t, err)
	spentAfterFirst := s.budgets["global"].SpentAmount

	_, err = e.RecordTurn(context.Background(), TurnParams{
		TaskID: "t1", SessionID: &sessionID, TurnIndex: &turn,
		Provider: "anthropic", Model: "claude-sonnet-4.5", PromptTokens: 100, CompletionTokens: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, spentAfterFirst, s.budgets["global"].SpentAmount)
}

func TestRecordTurnEmitsExceeded(t *testing.T) {
	s := newMockCostStore()
	s.budgets["global"] = &store.Budget{ID: "global", ScopeType: "global", LimitAmount: 0.01, AlertThreshold: 0.8}
	e := New(s, DefaultPricingTable(), nil)

	_, err := e.RecordTurn(context.Background(), TurnParams{
		TaskID: "t1", Provider: "anthropic", Model: "claude-sonnet-4.5",
		PromptTokens: 1000, CompletionTokens: 1000,
	})
	require.NoError(t, err)
	assert.Greater(t, s.budgets["global"].SpentAmount, s.budgets["global"].LimitAmount)
}

func TestRecordSandboxCostSplitsConvention(t *testing.T) {
	s := newMockCostStore()
	e := New(s, DefaultPricingTable(), nil)

	rec, err := e.RecordSandboxCost(context.Background(), "t1", nil, nil, "anthropic", "claude-sonnet-4.5", 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, rec.PromptCost, 1e-9)
	assert.InDelta(t, 0.7, rec.CompletionCost, 1e-9)
	assert.InDelta(t, 1.0, rec.TotalCost, 1e-9)
}

func TestIsBudgetAvailableNoBudgetMeansTrue(t *testing.T) {
	s := newMockCostStore()
	e := New(s, DefaultPricingTable(), nil)
	ok, err := e.IsBudgetAvailable(context.Background(), "agent", nil, 1000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsBudgetAvailableRespectsLimit(t *testing.T) {
	s := newMockCostStore()
	s.budgets["agent"] = &store.Budget{ID: "agent", ScopeType: "agent", LimitAmount: 10, SpentAmount: 9}
	e := New(s, DefaultPricingTable(), nil)

	ok, err := e.IsBudgetAvailable(context.Background(), "agent", nil, 0.5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.IsBudgetAvailable(context.Background(), "agent", nil, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}
