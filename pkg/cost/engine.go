package cost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// costStore is the subset of *store.Store the cost engine depends on.
type costStore interface {
	RecordCost(ctx context.Context, c *store.CostRecord) (*store.CostRecord, bool, error)
	GetBudget(ctx context.Context, id string) (*store.Budget, error)
	GetBudgetByScope(ctx context.Context, scopeType string, scopeID *string) (*store.Budget, error)
	CreateBudget(ctx context.Context, b *store.Budget) (*store.Budget, error)
	ApplySpend(ctx context.Context, tx *sql.Tx, budgetID string, amount float64) (budget *store.Budget, crossedThreshold, exceeded bool, err error)
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	GetTask(ctx context.Context, id string) (*store.Task, error)
}

// Engine implements the cost and budget operations of spec §4.6 on
// top of pkg/store's cost/budget tables and a loaded PricingTable.
type Engine struct {
	store     costStore
	pricing   *PricingTable
	publisher *events.Publisher
}

// New creates an Engine backed by store, pricing, and publisher.
func New(s costStore, pricing *PricingTable, publisher *events.Publisher) *Engine {
	return &Engine{store: s, pricing: pricing, publisher: publisher}
}

// TurnParams describes one reported LLM turn to record.
type TurnParams struct {
	TaskID           string
	AgentID          *string
	SandboxID        *string
	BillingAccountID *string
	Provider         string
	Model            string
	SessionID        *string
	TurnIndex        *int
	PromptTokens     int
	CompletionTokens int
}

// RecordTurn implements steps 1-4 of §4.6: calculate_cost, persist an
// immutable cost record, emit cost.recorded, and roll the charge into
// every budget whose scope covers this record.
func (e *Engine) RecordTurn(ctx context.Context, p TurnParams) (*store.CostRecord, error) {
	calc, err := e.pricing.Calculate(p.Provider, p.Model, p.PromptTokens, p.CompletionTokens)
	if err != nil {
		return nil, fmt.Errorf("calculate cost: %w", err)
	}

	record := &store.CostRecord{
		TaskID:           p.TaskID,
		AgentID:          p.AgentID,
		SandboxID:        p.SandboxID,
		BillingAccountID: p.BillingAccountID,
		Provider:         p.Provider,
		Model:            p.Model,
		SessionID:        p.SessionID,
		TurnIndex:        p.TurnIndex,
		PromptTokens:     p.PromptTokens,
		CompletionTokens: p.CompletionTokens,
		TotalTokens:      p.PromptTokens + p.CompletionTokens,
		PromptCost:       calc.PromptCost,
		CompletionCost:   calc.CompletionCost,
		TotalCost:        calc.TotalCost,
	}
	return e.persistAndSpend(ctx, record)
}

// RecordSandboxCost implements the sandbox-reported cost path: the
// sandbox only reports a total cost_usd, so the prompt/completion
// split is reconstructed by the 0.3/0.7 convention; total_cost is
// always authoritative.
func (e *Engine) RecordSandboxCost(ctx context.Context, taskID string, agentID, sandboxID *string, provider, model string, costUSD float64) (*store.CostRecord, error) {
	record := &store.CostRecord{
		TaskID:         taskID,
		AgentID:        agentID,
		SandboxID:      sandboxID,
		Provider:       provider,
		Model:          model,
		PromptCost:     0.3 * costUSD,
		CompletionCost: 0.7 * costUSD,
		TotalCost:      costUSD,
	}
	return e.persistAndSpend(ctx, record)
}

func (e *Engine) persistAndSpend(ctx context.Context, record *store.CostRecord) (*store.CostRecord, error) {
	saved, inserted, err := e.store.RecordCost(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("record cost: %w", err)
	}
	if !inserted {
		// Idempotent replay of an already-recorded turn: the caller
		// retried after a crash between recording and acknowledging.
		// Budgets were already charged on the original insert.
		return saved, nil
	}

	e.publish(ctx, events.TypeCostRecorded, "", map[string]interface{}{
		"cost_record_id": saved.ID,
		"task_id":        saved.TaskID,
		"total_cost":     saved.TotalCost,
	})

	for _, scope := range e.scopesFor(ctx, saved) {
		e.applyToBudgetScope(ctx, scope.scopeType, scope.scopeID, saved.TotalCost)
	}
	return saved, nil
}

type budgetScope struct {
	scopeType string
	scopeID   *string
}

// scopesFor returns every budget scope a cost record should be
// charged against: global always, agent directly when set, and the
// owning task's ticket/phase resolved through the Task row.
func (e *Engine) scopesFor(ctx context.Context, rec *store.CostRecord) []budgetScope {
	scopes := []budgetScope{{scopeType: "global"}}

	if rec.AgentID != nil {
		scopes = append(scopes, budgetScope{scopeType: "agent", scopeID: rec.AgentID})
	}

	if rec.TaskID != "" {
		if task, err := e.store.GetTask(ctx, rec.TaskID); err == nil {
			ticketID := task.TicketID
			scopes = append(scopes, budgetScope{scopeType: "ticket", scopeID: &ticketID})
			phase := task.Phase
			scopes = append(scopes, budgetScope{scopeType: "phase", scopeID: &phase})
		}
	}
	return scopes
}

func (e *Engine) applyToBudgetScope(ctx context.Context, scopeType string, scopeID *string, amount float64) {
	budget, err := e.store.GetBudgetByScope(ctx, scopeType, scopeID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return
		}
		return
	}

	var crossedThreshold, exceeded bool
	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, ct, ex, applyErr := e.store.ApplySpend(ctx, tx, budget.ID, amount)
		crossedThreshold, exceeded = ct, ex
		return applyErr
	})
	if err != nil {
		return
	}

	if crossedThreshold {
		e.publish(ctx, events.TypeCostBudgetWarning, "", map[string]interface{}{
			"budget_id":  budget.ID,
			"scope_type": scopeType,
			"scope_id":   scopeID,
		})
	}
	if exceeded {
		e.publish(ctx, events.TypeCostBudgetExceeded, "", map[string]interface{}{
			"budget_id":  budget.ID,
			"scope_type": scopeType,
			"scope_id":   scopeID,
		})
	}
}

// IsBudgetAvailable implements is_budget_available(scope,
// estimated_cost): true when no budget governs scope, otherwise true
// only if spent+estimated does not exceed the limit.
func (e *Engine) IsBudgetAvailable(ctx context.Context, scopeType string, scopeID *string, estimatedCost float64) (bool, error) {
	budget, err := e.store.GetBudgetByScope(ctx, scopeType, scopeID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("get budget: %w", err)
	}
	return budget.SpentAmount+estimatedCost <= budget.LimitAmount, nil
}

// CreateBudgetRequest is the caller-supplied shape for creating a new
// scoped spending limit.
type CreateBudgetRequest struct {
	ScopeType      string
	ScopeID        *string
	LimitAmount    float64
	AlertThreshold float64
}

// CreateBudget persists a new budget and emits budget.created.
func (e *Engine) CreateBudget(ctx context.Context, req CreateBudgetRequest) (*store.Budget, error) {
	b := &store.Budget{
		ScopeType:      req.ScopeType,
		ScopeID:        req.ScopeID,
		LimitAmount:    req.LimitAmount,
		AlertThreshold: req.AlertThreshold,
	}
	created, err := e.store.CreateBudget(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("create budget: %w", err)
	}
	e.publish(ctx, events.TypeBudgetCreated, "", map[string]interface{}{
		"budget_id":  created.ID,
		"scope_type": created.ScopeType,
		"scope_id":   created.ScopeID,
	})
	return created, nil
}

func (e *Engine) publish(ctx context.Context, eventType, scopeChannel string, payload interface{}) {
	if e.publisher == nil {
		return
	}
	_ = e.publisher.Publish(ctx, eventType, scopeChannel, payload)
}
