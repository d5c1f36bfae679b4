package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordCost inserts a cost record. When sessionID/turnIndex are set,
// the insert is idempotent on (task_id, session_id, turn_index): a
// duplicate invocation (retry after a crash between recording cost and
// acknowledging the caller) is silently ignored rather than
// double-charged.
func (s *Store) RecordCost(ctx context.Context, c *CostRecord) (*CostRecord, bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.RecordedAt.IsZero() {
		c.RecordedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_records (id, task_id, agent_id, sandbox_id, billing_account_id,
			provider, model, session_id, turn_index, prompt_tokens, completion_tokens,
			total_tokens, prompt_cost, completion_cost, total_cost, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (task_id, session_id, turn_index) DO NOTHING`,
		c.ID, c.TaskID, c.AgentID, c.SandboxID, c.BillingAccountID,
		c.Provider, c.Model, c.SessionID, c.TurnIndex, c.PromptTokens, c.CompletionTokens,
		c.TotalTokens, c.PromptCost, c.CompletionCost, c.TotalCost, c.RecordedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert cost record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	return c, n > 0, nil
}

// TaskCostTotal sums every recorded cost for a task.
func (s *Store) TaskCostTotal(ctx context.Context, taskID string) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(total_cost) FROM cost_records WHERE task_id = $1`, taskID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum task cost: %w", err)
	}
	return total.Float64, nil
}

// GetBudget fetches a budget by id.
func (s *Store) GetBudget(ctx context.Context, id string) (*Budget, error) {
	row := s.db.QueryRowContext(ctx, budgetSelect+` WHERE id = $1`, id)
	return scanBudget(row)
}

// GetBudgetByScope fetches the budget governing a scope. scopeID is
// nil for scope_type=global.
func (s *Store) GetBudgetByScope(ctx context.Context, scopeType string, scopeID *string) (*Budget, error) {
	var row *sql.Row
	if scopeID == nil {
		row = s.db.QueryRowContext(ctx, budgetSelect+` WHERE scope_type = $1 AND scope_id IS NULL`, scopeType)
	} else {
		row = s.db.QueryRowContext(ctx, budgetSelect+` WHERE scope_type = $1 AND scope_id = $2`, scopeType, *scopeID)
	}
	return scanBudget(row)
}

// CreateBudget persists a new scoped spending limit.
func (s *Store) CreateBudget(ctx context.Context, b *Budget) (*Budget, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.PeriodStart.IsZero() {
		b.PeriodStart = time.Now()
	}
	if b.AlertThreshold == 0 {
		b.AlertThreshold = 0.8
	}
	b.RemainingAmount = b.LimitAmount - b.SpentAmount
	if b.RemainingAmount < 0 {
		b.RemainingAmount = 0
	}

	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budgets (id, scope_type, scope_id, limit_amount, spent_amount,
			remaining_amount, period_start, period_end, alert_threshold, alert_triggered,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		b.ID, b.ScopeType, b.ScopeID, b.LimitAmount, b.SpentAmount,
		b.RemainingAmount, b.PeriodStart, b.PeriodEnd, b.AlertThreshold, b.AlertTriggered,
		b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert budget: %w", err)
	}
	return b, nil
}

// ApplySpend atomically adds amount to a budget's spent_amount inside
// the caller-supplied transaction (cost.Engine opens one per budget,
// after the cost record is already inserted), recomputes remaining_amount,
// and reports whether this call is the one that crossed alert_threshold
// (so the caller fires exactly one BudgetThreshold event, not one per
// subsequent spend).
func (s *Store) ApplySpend(ctx context.Context, tx *sql.Tx, budgetID string, amount float64) (budget *Budget, crossedThreshold, exceeded bool, err error) {
	row := tx.QueryRowContext(ctx, budgetSelect+` WHERE id = $1 FOR UPDATE`, budgetID)
	b, err := scanBudget(row)
	if err != nil {
		return nil, false, false, err
	}

	wasOverThreshold := b.LimitAmount > 0 && b.SpentAmount/b.LimitAmount >= b.AlertThreshold

	b.SpentAmount += amount
	b.RemainingAmount = b.LimitAmount - b.SpentAmount
	if b.RemainingAmount < 0 {
		b.RemainingAmount = 0
	}
	isOverThreshold := b.LimitAmount > 0 && b.SpentAmount/b.LimitAmount >= b.AlertThreshold
	crossedThreshold = isOverThreshold && !wasOverThreshold
	if crossedThreshold {
		b.AlertTriggered = true
	}
	exceeded = b.LimitAmount > 0 && b.SpentAmount > b.LimitAmount

	if _, err := tx.ExecContext(ctx, `
		UPDATE budgets SET spent_amount=$1, remaining_amount=$2, alert_triggered=$3, updated_at=now()
		WHERE id=$4`, b.SpentAmount, b.RemainingAmount, b.AlertTriggered, b.ID); err != nil {
		return nil, false, false, fmt.Errorf("apply spend: %w", err)
	}
	return b, crossedThreshold, exceeded, nil
}

const budgetSelect = `
	SELECT id, scope_type, scope_id, limit_amount, spent_amount, remaining_amount,
		period_start, period_end, alert_threshold, alert_triggered, created_at, updated_at
	FROM budgets`

func scanBudget(row scannable) (*Budget, error) {
	var b Budget
	if err := row.Scan(&b.ID, &b.ScopeType, &b.ScopeID, &b.LimitAmount, &b.SpentAmount,
		&b.RemainingAmount, &b.PeriodStart, &b.PeriodEnd, &b.AlertThreshold, &b.AlertTriggered,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, noRows(err)
	}
	return &b, nil
}
