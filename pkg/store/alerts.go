package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAlertRule persists a named monitoring threshold.
func (s *Store) CreateAlertRule(ctx context.Context, r *AlertRule) (*AlertRule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, name, scope, condition, threshold, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.Name, r.Scope, r.Condition, r.Threshold, r.Enabled, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert alert rule: %w", err)
	}
	return r, nil
}

// ListEnabledAlertRules returns every active rule for the given scope.
func (s *Store) ListEnabledAlertRules(ctx context.Context, scope string) ([]*AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, scope, condition, threshold, enabled, created_at, updated_at
		FROM alert_rules WHERE scope = $1 AND enabled = true`, scope)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	var out []*AlertRule
	for rows.Next() {
		var r AlertRule
		if err := rows.Scan(&r.ID, &r.Name, &r.Scope, &r.Condition, &r.Threshold,
			&r.Enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CreateAlert fires a new alert for a rule in status=triggered.
func (s *Store) CreateAlert(ctx context.Context, a *Alert) (*Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = "triggered"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	ctxJSON, err := marshalMap(a.Context)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, rule_id, status, message, context, acknowledged_by,
			acknowledged_at, resolved_by, resolved_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.RuleID, a.Status, a.Message, ctxJSON, a.AcknowledgedBy,
		a.AcknowledgedAt, a.ResolvedBy, a.ResolvedAt, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return a, nil
}

// AcknowledgeAlert records operator acknowledgement of an alert.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, by string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status='acknowledged', acknowledged_by=$1, acknowledged_at=now()
		WHERE id=$2`, by, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	return checkAffected(res)
}

// ResolveAlert marks an alert resolved.
func (s *Store) ResolveAlert(ctx context.Context, id, by string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status='resolved', resolved_by=$1, resolved_at=now()
		WHERE id=$2`, by, id)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	return checkAffected(res)
}

// ListActiveAlerts returns every alert not yet resolved, newest first.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]*Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, status, message, context, acknowledged_by, acknowledged_at,
			resolved_by, resolved_at, created_at
		FROM alerts WHERE status != 'resolved' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		var a Alert
		var ctxJSON []byte
		if err := rows.Scan(&a.ID, &a.RuleID, &a.Status, &a.Message, &ctxJSON,
			&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if len(ctxJSON) > 0 {
			_ = json.Unmarshal(ctxJSON, &a.Context)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
