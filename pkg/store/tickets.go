package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-conductor/conductor/pkg/errs"
)

// CreateTicket inserts a new ticket with status=pending and the given
// approval gate. When requiresApproval is true, approval_status is
// set to pending_review with a deadline of now+timeout.
func (s *Store) CreateTicket(ctx context.Context, t *Ticket, requiresApproval bool, approvalTimeout time.Duration) (*Ticket, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = "MEDIUM"
	}
	if t.Status == "" {
		t.Status = "pending"
	}
	t.ApprovalStatus = "approved"
	if requiresApproval {
		t.ApprovalStatus = "pending_review"
		deadline := time.Now().Add(approvalTimeout)
		t.ApprovalDeadline = &deadline
	}

	ctxJSON, err := marshalMap(t.Context)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, title, description, phase, status, priority, project_id,
			owning_user_id, context, approval_status, approval_deadline, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.Title, t.Description, t.Phase, t.Status, t.Priority, t.ProjectID,
		t.OwningUserID, ctxJSON, t.ApprovalStatus, t.ApprovalDeadline, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

// GetTicket fetches a ticket by id. A soft-deleted ticket is treated
// as not found, as ListExpiredApprovals also excludes deleted_at rows.
func (s *Store) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, phase, status, priority, project_id, owning_user_id,
			context, approval_status, approval_deadline, created_at, updated_at, deleted_at
		FROM tickets WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanTicket(row)
}

// UpdateTicketStatus transitions a ticket's status field.
func (s *Store) UpdateTicketStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET status=$1, updated_at=now() WHERE id=$2`, status, id)
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	return checkAffected(res)
}

// SetTicketApproval resolves a pending approval gate.
func (s *Store) SetTicketApproval(ctx context.Context, id, approvalStatus string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET approval_status=$1, updated_at=now() WHERE id=$2`, approvalStatus, id)
	if err != nil {
		return fmt.Errorf("update ticket approval: %w", err)
	}
	return checkAffected(res)
}

// ListExpiredApprovals returns tickets still pending_review past their
// approval_deadline, for auto-rejection.
func (s *Store) ListExpiredApprovals(ctx context.Context, now time.Time) ([]*Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, phase, status, priority, project_id, owning_user_id,
			context, approval_status, approval_deadline, created_at, updated_at, deleted_at
		FROM tickets
		WHERE approval_status = 'pending_review' AND approval_deadline < $1 AND deleted_at IS NULL`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired approvals: %w", err)
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SoftDeleteOldTickets marks every terminal ticket (status=done,
// failed, or an approval_status that never yielded runnable tasks)
// last updated before the retention cutoff as deleted, for the
// cleanup service's retention sweep.
func (s *Store) SoftDeleteOldTickets(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET deleted_at = now()
		WHERE deleted_at IS NULL
			AND updated_at < $1
			AND (status IN ('done', 'failed') OR approval_status IN ('rejected', 'timed_out'))`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("soft delete old tickets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("soft delete old tickets: rows affected: %w", err)
	}
	return int(n), nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row scannable) (*Ticket, error) {
	var t Ticket
	var ctxJSON []byte
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Phase, &t.Status, &t.Priority,
		&t.ProjectID, &t.OwningUserID, &ctxJSON, &t.ApprovalStatus, &t.ApprovalDeadline,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt); err != nil {
		return nil, noRows(err)
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &t.Context); err != nil {
			return nil, fmt.Errorf("unmarshal ticket context: %w", err)
		}
	}
	return &t, nil
}

func marshalMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return b, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
