package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-conductor/conductor/pkg/errs"
)

// EnqueueTask inserts a new task in status=pending.
func (s *Store) EnqueueTask(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = "MEDIUM"
	}
	t.Status = "pending"

	depsJSON, err := json.Marshal(t.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("marshal dependencies: %w", err)
	}
	resultJSON, err := marshalMap(t.Result)
	if err != nil {
		return nil, err
	}
	synthJSON, err := marshalMap(t.SynthesisContext)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, ticket_id, phase, task_type, title, description, priority,
			status, assigned_agent_id, sandbox_id, dependencies, timeout_seconds, started_at,
			completed_at, error_message, result, synthesis_context, transcript_b64,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		t.ID, t.TicketID, t.Phase, t.TaskType, t.Title, t.Description, t.Priority,
		t.Status, t.AssignedAgentID, t.SandboxID, depsJSON, t.TimeoutSeconds, t.StartedAt,
		t.CompletedAt, t.ErrorMessage, resultJSON, synthJSON, t.TranscriptB64, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = $1`, id)
	return scanTask(row)
}

// CountPendingTasks returns the number of tasks still awaiting claim,
// used by the worker pool's health report.
func (s *Store) CountPendingTasks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return n, nil
}

// ListTasksByTicket returns every task belonging to a ticket, oldest first.
func (s *Store) ListTasksByTicket(ctx context.Context, ticketID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE ticket_id = $1 ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by ticket: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// claimableWhere selects pending tasks with no sandbox assigned yet
// whose dependencies.depends_on are all completed. GetNextTask appends
// the optional phase filter; no capability requirement is checked.
const claimableWhere = `
	t.status = $1
		AND t.sandbox_id IS NULL
		AND NOT EXISTS (
			SELECT 1
			FROM jsonb_array_elements_text(t.dependencies->'depends_on') AS dep(task_id)
			JOIN tasks dt ON dt.id = dep.task_id
			WHERE dt.status <> 'completed'
		)`

const priorityOrder = `
	ORDER BY
		CASE t.priority
			WHEN 'CRITICAL' THEN 4
			WHEN 'HIGH' THEN 3
			WHEN 'MEDIUM' THEN 2
			WHEN 'LOW' THEN 1
			ELSE 0
		END DESC,
		t.created_at ASC
	LIMIT 1
	FOR UPDATE OF t SKIP LOCKED`

// GetNextTask atomically claims the highest-priority, oldest eligible
// pending task and marks it assigned. Exactly one caller observes
// success for a given task: the FOR UPDATE SKIP LOCKED clause lets
// concurrent callers skip rows already locked by another in-flight
// claim rather than block on them. phase, when non-empty, restricts
// the candidate set to that phase.
func (s *Store) GetNextTask(ctx context.Context, phase string) (*Task, error) {
	var claimed *Task
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT t.id, t.ticket_id, t.phase, t.task_type, t.title, t.description,
				t.priority, t.status, t.assigned_agent_id, t.sandbox_id, t.dependencies,
				t.timeout_seconds, t.started_at, t.completed_at, t.error_message, t.result,
				t.synthesis_context, t.transcript_b64, t.created_at, t.updated_at
			FROM tasks t WHERE ` + claimableWhere
		args := []interface{}{"pending"}
		if phase != "" {
			query += ` AND t.phase = $2`
			args = append(args, phase)
		}
		query += priorityOrder

		row := tx.QueryRowContext(ctx, query, args...)
		task, err := scanTask(row)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.ErrNotFound
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status='assigned', updated_at=now() WHERE id=$1`, task.ID); err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		task.Status = "assigned"
		claimed = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// GetNextValidationTask applies the same atomic-claim discipline as
// GetNextTask to tasks awaiting validator review.
func (s *Store) GetNextValidationTask(ctx context.Context) (*Task, error) {
	var claimed *Task
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT t.id, t.ticket_id, t.phase, t.task_type, t.title, t.description,
				t.priority, t.status, t.assigned_agent_id, t.sandbox_id, t.dependencies,
				t.timeout_seconds, t.started_at, t.completed_at, t.error_message, t.result,
				t.synthesis_context, t.transcript_b64, t.created_at, t.updated_at
			FROM tasks t
			WHERE t.status = 'pending_validation'
			` + priorityOrder

		row := tx.QueryRowContext(ctx, query)
		task, err := scanTask(row)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.ErrNotFound
			}
			return err
		}
		claimed = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// AssignTask sets assigned_agent and transitions pending→assigned.
// Idempotent if the task is already assigned to agentID.
func (s *Store) AssignTask(ctx context.Context, taskID, agentID string) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == "assigned" && task.AssignedAgentID != nil && *task.AssignedAgentID == agentID {
		return nil
	}
	if task.Status != "pending" && task.Status != "assigned" {
		return errs.NewTransitionError("task", task.Status, "assigned")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status='assigned', assigned_agent_id=$1, updated_at=now() WHERE id=$2`,
		agentID, taskID)
	if err != nil {
		return fmt.Errorf("assign task: %w", err)
	}
	return checkAffected(res)
}

// SetTaskSandbox records the sandbox a task was spawned into, used
// by the Sandbox execution mode right after a successful spawn and
// before the task transitions to running.
func (s *Store) SetTaskSandbox(ctx context.Context, taskID, sandboxID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET sandbox_id=$1, updated_at=now() WHERE id=$2`, sandboxID, taskID)
	if err != nil {
		return fmt.Errorf("set task sandbox: %w", err)
	}
	return checkAffected(res)
}

// UpdateTaskStatus writes a new task status, stamping started_at on
// the first transition to running and completed_at on reaching a
// terminal status.
func (s *Store) UpdateTaskStatus(ctx context.Context, id, status string, result map[string]interface{}, errMsg *string) error {
	resultJSON, err := marshalMap(result)
	if err != nil {
		return err
	}

	var res sql.Result
	switch status {
	case "running":
		res, err = s.db.ExecContext(ctx, `
			UPDATE tasks SET status=$1, result=COALESCE($2, result), error_message=$3,
				started_at=COALESCE(started_at, now()), updated_at=now()
			WHERE id=$4`, status, resultJSON, errMsg, id)
	case "completed", "failed":
		res, err = s.db.ExecContext(ctx, `
			UPDATE tasks SET status=$1, result=COALESCE($2, result), error_message=$3,
				completed_at=now(), updated_at=now()
			WHERE id=$4`, status, resultJSON, errMsg, id)
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE tasks SET status=$1, result=COALESCE($2, result), error_message=$3, updated_at=now()
			WHERE id=$4`, status, resultJSON, errMsg, id)
	}
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return checkAffected(res)
}

// CheckTaskTimeout reports whether a task is running and has exceeded
// its timeout_seconds budget.
func (s *Store) CheckTaskTimeout(ctx context.Context, id string, now time.Time) (bool, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	if task.Status != "running" || task.StartedAt == nil {
		return false, nil
	}
	return now.Sub(*task.StartedAt) > time.Duration(task.TimeoutSeconds)*time.Second, nil
}

// MarkTaskTimeout applies the terminal failed transition used when the
// reaper detects an overrun, recording a TASK_TIMED_OUT-worthy message.
func (s *Store) MarkTaskTimeout(ctx context.Context, id, reason string) error {
	msg := "Task timed out"
	if reason != "" {
		msg = fmt.Sprintf("Task timed out: %s", reason)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status='failed', error_message=$1, completed_at=now(), updated_at=now()
		WHERE id=$2 AND status='running'`, msg, id)
	if err != nil {
		return fmt.Errorf("mark task timeout: %w", err)
	}
	return checkAffected(res)
}

// CancelTask applies the terminal failed transition for a task still
// in {pending, assigned, running}.
func (s *Store) CancelTask(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status='failed', error_message=$1, completed_at=now(), updated_at=now()
		WHERE id=$2 AND status IN ('pending','assigned','running')`,
		fmt.Sprintf("Task cancelled: %s", reason), id)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return checkAffected(res)
}

// GetTimedOutTasks returns running tasks whose started_at +
// timeout_seconds has elapsed, for the reaper.
func (s *Store) GetTimedOutTasks(ctx context.Context, now time.Time) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+`
		WHERE status = 'running'
			AND started_at IS NOT NULL
			AND started_at + (timeout_seconds * interval '1 second') < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("list timed out tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetCancellableTasks returns every task still in a non-terminal status.
func (s *Store) GetCancellableTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+`
		WHERE status IN ('pending','assigned','running','pending_validation','needs_revision')`)
	if err != nil {
		return nil, fmt.Errorf("list cancellable tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ResolveAgentBySandbox looks up the agent assigned to the task
// currently bound to sandboxID, for monitoring components that only
// have a sandbox id on hand and must auto-route to the owning agent.
func (s *Store) ResolveAgentBySandbox(ctx context.Context, sandboxID string) (string, error) {
	var agentID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT assigned_agent_id FROM tasks WHERE sandbox_id = $1 LIMIT 1`, sandboxID).Scan(&agentID)
	if err != nil {
		return "", noRows(err)
	}
	if !agentID.Valid {
		return "", errs.ErrNotFound
	}
	return agentID.String, nil
}

// ListRunningSandboxTasks returns every task currently bound to a live
// sandbox, for the idle monitor's 90-second alive-set scan.
func (s *Store) ListRunningSandboxTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+`
		WHERE sandbox_id IS NOT NULL AND status = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("list running sandbox tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByIDs returns every task named in ids, in no particular
// order, for the coordination layer's join/merge primitives which
// operate over a caller-supplied task set.
func (s *Store) ListTasksByIDs(ctx context.Context, ids []string) ([]*Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list tasks by ids: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// AddTaskDependency appends dependsOnID to a task's dependencies.depends_on
// list (no-op if already present), used by coordination.Split to chain a
// continuation task behind the tasks it was split from, and by
// coordination.RegisterJoin to gate a synthesis continuation behind its
// joined set.
func (s *Store) AddTaskDependency(ctx context.Context, taskID, dependsOnID string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var depsJSON []byte
		row := tx.QueryRowContext(ctx, `SELECT dependencies FROM tasks WHERE id = $1 FOR UPDATE`, taskID)
		if err := row.Scan(&depsJSON); err != nil {
			return noRows(err)
		}
		var deps TaskDependencies
		if len(depsJSON) > 0 {
			if err := json.Unmarshal(depsJSON, &deps); err != nil {
				return fmt.Errorf("unmarshal task dependencies: %w", err)
			}
		}
		for _, existing := range deps.DependsOn {
			if existing == dependsOnID {
				return nil
			}
		}
		deps.DependsOn = append(deps.DependsOn, dependsOnID)
		newJSON, err := json.Marshal(deps)
		if err != nil {
			return fmt.Errorf("marshal task dependencies: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET dependencies=$1, updated_at=now() WHERE id=$2`, newJSON, taskID); err != nil {
			return fmt.Errorf("add task dependency: %w", err)
		}
		return nil
	})
}

// SoftDeleteOldTasks marks every terminal task (status=completed or
// failed) last updated before the retention cutoff as deleted, for
// the cleanup service's retention sweep.
func (s *Store) SoftDeleteOldTasks(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET deleted_at = now()
		WHERE deleted_at IS NULL
			AND updated_at < $1
			AND status IN ('completed', 'failed')`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("soft delete old tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("soft delete old tasks: rows affected: %w", err)
	}
	return int(n), nil
}

// SetTaskSynthesisContext overwrites a task's synthesis_context, used by
// the SynthesisService to inject a join's merged result into the
// continuation task before it becomes claimable.
func (s *Store) SetTaskSynthesisContext(ctx context.Context, taskID string, ctxJSON map[string]interface{}) error {
	synthJSON, err := marshalMap(ctxJSON)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET synthesis_context=$1, updated_at=now() WHERE id=$2`, synthJSON, taskID)
	if err != nil {
		return fmt.Errorf("set task synthesis context: %w", err)
	}
	return checkAffected(res)
}

// SetTaskTranscript stores the base64-encoded sandbox session transcript
// captured on idle teardown or timeout reaping, so the ticket detail view
// can later surface what the agent actually did. Best-effort by callers:
// a failure here must never block the teardown itself.
func (s *Store) SetTaskTranscript(ctx context.Context, taskID, transcriptB64 string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET transcript_b64=$1, updated_at=now() WHERE id=$2`, transcriptB64, taskID)
	if err != nil {
		return fmt.Errorf("set task transcript: %w", err)
	}
	return checkAffected(res)
}

// SetTaskPriority overrides a task's priority, used by Guardian
// Intervention's override_task_priority action.
func (s *Store) SetTaskPriority(ctx context.Context, taskID, priority string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET priority=$1, updated_at=now() WHERE id=$2`, priority, taskID)
	if err != nil {
		return fmt.Errorf("set task priority: %w", err)
	}
	return checkAffected(res)
}

// ListPendingJoinTasks returns every continuation task carrying a
// registered join that has not yet had its merged result injected.
// No component calls it; SynthesisService keeps its PendingJoin set in
// memory only and does not rebuild it after a restart.
func (s *Store) ListPendingJoinTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+`
		WHERE synthesis_context ? '_join_id' AND NOT (synthesis_context ? '_injected_at')`)
	if err != nil {
		return nil, fmt.Errorf("list pending join tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

const taskSelect = `
	SELECT id, ticket_id, phase, task_type, title, description, priority, status,
		assigned_agent_id, sandbox_id, dependencies, timeout_seconds, started_at,
		completed_at, error_message, result, synthesis_context, transcript_b64,
		created_at, updated_at
	FROM tasks`

func scanTask(row scannable) (*Task, error) {
	var t Task
	var depsJSON, resultJSON, synthJSON []byte
	if err := row.Scan(&t.ID, &t.TicketID, &t.Phase, &t.TaskType, &t.Title, &t.Description,
		&t.Priority, &t.Status, &t.AssignedAgentID, &t.SandboxID, &depsJSON, &t.TimeoutSeconds,
		&t.StartedAt, &t.CompletedAt, &t.ErrorMessage, &resultJSON, &synthJSON, &t.TranscriptB64,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, noRows(err)
	}
	if len(depsJSON) > 0 {
		if err := json.Unmarshal(depsJSON, &t.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal task dependencies: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &t.Result); err != nil {
			return nil, fmt.Errorf("unmarshal task result: %w", err)
		}
	}
	if len(synthJSON) > 0 {
		if err := json.Unmarshal(synthJSON, &t.SynthesisContext); err != nil {
			return nil, fmt.Errorf("unmarshal task synthesis context: %w", err)
		}
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
