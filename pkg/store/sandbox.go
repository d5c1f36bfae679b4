package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendSandboxEvent records one lifecycle event for a sandbox,
// stamping the next sequence number for that sandbox so consumers can
// detect gaps.
func (s *Store) AppendSandboxEvent(ctx context.Context, e *SandboxEvent) (*SandboxEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	payloadJSON, err := marshalMap(e.Payload)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM sandbox_events WHERE sandbox_id = $1`, e.SandboxID)
	if err := row.Scan(&e.Sequence); err != nil {
		return nil, fmt.Errorf("next sandbox event sequence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sandbox_events (id, sandbox_id, task_id, event_type, payload, sequence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.SandboxID, e.TaskID, e.EventType, payloadJSON, e.Sequence, e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert sandbox event: %w", err)
	}
	return e, nil
}

// ListSandboxEvents returns every event for a sandbox in sequence order.
func (s *Store) ListSandboxEvents(ctx context.Context, sandboxID string) ([]*SandboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sandbox_id, task_id, event_type, payload, sequence, created_at
		FROM sandbox_events WHERE sandbox_id = $1 ORDER BY sequence ASC`, sandboxID)
	if err != nil {
		return nil, fmt.Errorf("list sandbox events: %w", err)
	}
	defer rows.Close()

	var out []*SandboxEvent
	for rows.Next() {
		var e SandboxEvent
		var payloadJSON []byte
		if err := rows.Scan(&e.ID, &e.SandboxID, &e.TaskID, &e.EventType, &payloadJSON,
			&e.Sequence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sandbox event: %w", err)
		}
		if len(payloadJSON) > 0 {
			_ = json.Unmarshal(payloadJSON, &e.Payload)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LatestSandboxEventAt returns the created_at of the most recent event
// of any type reported for sandboxID, heartbeats included.
func (s *Store) LatestSandboxEventAt(ctx context.Context, sandboxID string) (time.Time, bool, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM sandbox_events WHERE sandbox_id = $1`, sandboxID).Scan(&t)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest sandbox event: %w", err)
	}
	return t.Time, t.Valid, nil
}

// LatestWorkEventAt returns the created_at of the most recent event
// whose event_type is in eventTypes, used by the idle monitor's
// 3-minute idle-threshold check.
func (s *Store) LatestWorkEventAt(ctx context.Context, sandboxID string, eventTypes []string) (time.Time, bool, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM sandbox_events WHERE sandbox_id = $1 AND event_type = ANY($2)`,
		sandboxID, eventTypes).Scan(&t)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest work event: %w", err)
	}
	return t.Time, t.Valid, nil
}

// AppendAgentLog writes one structured log line for an agent.
func (s *Store) AppendAgentLog(ctx context.Context, l *AgentLog) (*AgentLog, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	metaJSON, err := marshalMap(l.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_logs (id, agent_id, level, message, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		l.ID, l.AgentID, l.Level, l.Message, metaJSON, l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert agent log: %w", err)
	}
	return l, nil
}

// ListAgentLogs returns an agent's log tail, newest first, capped at limit.
func (s *Store) ListAgentLogs(ctx context.Context, agentID string, limit int) ([]*AgentLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, level, message, metadata, created_at
		FROM agent_logs WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list agent logs: %w", err)
	}
	defer rows.Close()

	var out []*AgentLog
	for rows.Next() {
		var l AgentLog
		var metaJSON []byte
		if err := rows.Scan(&l.ID, &l.AgentID, &l.Level, &l.Message, &metaJSON, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent log: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &l.Metadata)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// AppendReasoningEvent records one step of an agent's visible
// reasoning trace, stamping the next per-agent sequence number.
func (s *Store) AppendReasoningEvent(ctx context.Context, r *ReasoningEvent) (*ReasoningEvent, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM reasoning_events WHERE agent_id = $1`, r.AgentID)
	if err := row.Scan(&r.Sequence); err != nil {
		return nil, fmt.Errorf("next reasoning event sequence: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reasoning_events (id, agent_id, task_id, event_type, content, sequence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.AgentID, r.TaskID, r.EventType, r.Content, r.Sequence, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reasoning event: %w", err)
	}
	return r, nil
}

// ListReasoningEvents returns an agent's reasoning trace in sequence order.
func (s *Store) ListReasoningEvents(ctx context.Context, agentID string) ([]*ReasoningEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, task_id, event_type, content, sequence, created_at
		FROM reasoning_events WHERE agent_id = $1 ORDER BY sequence ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list reasoning events: %w", err)
	}
	defer rows.Close()

	var out []*ReasoningEvent
	for rows.Next() {
		var r ReasoningEvent
		if err := rows.Scan(&r.ID, &r.AgentID, &r.TaskID, &r.EventType, &r.Content,
			&r.Sequence, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reasoning event: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CreatePreviewSession persists a time-limited preview URL for a
// running sandbox.
func (s *Store) CreatePreviewSession(ctx context.Context, p *PreviewSession) (*PreviewSession, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preview_sessions (id, sandbox_id, port, url, token, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.SandboxID, p.Port, p.URL, p.Token, p.ExpiresAt, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert preview session: %w", err)
	}
	return p, nil
}

// GetPreviewSessionByToken resolves a preview session for routing an
// inbound preview request, returning errs.ErrNotFound once expired.
func (s *Store) GetPreviewSessionByToken(ctx context.Context, token string, now time.Time) (*PreviewSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sandbox_id, port, url, token, expires_at, created_at
		FROM preview_sessions WHERE token = $1 AND expires_at > $2`, token, now)
	var p PreviewSession
	if err := row.Scan(&p.ID, &p.SandboxID, &p.Port, &p.URL, &p.Token, &p.ExpiresAt, &p.CreatedAt); err != nil {
		return nil, noRows(err)
	}
	return &p, nil
}
