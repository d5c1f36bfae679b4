package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Publisher persists events to the events table and broadcasts them
// via PostgreSQL NOTIFY for delivery to WebSocket subscribers on this
// and every other conductor replica.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a new Publisher. db should be the *sql.DB
// returned by database.Client.DB().
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// Publish persists eventType/payload to the events table and
// broadcasts it on both the global channel and, when scopeChannel is
// non-empty, a scoped channel. Emission is best-effort: a publish
// failure is returned to the caller but the state change that
// triggered it is never rolled back by this package.
func (p *Publisher) Publish(ctx context.Context, eventType, scopeChannel string, payload interface{}) error {
	envelope := map[string]interface{}{
		"event_type": eventType,
		"payload":    payload,
	}
	payloadJSON, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	id := uuid.NewString()
	if err := p.persistAndNotify(ctx, id, eventType, payloadJSON, GlobalChannel); err != nil {
		return err
	}
	if scopeChannel != "" && scopeChannel != GlobalChannel {
		// A second row under the scoped channel, so a client that
		// subscribes to it (and nothing else) can still catch up on
		// just the events relevant to its scope.
		if err := p.persistAndNotify(ctx, uuid.NewString(), eventType, payloadJSON, scopeChannel); err != nil {
			return err
		}
	}
	return nil
}

// persistAndNotify inserts the event row under channel and issues
// pg_notify within the same transaction, so a subscriber never
// receives a notification for a row it cannot yet read (pg_notify is
// held until COMMIT).
func (p *Publisher) persistAndNotify(ctx context.Context, id, eventType string, payloadJSON []byte, channel string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sequence int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (id, channel, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING sequence`,
		id, channel, eventType, payloadJSON, time.Now(),
	).Scan(&sequence)
	if err != nil {
		return fmt.Errorf("failed to persist event %s: %w", eventType, err)
	}

	notifyPayload, err := injectSequenceAndTruncate(payloadJSON, id, sequence)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed for %s: %w", eventType, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// injectSequenceAndTruncate adds id/sequence to the NOTIFY payload so
// a reconnecting client can resume catch-up from the right point, and
// truncates if the result would exceed PostgreSQL's NOTIFY limit.
func injectSequenceAndTruncate(payloadJSON []byte, id string, sequence int64) (string, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for sequence injection: %w", err)
	}
	m["event_id"] = id
	m["sequence"] = sequence

	enriched, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(enriched)
}

// truncateIfNeeded returns the payload as-is if it fits PostgreSQL's
// 8000-byte NOTIFY limit, otherwise a minimal envelope carrying only
// the routing fields a client needs to fetch the full row.
func truncateIfNeeded(payloadJSON []byte) (string, error) {
	if len(payloadJSON) <= 7900 {
		return string(payloadJSON), nil
	}

	var routing struct {
		EventType string `json:"event_type"`
		EventID   string `json:"event_id"`
		Sequence  int64  `json:"sequence"`
	}
	if err := json.Unmarshal(payloadJSON, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]interface{}{
		"event_type": routing.EventType,
		"event_id":   routing.EventID,
		"sequence":   routing.Sequence,
		"truncated":  true,
	}
	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
