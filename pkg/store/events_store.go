package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/r3e-conductor/conductor/pkg/events"
)

// GetEventsSince implements events.CatchupQuerier: it returns the
// events persisted to channel after sinceSequence, oldest first,
// capped at limit rows (events.Manager passes its catch-up limit plus
// one so it can detect overflow).
func (s *Store) GetEventsSince(ctx context.Context, channel string, sinceSequence int64, limit int) ([]events.CatchupEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, payload
		FROM events
		WHERE channel = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3`, channel, sinceSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("get events since: %w", err)
	}
	defer rows.Close()

	var out []events.CatchupEvent
	for rows.Next() {
		var seq int64
		var payloadJSON []byte
		if err := rows.Scan(&seq, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var envelope map[string]interface{}
		if err := json.Unmarshal(payloadJSON, &envelope); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		out = append(out, events.CatchupEvent{Sequence: seq, Payload: envelope})
	}
	return out, rows.Err()
}

// DeleteExpiredEvents removes every events row older than olderThan,
// for the cleanup service's event-TTL sweep. The catchup table only
// needs to cover the reconnect window a listener can plausibly fall
// behind by, not the system's full history.
func (s *Store) DeleteExpiredEvents(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired events: rows affected: %w", err)
	}
	return int(n), nil
}
