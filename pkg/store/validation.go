package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateValidationReview persists one validator pass over a completed
// task, keyed by (task_id, iteration_number) so a retried validation
// cannot double-count an iteration.
func (s *Store) CreateValidationReview(ctx context.Context, v *ValidationReview) (*ValidationReview, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	evidenceJSON, err := marshalMap(v.Evidence)
	if err != nil {
		return nil, err
	}
	recsJSON, err := json.Marshal(v.Recommendations)
	if err != nil {
		return nil, fmt.Errorf("marshal recommendations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_reviews (id, task_id, iteration_number, passed, feedback,
			evidence, recommendations, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.ID, v.TaskID, v.IterationNumber, v.Passed, v.Feedback, evidenceJSON, recsJSON, v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert validation review: %w", err)
	}
	return v, nil
}

// ListValidationReviews returns every validation pass for a task in
// iteration order, used to enforce the max-iterations cap.
func (s *Store) ListValidationReviews(ctx context.Context, taskID string) ([]*ValidationReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, iteration_number, passed, feedback, evidence, recommendations, created_at
		FROM validation_reviews WHERE task_id = $1 ORDER BY iteration_number ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list validation reviews: %w", err)
	}
	defer rows.Close()

	var out []*ValidationReview
	for rows.Next() {
		var v ValidationReview
		var evidenceJSON, recsJSON []byte
		if err := rows.Scan(&v.ID, &v.TaskID, &v.IterationNumber, &v.Passed, &v.Feedback,
			&evidenceJSON, &recsJSON, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan validation review: %w", err)
		}
		if len(evidenceJSON) > 0 {
			_ = json.Unmarshal(evidenceJSON, &v.Evidence)
		}
		if len(recsJSON) > 0 {
			_ = json.Unmarshal(recsJSON, &v.Recommendations)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
