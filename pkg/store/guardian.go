package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateGuardianAnalysis persists a per-agent alignment judgement.
func (s *Store) CreateGuardianAnalysis(ctx context.Context, g *GuardianAnalysis) (*GuardianAnalysis, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardian_analyses (id, agent_id, trajectory_aligned, alignment_score,
			needs_steering, steering_type, steering_recommendation, trajectory_summary,
			current_focus, conversation_length, session_duration, degraded, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		g.ID, g.AgentID, g.TrajectoryAligned, g.AlignmentScore, g.NeedsSteering,
		g.SteeringType, g.SteeringRecommendation, g.TrajectorySummary, g.CurrentFocus,
		g.ConversationLength, g.SessionDuration, g.Degraded, g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert guardian analysis: %w", err)
	}
	return g, nil
}

// LatestGuardianAnalysis returns the most recent analysis for an agent.
func (s *Store) LatestGuardianAnalysis(ctx context.Context, agentID string) (*GuardianAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, trajectory_aligned, alignment_score, needs_steering,
			steering_type, steering_recommendation, trajectory_summary, current_focus,
			conversation_length, session_duration, degraded, created_at
		FROM guardian_analyses WHERE agent_id = $1 ORDER BY created_at DESC LIMIT 1`, agentID)
	var g GuardianAnalysis
	if err := row.Scan(&g.ID, &g.AgentID, &g.TrajectoryAligned, &g.AlignmentScore, &g.NeedsSteering,
		&g.SteeringType, &g.SteeringRecommendation, &g.TrajectorySummary, &g.CurrentFocus,
		&g.ConversationLength, &g.SessionDuration, &g.Degraded, &g.CreatedAt); err != nil {
		return nil, noRows(err)
	}
	return &g, nil
}

// CreateConductorAnalysis persists a system-wide coherence judgement.
func (s *Store) CreateConductorAnalysis(ctx context.Context, c *ConductorAnalysis) (*ConductorAnalysis, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	metricsJSON, err := marshalMap(c.Metrics)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conductor_analyses (id, coherence_score, system_status, agent_count,
			duplicate_count, metrics, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.CoherenceScore, c.SystemStatus, c.AgentCount, c.DuplicateCount, metricsJSON, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conductor analysis: %w", err)
	}
	return c, nil
}

// LatestConductorAnalysis returns the most recent system-wide judgement.
func (s *Store) LatestConductorAnalysis(ctx context.Context) (*ConductorAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, coherence_score, system_status, agent_count, duplicate_count, metrics, created_at
		FROM conductor_analyses ORDER BY created_at DESC LIMIT 1`)
	var c ConductorAnalysis
	var metricsJSON []byte
	if err := row.Scan(&c.ID, &c.CoherenceScore, &c.SystemStatus, &c.AgentCount,
		&c.DuplicateCount, &metricsJSON, &c.CreatedAt); err != nil {
		return nil, noRows(err)
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &c.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal conductor analysis metrics: %w", err)
		}
	}
	return &c, nil
}

// CreateDetectedDuplicate records a pair of agents found doing
// overlapping work during a conductor analysis pass.
func (s *Store) CreateDetectedDuplicate(ctx context.Context, d *DetectedDuplicate) (*DetectedDuplicate, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detected_duplicates (id, conductor_analysis_id, agent_a_id, agent_b_id,
			similarity_score, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.ConductorAnalysisID, d.AgentAID, d.AgentBID, d.SimilarityScore, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert detected duplicate: %w", err)
	}
	return d, nil
}

// ListDuplicatesForAnalysis returns every duplicate pair found by one
// conductor analysis run.
func (s *Store) ListDuplicatesForAnalysis(ctx context.Context, analysisID string) ([]*DetectedDuplicate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conductor_analysis_id, agent_a_id, agent_b_id, similarity_score, created_at
		FROM detected_duplicates WHERE conductor_analysis_id = $1`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("list detected duplicates: %w", err)
	}
	defer rows.Close()

	var out []*DetectedDuplicate
	for rows.Next() {
		var d DetectedDuplicate
		if err := rows.Scan(&d.ID, &d.ConductorAnalysisID, &d.AgentAID, &d.AgentBID,
			&d.SimilarityScore, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan detected duplicate: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// CreateSteeringIntervention records a steering recommendation issued
// to an agent, whether or not it was ultimately applied.
func (s *Store) CreateSteeringIntervention(ctx context.Context, si *SteeringIntervention) (*SteeringIntervention, error) {
	if si.ID == "" {
		si.ID = uuid.NewString()
	}
	if si.CreatedAt.IsZero() {
		si.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steering_interventions (id, agent_id, guardian_analysis_id, steering_type,
			recommendation, applied, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		si.ID, si.AgentID, si.GuardianAnalysisID, si.SteeringType, si.Recommendation,
		si.Applied, si.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert steering intervention: %w", err)
	}
	return si, nil
}

// MarkSteeringApplied flags an intervention as having been delivered
// to the agent.
func (s *Store) MarkSteeringApplied(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE steering_interventions SET applied=true WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("mark steering applied: %w", err)
	}
	return checkAffected(res)
}

// CreateGuardianAction appends an audit-log entry for any authority
// action taken against an entity, whether automatic or operator-issued.
func (s *Store) CreateGuardianAction(ctx context.Context, a *GuardianAction) (*GuardianAction, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	beforeJSON, err := marshalMap(a.Before)
	if err != nil {
		return nil, err
	}
	afterJSON, err := marshalMap(a.After)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO guardian_actions (id, action_type, authority, initiated_by, reason, manual,
			executed, reverted, target_entity_type, target_entity_id, before, after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.ActionType, a.Authority, a.InitiatedBy, a.Reason, a.Manual,
		a.Executed, a.Reverted, a.TargetEntityType, a.TargetEntityID, beforeJSON, afterJSON, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert guardian action: %w", err)
	}
	return a, nil
}

// GetGuardianAction fetches one audit-log entry by id, used by
// revert_intervention to validate the target action before flipping it.
func (s *Store) GetGuardianAction(ctx context.Context, id string) (*GuardianAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, action_type, authority, initiated_by, reason, manual, executed, reverted,
			target_entity_type, target_entity_id, before, after, created_at
		FROM guardian_actions WHERE id = $1`, id)
	var a GuardianAction
	var beforeJSON, afterJSON []byte
	if err := row.Scan(&a.ID, &a.ActionType, &a.Authority, &a.InitiatedBy, &a.Reason,
		&a.Manual, &a.Executed, &a.Reverted, &a.TargetEntityType, &a.TargetEntityID,
		&beforeJSON, &afterJSON, &a.CreatedAt); err != nil {
		return nil, noRows(err)
	}
	if len(beforeJSON) > 0 {
		_ = json.Unmarshal(beforeJSON, &a.Before)
	}
	if len(afterJSON) > 0 {
		_ = json.Unmarshal(afterJSON, &a.After)
	}
	return &a, nil
}

// RevertGuardianAction flags a previously executed action as reverted,
// used when an operator overrides an automatic intervention.
func (s *Store) RevertGuardianAction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE guardian_actions SET reverted=true WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("revert guardian action: %w", err)
	}
	return checkAffected(res)
}

// ListGuardianActionsForEntity returns the audit trail for one entity,
// newest first.
func (s *Store) ListGuardianActionsForEntity(ctx context.Context, entityType, entityID string) ([]*GuardianAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_type, authority, initiated_by, reason, manual, executed, reverted,
			target_entity_type, target_entity_id, before, after, created_at
		FROM guardian_actions
		WHERE target_entity_type = $1 AND target_entity_id = $2
		ORDER BY created_at DESC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list guardian actions: %w", err)
	}
	defer rows.Close()

	var out []*GuardianAction
	for rows.Next() {
		var a GuardianAction
		var beforeJSON, afterJSON []byte
		if err := rows.Scan(&a.ID, &a.ActionType, &a.Authority, &a.InitiatedBy, &a.Reason,
			&a.Manual, &a.Executed, &a.Reverted, &a.TargetEntityType, &a.TargetEntityID,
			&beforeJSON, &afterJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan guardian action: %w", err)
		}
		if len(beforeJSON) > 0 {
			_ = json.Unmarshal(beforeJSON, &a.Before)
		}
		if len(afterJSON) > 0 {
			_ = json.Unmarshal(afterJSON, &a.After)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
