package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/r3e-conductor/conductor/pkg/errs"
)

// CreateAgent persists a freshly spawned agent in status=SPAWNING.
func (s *Store) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = "SPAWNING"
	}
	if a.Health == "" {
		a.Health = "healthy"
	}
	if a.Capacity == 0 {
		a.Capacity = 1
	}

	capsJSON, err := json.Marshal(a.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}
	tagsJSON, err := json.Marshal(a.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	metaJSON, err := marshalMap(a.Metadata)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, agent_type, phase, capabilities, capacity, status,
			tags, health, last_heartbeat, crypto_public_key, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.Name, a.AgentType, a.Phase, capsJSON, a.Capacity, a.Status,
		tagsJSON, a.Health, a.LastHeartbeat, a.CryptoPublicKey, metaJSON, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert agent: %w", err)
	}
	return a, nil
}

// GetAgent fetches an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, agentSelect+` WHERE id = $1`, id)
	return scanAgent(row)
}

// CountAgentsByPrefix counts agents whose name starts with prefix,
// used to assign the next sequence number in a human name.
func (s *Store) CountAgentsByPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE name LIKE $1`, prefix+"%").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count agents by prefix: %w", err)
	}
	return n, nil
}

// GetAgentByName fetches an agent by its assigned human name.
func (s *Store) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, agentSelect+` WHERE name = $1`, name)
	return scanAgent(row)
}

// UpdateAgentFields persists the mutable fields update_agent may
// change: capabilities, capacity, tags, metadata.
func (s *Store) UpdateAgentFields(ctx context.Context, a *Agent) error {
	capsJSON, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	tagsJSON, err := json.Marshal(a.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	metaJSON, err := marshalMap(a.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET capabilities=$1, capacity=$2, tags=$3, metadata=$4, updated_at=now()
		WHERE id=$5`, capsJSON, a.Capacity, tagsJSON, metaJSON, a.ID)
	if err != nil {
		return fmt.Errorf("update agent fields: %w", err)
	}
	return checkAffected(res)
}

// UpdateAgentStatus transitions an agent's status field, used by the
// status manager's SPAWNING/IDLE/RUNNING/DEGRADED/TERMINATED/
// QUARANTINED/FAILED state machine.
func (s *Store) UpdateAgentStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status=$1, updated_at=now() WHERE id=$2`, status, id)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	return checkAffected(res)
}

// RecordHeartbeat stamps last_heartbeat and clears a degraded health
// mark, called on every agent heartbeat.
func (s *Store) RecordHeartbeat(ctx context.Context, id string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET last_heartbeat=$1, health='healthy', updated_at=$1 WHERE id=$2`, now, id)
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return checkAffected(res)
}

// MarkDegraded flags an agent's health without changing its status,
// used when a heartbeat is overdue but not yet fatally so.
func (s *Store) MarkDegraded(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET health='degraded', updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("mark agent degraded: %w", err)
	}
	return checkAffected(res)
}

// ListStaleHeartbeats returns agents whose last_heartbeat is older
// than the given cutoff, for the idle/health monitor.
func (s *Store) ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, agentSelect+`
		WHERE status NOT IN ('TERMINATED','QUARANTINED','FAILED')
			AND (last_heartbeat IS NULL OR last_heartbeat < $1)`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale heartbeats: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// ListActiveAgents returns every non-terminal agent whose heartbeat is
// no older than cutoff, for the Conductor Analyzer's system-wide pass
// (spec §4.12: "fetch active agents (heartbeat < 2 min)").
func (s *Store) ListActiveAgents(ctx context.Context, cutoff time.Time) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, agentSelect+`
		WHERE status NOT IN ('TERMINATED','QUARANTINED','FAILED')
			AND last_heartbeat IS NOT NULL AND last_heartbeat >= $1
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// AdjustAgentCapacity atomically applies delta to an agent's capacity,
// used by Guardian capacity reallocation (spec §4.16). Returns
// errs.ErrInvalidInput if the result would go negative.
func (s *Store) AdjustAgentCapacity(ctx context.Context, tx *sql.Tx, agentID string, delta int) (int, error) {
	var capacity int
	row := tx.QueryRowContext(ctx, `SELECT capacity FROM agents WHERE id = $1 FOR UPDATE`, agentID)
	if err := row.Scan(&capacity); err != nil {
		return 0, noRows(err)
	}
	newCapacity := capacity + delta
	if newCapacity < 0 {
		return 0, fmt.Errorf("%w: adjust agent capacity: result %d is negative", errs.ErrInvalidInput, newCapacity)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET capacity=$1, updated_at=now() WHERE id=$2`, newCapacity, agentID); err != nil {
		return 0, fmt.Errorf("adjust agent capacity: %w", err)
	}
	return newCapacity, nil
}

// AgentScore is one ranked candidate returned by SearchAgents.
type AgentScore struct {
	Agent *Agent
	Score float64
}

// SearchAgents scores every agent in phase (every phase when phase is
// empty) matching at least one requested capability (every agent when
// none is requested), whatever its status; callers filter by status. It
// uses entgo.io/ent's dialect/sql query builder directly
// (rather than the raw-string queries used elsewhere in this package)
// since the candidate capability list is of variable length and is
// easiest to express as a dynamically built WHERE clause:
//
//	coverage + 0.2*is_IDLE + 0.2*is_healthy + 0.05*min(capacity, 5)
//
// coverage is the fraction of requestedCapabilities the agent declares
// (normalized trim+lowercase match). Results are ordered by score desc.
func (s *Store) SearchAgents(ctx context.Context, phase string, requestedCapabilities []string) ([]AgentScore, error) {
	sel := entsql.Dialect(s.drv.Dialect()).
		Select("id", "name", "agent_type", "phase", "capabilities", "capacity", "status",
			"tags", "health", "last_heartbeat", "crypto_public_key", "metadata", "created_at", "updated_at").
		From(entsql.Table("agents"))
	if phase != "" {
		sel = sel.Where(entsql.EQ("phase", phase))
	}

	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search agents: %w", err)
	}
	defer rows.Close()

	candidates, err := scanAgents(rows)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(requestedCapabilities))
	for _, c := range requestedCapabilities {
		wanted[normalizeCapability(c)] = struct{}{}
	}

	var scored []AgentScore
	for _, a := range candidates {
		have := make(map[string]struct{}, len(a.Capabilities))
		for _, c := range a.Capabilities {
			have[normalizeCapability(c)] = struct{}{}
		}
		matched := 0
		for c := range wanted {
			if _, ok := have[c]; ok {
				matched++
			}
		}
		if matched == 0 && len(wanted) > 0 {
			continue
		}
		coverage := 1.0
		if len(wanted) > 0 {
			coverage = float64(matched) / float64(len(wanted))
		}

		score := coverage
		if a.Status == "IDLE" {
			score += 0.2
		}
		if a.Health == "healthy" {
			score += 0.2
		}
		capBonus := float64(a.Capacity)
		if capBonus > 5 {
			capBonus = 5
		}
		score += 0.05 * capBonus

		scored = append(scored, AgentScore{Agent: a, Score: score})
	}

	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	return scored, nil
}

func normalizeCapability(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

const agentSelect = `
	SELECT id, name, agent_type, phase, capabilities, capacity, status, tags, health,
		last_heartbeat, crypto_public_key, metadata, created_at, updated_at
	FROM agents`

func scanAgent(row scannable) (*Agent, error) {
	var a Agent
	var capsJSON, tagsJSON, metaJSON []byte
	if err := row.Scan(&a.ID, &a.Name, &a.AgentType, &a.Phase, &capsJSON, &a.Capacity, &a.Status,
		&tagsJSON, &a.Health, &a.LastHeartbeat, &a.CryptoPublicKey, &metaJSON,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, noRows(err)
	}
	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &a.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal agent capabilities: %w", err)
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &a.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal agent tags: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal agent metadata: %w", err)
		}
	}
	return &a, nil
}

func scanAgents(rows *sql.Rows) ([]*Agent, error) {
	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
