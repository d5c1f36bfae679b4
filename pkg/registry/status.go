package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// legalTransitions enumerates the agent status state machine. A
// transition not present here is rejected unless the caller forces it.
var legalTransitions = map[string]map[string]bool{
	"SPAWNING": {"IDLE": true},
	"IDLE":     {"RUNNING": true},
	"RUNNING":  {"IDLE": true, "DEGRADED": true},
	"DEGRADED": {"RUNNING": true, "IDLE": true},
}

var terminalStatuses = map[string]bool{
	"TERMINATED":  true,
	"QUARANTINED": true,
	"FAILED":      true,
}

func isLegalTransition(from, to string) bool {
	if terminalStatuses[from] {
		return false
	}
	if to == "TERMINATED" || to == "FAILED" {
		return true
	}
	return legalTransitions[from][to]
}

// TransitionRequest describes a requested agent status change.
type TransitionRequest struct {
	AgentID     string
	To          string
	InitiatedBy string
	Reason      string
	Force       bool
}

// TransitionStatus applies an agent status transition per the
// SPAWNING/IDLE/RUNNING/DEGRADED/TERMINATED/QUARANTINED/FAILED state
// machine. QUARANTINED is reachable only by force. Any transition not
// in the table is rejected with errs.ErrInvalidTransition unless Force
// is set, in which case it is audited via a GuardianAction row and
// applied anyway. Every applied transition emits an agent status-change
// event on the bus.
func (r *Registry) TransitionStatus(ctx context.Context, req TransitionRequest) (*store.Agent, error) {
	agent, err := r.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	forced := false
	if req.To == "QUARANTINED" {
		if !req.Force {
			return nil, errs.NewTransitionError("agent", agent.Status, req.To)
		}
		forced = true
	} else if !isLegalTransition(agent.Status, req.To) {
		if !req.Force {
			return nil, errs.NewTransitionError("agent", agent.Status, req.To)
		}
		forced = true
	}

	if forced {
		entityType := "agent"
		if _, err := r.store.CreateGuardianAction(ctx, &store.GuardianAction{
			ActionType:       "agent.status.forced",
			Authority:        "operator",
			InitiatedBy:      req.InitiatedBy,
			Reason:           req.Reason,
			Manual:           true,
			Executed:         true,
			TargetEntityType: &entityType,
			TargetEntityID:   &req.AgentID,
			Before:           map[string]interface{}{"status": agent.Status},
			After:            map[string]interface{}{"status": req.To},
		}); err != nil {
			return nil, fmt.Errorf("audit forced transition: %w", err)
		}
	}

	from := agent.Status
	if err := r.store.UpdateAgentStatus(ctx, req.AgentID, req.To); err != nil {
		return nil, fmt.Errorf("apply agent transition: %w", err)
	}
	agent.Status = req.To

	r.publish(ctx, events.TypeAgentEvent, "", map[string]interface{}{
		"agent_id":     req.AgentID,
		"from":         from,
		"to":           req.To,
		"initiated_by": req.InitiatedBy,
		"reason":       req.Reason,
		"forced":       forced,
	})

	return agent, nil
}

// Heartbeat records a liveness signal from agentID, clearing any
// degraded health mark recorded by DetectStale.
func (r *Registry) Heartbeat(ctx context.Context, agentID string) error {
	return r.store.RecordHeartbeat(ctx, agentID)
}

// DetectStale marks every agent whose heartbeat is older than cutoff
// as health=degraded, returning the agents that were flagged. It does
// not change status; a persistently stale agent is expected to be
// force-transitioned to FAILED/restarted by RestartStaleAgents on top
// of this.
func (r *Registry) DetectStale(ctx context.Context, cutoff time.Time) ([]*store.Agent, error) {
	stale, err := r.store.ListStaleHeartbeats(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale heartbeats: %w", err)
	}
	for _, a := range stale {
		if a.Health == "degraded" {
			continue
		}
		if err := r.store.MarkDegraded(ctx, a.ID); err != nil {
			return nil, fmt.Errorf("mark agent %s degraded: %w", a.ID, err)
		}
		a.Health = "degraded"
	}
	return stale, nil
}

// RestartStaleAgents implements spec.md §1 item 3 / §2 C3's "automatic
// restart": any agent whose heartbeat has not been seen since
// restartCutoff (a longer window than DetectStale's degraded-marking
// cutoff — an agent gets one DetectStale pass as a degraded warning
// before this forcibly replaces it) is force-transitioned to FAILED
// and replaced by a freshly registered agent carrying the same
// agent_type/phase/capabilities/capacity/tags, so capacity lost to a
// crashed or hung agent is restored without an operator's
// intervention. Returns one RestartedAgent per agent actually
// replaced; a replacement failure for one agent does not block the
// rest.
func (r *Registry) RestartStaleAgents(ctx context.Context, restartCutoff time.Time) ([]RestartedAgent, error) {
	stale, err := r.store.ListStaleHeartbeats(ctx, restartCutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale heartbeats for restart: %w", err)
	}

	var restarted []RestartedAgent
	var failures []error
	for _, a := range stale {
		if terminalStatuses[a.Status] {
			continue
		}

		if _, err := r.TransitionStatus(ctx, TransitionRequest{
			AgentID:     a.ID,
			To:          "FAILED",
			InitiatedBy: "status_manager.auto_restart",
			Reason:      fmt.Sprintf("no heartbeat since %s", a.LastHeartbeat),
			Force:       true,
		}); err != nil {
			failures = append(failures, fmt.Errorf("fail stale agent %s: %w", a.ID, err))
			continue
		}

		result, err := r.RegisterAgent(ctx, RegistrationRequest{
			AgentType:    a.AgentType,
			Phase:        a.Phase,
			Capabilities: a.Capabilities,
			Capacity:     a.Capacity,
			Tags:         a.Tags,
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("register replacement for agent %s: %w", a.ID, err))
			continue
		}

		r.publish(ctx, events.TypeAgentRestarted, "", map[string]interface{}{
			"old_agent_id": a.ID,
			"new_agent_id": result.Agent.ID,
			"agent_type":   a.AgentType,
			"phase":        a.Phase,
			"reason":       "heartbeat_timeout",
		})

		restarted = append(restarted, RestartedAgent{Old: a, New: result.Agent})
	}
	return restarted, errors.Join(failures...)
}

// RestartedAgent pairs a failed agent with the replacement
// RestartStaleAgents registered in its place.
type RestartedAgent struct {
	Old *store.Agent
	New *store.Agent
}
