package guardian

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// Authority ranks who (or what) initiated a Guardian Intervention,
// lowest first (spec §4.16: WORKER < WATCHDOG < MONITOR < GUARDIAN).
type Authority int

const (
	AuthorityWorker Authority = iota
	AuthorityWatchdog
	AuthorityMonitor
	AuthorityGuardian
)

func (a Authority) String() string {
	switch a {
	case AuthorityWorker:
		return "WORKER"
	case AuthorityWatchdog:
		return "WATCHDOG"
	case AuthorityMonitor:
		return "MONITOR"
	case AuthorityGuardian:
		return "GUARDIAN"
	default:
		return "UNKNOWN"
	}
}

// ErrInsufficientAuthority is returned when an intervention is
// requested by a caller whose authority does not meet the action's
// required floor.
var ErrInsufficientAuthority = errors.New("insufficient authority for intervention")

// validPriorities is the closed set override_task_priority accepts.
var validPriorities = map[string]bool{"CRITICAL": true, "HIGH": true, "MEDIUM": true, "LOW": true}

// interventionStore is the subset of *store.Store the Intervention
// service depends on.
type interventionStore interface {
	GetTask(ctx context.Context, id string) (*store.Task, error)
	UpdateTaskStatus(ctx context.Context, id, status string, result map[string]interface{}, errMsg *string) error
	SetTaskPriority(ctx context.Context, taskID, priority string) error
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	AdjustAgentCapacity(ctx context.Context, tx *sql.Tx, agentID string, delta int) (int, error)
	CreateGuardianAction(ctx context.Context, a *store.GuardianAction) (*store.GuardianAction, error)
	GetGuardianAction(ctx context.Context, id string) (*store.GuardianAction, error)
	RevertGuardianAction(ctx context.Context, id string) error
}

// InterventionService executes the authority-ranked Guardian
// Intervention actions (spec §4.16), auditing every one — whether
// applied or merely recorded — as an append-only GuardianAction row,
// mirroring the teacher's append-only system-warning log shape
// (pkg/services/system_warnings.go) generalized from in-memory to
// persisted audit trail.
type InterventionService struct {
	store     interventionStore
	publisher *events.Publisher
	cfg       *config.MonitoringConfig
}

// NewInterventionService creates an InterventionService.
func NewInterventionService(s interventionStore, publisher *events.Publisher, cfg *config.MonitoringConfig) *InterventionService {
	return &InterventionService{store: s, publisher: publisher, cfg: cfg}
}

// shouldExecute reports whether an action should actually mutate
// state, versus only being recorded with executed=false. manual=true
// always executes; otherwise it follows the global auto-steering
// toggle (spec.md's "project's guardian_auto_steering setting" has no
// per-project resolution in this schema — see DESIGN.md — so the
// global config.MonitoringConfig.AutoSteeringEnabled is the gate).
func (s *InterventionService) shouldExecute(manual bool) bool {
	return manual || s.cfg.AutoSteeringEnabled
}

func requireGuardian(authority Authority) error {
	if authority < AuthorityGuardian {
		return fmt.Errorf("%w: %s requires %s, got %s",
			ErrInsufficientAuthority, "this intervention", AuthorityGuardian, authority)
	}
	return nil
}

// EmergencyCancelTask implements spec §4.16's emergency_cancel_task.
func (s *InterventionService) EmergencyCancelTask(ctx context.Context, taskID, reason string, authority Authority, initiatedBy string, manual bool) (*store.GuardianAction, error) {
	if err := requireGuardian(authority); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	before := map[string]interface{}{"status": task.Status}
	after := map[string]interface{}{"status": "failed"}
	executed := s.shouldExecute(manual)

	if executed {
		errMsg := fmt.Sprintf("EMERGENCY CANCELLATION: %s", reason)
		if err := s.store.UpdateTaskStatus(ctx, taskID, "failed", nil, &errMsg); err != nil {
			return nil, fmt.Errorf("cancel task %s: %w", taskID, err)
		}
	}

	action, err := s.audit(ctx, "emergency_cancel_task", authority, initiatedBy, reason, manual, executed, "task", taskID, before, after)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeGuardianInterventionStarted, action, map[string]interface{}{"task_id": taskID})
	return action, nil
}

// ReallocateAgentCapacity implements spec §4.16's
// reallocate_agent_capacity. The decrement/increment pair is applied
// inside one transaction so the shared capacity counter (spec §5's
// "only contended shared counter besides task status") never observes
// a partial reallocation.
func (s *InterventionService) ReallocateAgentCapacity(ctx context.Context, fromAgentID, toAgentID string, n int, reason string, authority Authority, initiatedBy string, manual bool) (*store.GuardianAction, error) {
	if err := requireGuardian(authority); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: reallocation amount must be positive", errs.ErrInvalidInput)
	}

	from, err := s.store.GetAgent(ctx, fromAgentID)
	if err != nil {
		return nil, fmt.Errorf("load source agent %s: %w", fromAgentID, err)
	}
	to, err := s.store.GetAgent(ctx, toAgentID)
	if err != nil {
		return nil, fmt.Errorf("load target agent %s: %w", toAgentID, err)
	}
	if from.Capacity < n {
		return nil, fmt.Errorf("%w: agent %s has capacity %d, cannot reallocate %d",
			errs.ErrInvalidInput, fromAgentID, from.Capacity, n)
	}

	before := map[string]interface{}{"from_capacity": from.Capacity, "to_capacity": to.Capacity}
	after := map[string]interface{}{"from_capacity": from.Capacity - n, "to_capacity": to.Capacity + n}
	executed := s.shouldExecute(manual)

	if executed {
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := s.store.AdjustAgentCapacity(ctx, tx, fromAgentID, -n); err != nil {
				return err
			}
			if _, err := s.store.AdjustAgentCapacity(ctx, tx, toAgentID, n); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reallocate agent capacity: %w", err)
		}
	}

	action, err := s.audit(ctx, "reallocate_agent_capacity", authority, initiatedBy, reason, manual, executed, "agent", fromAgentID, before, after)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeGuardianResourceReallocated, action, map[string]interface{}{
		"from_agent_id": fromAgentID, "to_agent_id": toAgentID, "amount": n,
	})
	return action, nil
}

// OverrideTaskPriority implements spec §4.16's override_task_priority.
func (s *InterventionService) OverrideTaskPriority(ctx context.Context, taskID, newPriority, reason string, authority Authority, initiatedBy string, manual bool) (*store.GuardianAction, error) {
	if err := requireGuardian(authority); err != nil {
		return nil, err
	}
	if !validPriorities[newPriority] {
		return nil, fmt.Errorf("%w: priority %q is not one of CRITICAL, HIGH, MEDIUM, LOW", errs.ErrInvalidInput, newPriority)
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	before := map[string]interface{}{"priority": task.Priority}
	after := map[string]interface{}{"priority": newPriority}
	executed := s.shouldExecute(manual)

	if executed {
		if err := s.store.SetTaskPriority(ctx, taskID, newPriority); err != nil {
			return nil, fmt.Errorf("override task priority for %s: %w", taskID, err)
		}
	}

	action, err := s.audit(ctx, "override_task_priority", authority, initiatedBy, reason, manual, executed, "task", taskID, before, after)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeGuardianInterventionCompleted, action, map[string]interface{}{"task_id": taskID, "new_priority": newPriority})
	return action, nil
}

// RevertIntervention implements spec §4.16's revert_intervention. It
// only flips the target action's reverted flag and audits the
// reversal itself; it deliberately does not attempt to undo whatever
// business-state change the original action made, per spec.md's note
// that "reversal semantics are up to a follow-up action."
func (s *InterventionService) RevertIntervention(ctx context.Context, actionID, reason, initiatedBy string, authority Authority) (*store.GuardianAction, error) {
	if err := requireGuardian(authority); err != nil {
		return nil, err
	}
	target, err := s.store.GetGuardianAction(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("load guardian action %s: %w", actionID, err)
	}
	if target.Reverted {
		return nil, fmt.Errorf("%w: guardian action %s already reverted", errs.ErrInvalidTransition, actionID)
	}

	if err := s.store.RevertGuardianAction(ctx, actionID); err != nil {
		return nil, fmt.Errorf("revert guardian action %s: %w", actionID, err)
	}

	before := map[string]interface{}{"reverted": false}
	after := map[string]interface{}{"reverted": true}
	action, err := s.audit(ctx, "revert_intervention", authority, initiatedBy, reason, true, true, "guardian_action", actionID, before, after)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeGuardianInterventionReverted, action, map[string]interface{}{"reverted_action_id": actionID})
	return action, nil
}

func (s *InterventionService) audit(ctx context.Context, actionType string, authority Authority, initiatedBy, reason string, manual, executed bool, entityType, entityID string, before, after map[string]interface{}) (*store.GuardianAction, error) {
	a := &store.GuardianAction{
		ActionType:       actionType,
		Authority:        authority.String(),
		InitiatedBy:      initiatedBy,
		Reason:           reason,
		Manual:           manual,
		Executed:         executed,
		TargetEntityType: &entityType,
		TargetEntityID:   &entityID,
		Before:           before,
		After:            after,
	}
	persisted, err := s.store.CreateGuardianAction(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("audit %s: %w", actionType, err)
	}
	return persisted, nil
}

func (s *InterventionService) publish(ctx context.Context, eventType string, action *store.GuardianAction, extra map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	payload := map[string]interface{}{
		"action_id":   action.ID,
		"action_type": action.ActionType,
		"executed":    action.Executed,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := s.publisher.Publish(ctx, eventType, events.GlobalChannel, payload); err != nil {
		slog.Warn("failed to publish guardian intervention event", "event_type", eventType, "error", err)
	}
}
