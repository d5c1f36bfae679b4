// Package ingest is the write side of the sandbox event stream spec
// §4.7 describes the runtime as "publishing": every raw
// agent.heartbeat/.../agent.completed event a spawned sandbox reports
// lands here first, persisted verbatim before anything derives
// meaning from it (the idle monitor's alive/work-event classification,
// pkg/trajectory's context extraction). agent.completed additionally
// triggers the one piece of derived state this package owns: cost
// recording and handing the task to the validator pipeline, since
// both need to happen exactly once per reported completion and the
// sandbox event table is that event's only arrival point.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/r3e-conductor/conductor/pkg/cost"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/registry"
	"github.com/r3e-conductor/conductor/pkg/sandbox"
	"github.com/r3e-conductor/conductor/pkg/store"
	"github.com/r3e-conductor/conductor/pkg/validator"
)

// ingestStore is the subset of *store.Store the Handler depends on.
type ingestStore interface {
	AppendSandboxEvent(ctx context.Context, e *store.SandboxEvent) (*store.SandboxEvent, error)
	GetTask(ctx context.Context, id string) (*store.Task, error)
	ResolveAgentBySandbox(ctx context.Context, sandboxID string) (string, error)
}

// agentDirectory is the subset of *registry.Registry a Handler needs
// to retire the sandbox's synthetic agent once it reports completion.
type agentDirectory interface {
	TransitionStatus(ctx context.Context, req registry.TransitionRequest) (*store.Agent, error)
}

// Handler records every sandbox-reported event and, for
// agent.completed, drives the downstream cost and validation
// consequences spec §4.6/§4.15 describe.
type Handler struct {
	store      ingestStore
	agents     agentDirectory
	costs      *cost.Engine
	validators *validator.Pipeline
	publisher  *events.Publisher
	model      string
}

// New creates a Handler. model is the default model name attributed
// to a sandbox's recorded cost when the reported payload does not
// carry one of its own (the fixed sandbox.CompletedPayload shape
// never does).
func New(s ingestStore, agents agentDirectory, costs *cost.Engine, validators *validator.Pipeline, publisher *events.Publisher, model string) *Handler {
	return &Handler{store: s, agents: agents, costs: costs, validators: validators, publisher: publisher, model: model}
}

// Event is the inbound shape a sandbox runtime reports.
type Event struct {
	SandboxID string
	TaskID    string
	EventType string
	Payload   map[string]interface{}
}

// Record persists ev and, for agent.completed, applies its downstream
// effects. A failure in the completion side-effects is logged and
// does not unwind the already-persisted event row: spec §7's
// propagation policy treats cost/validation follow-through here the
// same as any other best-effort post-event action.
func (h *Handler) Record(ctx context.Context, ev Event) error {
	var taskID *string
	if ev.TaskID != "" {
		taskID = &ev.TaskID
	}

	if _, err := h.store.AppendSandboxEvent(ctx, &store.SandboxEvent{
		SandboxID: ev.SandboxID,
		TaskID:    taskID,
		EventType: ev.EventType,
		Payload:   ev.Payload,
	}); err != nil {
		return fmt.Errorf("append sandbox event: %w", err)
	}

	if ev.EventType != sandbox.EventCompleted {
		return nil
	}
	if ev.TaskID == "" {
		slog.Warn("agent.completed reported with no task_id, skipping completion handling", "sandbox_id", ev.SandboxID)
		return nil
	}
	h.handleCompleted(ctx, ev.SandboxID, ev.TaskID, ev.Payload)
	return nil
}

func (h *Handler) handleCompleted(ctx context.Context, sandboxID, taskID string, payload map[string]interface{}) {
	log := slog.With("sandbox_id", sandboxID, "task_id", taskID)

	h.recordCost(ctx, sandboxID, taskID, payload)

	if agentID, err := h.store.ResolveAgentBySandbox(ctx, sandboxID); err != nil {
		log.Warn("failed to resolve agent for completed sandbox", "error", err)
	} else if h.agents != nil {
		if _, err := h.agents.TransitionStatus(ctx, registry.TransitionRequest{
			AgentID: agentID, To: "TERMINATED", InitiatedBy: "sandbox-gateway", Reason: "agent.completed",
		}); err != nil {
			log.Warn("failed to terminate agent after completion", "agent_id", agentID, "error", err)
		}
	}

	if h.validators == nil {
		return
	}

	task, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		log.Error("failed to load task for completion handling", "error", err)
		return
	}

	switch task.Status {
	case "pending_validation":
		if err := h.validators.HandleResult(ctx, taskID, resultFromPayload(payload)); err != nil {
			log.Error("failed to handle validation result", "error", err)
		}
	case "running":
		implResult := map[string]interface{}{}
		for k, v := range payload {
			implResult[k] = v
		}
		if err := h.validators.RequestValidation(ctx, taskID, implResult); err != nil {
			log.Error("failed to request validation", "error", err)
		}
	default:
		log.Warn("agent.completed reported for task in unexpected status", "status", task.Status)
	}
}

func (h *Handler) recordCost(ctx context.Context, sandboxID, taskID string, payload map[string]interface{}) {
	if h.costs == nil {
		return
	}

	sid := sandboxID
	params := cost.TurnParams{
		TaskID:    taskID,
		SandboxID: &sid,
		Provider:  "anthropic",
		Model:     h.model,
	}
	if sessionID, ok := payload["session_id"].(string); ok && sessionID != "" {
		params.SessionID = &sessionID
	}
	params.PromptTokens = intField(payload, "input_tokens")
	params.CompletionTokens = intField(payload, "output_tokens")

	if _, err := h.costs.RecordTurn(ctx, params); err != nil {
		slog.Warn("failed to record sandbox turn cost", "sandbox_id", sandboxID, "task_id", taskID, "error", err)
	}
}

func resultFromPayload(payload map[string]interface{}) validator.Result {
	res := validator.Result{
		Passed:   boolField(payload, "passed"),
		Feedback: stringField(payload, "feedback"),
	}
	if evidence, ok := payload["evidence"].(map[string]interface{}); ok {
		res.Evidence = evidence
	}
	if recs, ok := payload["recommendations"].([]interface{}); ok {
		for _, r := range recs {
			if s, ok := r.(string); ok {
				res.Recommendations = append(res.Recommendations, s)
			}
		}
	}
	return res
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func boolField(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}
