// Package orchestrator implements the Orchestrator Worker (spec
// §4.8): the poll/claim/dispatch loop that turns pending tasks into
// either a direct, synchronous agent turn (Legacy mode) or a spawned
// remote sandbox (Sandbox mode), plus the Idle Sandbox Monitor (spec
// §4.9) that reclaims sandboxes that have stopped making progress.
//
// The claim/poll/sleep shape is the same one the teacher's pkg/queue
// Worker uses; it is not reused because a sandbox-mode claim does
// not resolve to a terminal task status on the same call the way
// that package's generic TaskExecutor contract assumes — a spawned
// sandbox's task stays "running" until a much later agent.completed
// event reaches the validator pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/cost"
	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/llm"
	"github.com/r3e-conductor/conductor/pkg/registry"
	"github.com/r3e-conductor/conductor/pkg/sandbox"
	"github.com/r3e-conductor/conductor/pkg/store"
	"github.com/r3e-conductor/conductor/pkg/validator"
)

// ExecutionMode selects how a Worker dispatches a claimed task.
type ExecutionMode string

const (
	// ModeLegacy drives the task to completion in-process against an
	// already-registered IDLE agent, calling the LLM directly.
	ModeLegacy ExecutionMode = "legacy"

	// ModeSandbox spawns a remote sandbox for the task and returns
	// immediately; completion arrives later as an agent.completed
	// event handled by the validator pipeline.
	ModeSandbox ExecutionMode = "sandbox"
)

var errNoWork = errors.New("orchestrator: no claimable work")

// taskStore is the subset of *store.Store a Worker depends on.
type taskStore interface {
	GetNextTask(ctx context.Context, phase string) (*store.Task, error)
	GetNextValidationTask(ctx context.Context) (*store.Task, error)
	AssignTask(ctx context.Context, taskID, agentID string) error
	SetTaskSandbox(ctx context.Context, taskID, sandboxID string) error
	UpdateTaskStatus(ctx context.Context, id, status string, result map[string]interface{}, errMsg *string) error
}

// agentDirectory is the subset of *registry.Registry a Worker depends
// on: finding an idle agent (Legacy mode) and registering a synthetic
// one for a spawned sandbox (Sandbox mode).
type agentDirectory interface {
	SearchAgents(ctx context.Context, phase string, requiredCapabilities []string, limit int, includeDegraded bool) ([]registry.SearchResult, error)
	RegisterAgent(ctx context.Context, req registry.RegistrationRequest) (*registry.RegistrationResult, error)
	TransitionStatus(ctx context.Context, req registry.TransitionRequest) (*store.Agent, error)
}

// AgentTemplate describes the synthetic agent a Sandbox-mode claim
// registers on the task's behalf.
type AgentTemplate struct {
	AgentType    string
	Capabilities []string
	Capacity     int
	Runtime      string
}

// Worker polls for and dispatches one task at a time within a single
// phase, in either Legacy or Sandbox execution mode.
type Worker struct {
	id    string
	phase string
	mode  ExecutionMode

	tasks     taskStore
	agents    agentDirectory
	gateway   sandbox.Gateway
	llmClient llm.Client
	costs     *cost.Engine
	publisher *events.Publisher

	queueCfg   *config.QueueConfig
	sandboxCfg *config.SandboxConfig
	templates  map[string]AgentTemplate
	defaultTpl AgentTemplate
	validatorTpl AgentTemplate
	llmModel   string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.RWMutex
	status       string
	lastActivity time.Time
}

// WorkerDeps bundles a Worker's collaborators.
type WorkerDeps struct {
	Tasks      taskStore
	Agents     agentDirectory
	Gateway    sandbox.Gateway
	LLMClient  llm.Client
	Costs      *cost.Engine
	Publisher  *events.Publisher
	QueueCfg   *config.QueueConfig
	SandboxCfg *config.SandboxConfig
	Templates  map[string]AgentTemplate
	DefaultTpl AgentTemplate
	ValidatorTpl AgentTemplate
	LLMModel   string
}

// NewWorker creates a Worker scoped to phase, dispatching claimed
// tasks in mode.
func NewWorker(id, phase string, mode ExecutionMode, deps WorkerDeps) *Worker {
	return &Worker{
		id:           id,
		phase:        phase,
		mode:         mode,
		tasks:        deps.Tasks,
		agents:       deps.Agents,
		gateway:      deps.Gateway,
		llmClient:    deps.LLMClient,
		costs:        deps.Costs,
		publisher:    deps.Publisher,
		queueCfg:     deps.QueueCfg,
		sandboxCfg:   deps.SandboxCfg,
		templates:    deps.Templates,
		defaultTpl:   deps.DefaultTpl,
		validatorTpl: deps.ValidatorTpl,
		llmModel:     deps.LLMModel,
		stopCh:       make(chan struct{}),
		status:       "idle",
		lastActivity: time.Now(),
	}
}

// Start begins the worker's polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the in-flight claim,
// if any, to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("orchestrator_worker_id", w.id, "phase", w.phase, "mode", w.mode)
	log.Info("orchestrator worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("orchestrator worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, orchestrator worker shutting down")
			return
		default:
			claimed, err := w.pollAndDispatch(ctx)
			if err != nil {
				log.Error("error dispatching task", "error", err)
				w.sleep(time.Second)
				continue
			}
			if !claimed {
				w.sleep(w.pollInterval())
			}
			// A successful claim loops back immediately (tight loop)
			// to drain any remaining backlog before idling again.
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndDispatch attempts one claim-and-dispatch cycle. The bool
// return reports whether a task was actually claimed, so the caller
// knows whether to poll-sleep or loop immediately.
func (w *Worker) pollAndDispatch(ctx context.Context) (bool, error) {
	switch w.mode {
	case ModeLegacy:
		return w.dispatchLegacy(ctx)
	case ModeSandbox:
		// Validator sandboxes take priority over fresh work: spec
		// §4.15 step 4 makes this worker the sole poller of
		// pending_validation, and a task stuck waiting for review
		// blocks its ticket's forward progress more than a not-yet-
		// started one does.
		claimed, err := w.dispatchValidation(ctx)
		if err != nil || claimed {
			return claimed, err
		}
		return w.dispatchSandbox(ctx)
	default:
		return false, fmt.Errorf("unknown execution mode %q", w.mode)
	}
}

// dispatchValidation implements spec §4.15 step 4: poll
// get_next_validation_task and, on a claim, spawn a validator
// sandbox carrying the VALIDATION_MODE environment spec §4.15
// requires. The claimed task is already in pending_validation
// (GetNextValidationTask applies no status transition of its own),
// so unlike dispatchSandbox this leaves status untouched until the
// spawn result is known.
func (w *Worker) dispatchValidation(ctx context.Context) (bool, error) {
	task, err := w.tasks.GetNextValidationTask(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("claim next validation task: %w", err)
	}

	w.setActive("validate:" + task.ID)
	defer w.setActive("idle")

	tpl := w.validatorTpl
	if tpl.AgentType == "" {
		tpl = w.defaultTpl
	}

	reg, err := w.agents.RegisterAgent(ctx, registry.RegistrationRequest{
		AgentType: tpl.AgentType, Phase: task.Phase, Capabilities: tpl.Capabilities, Capacity: tpl.Capacity,
	})
	if err != nil {
		errMsg := fmt.Sprintf("failed to register validator agent: %s", err.Error())
		_ = w.tasks.UpdateTaskStatus(ctx, task.ID, "failed", nil, &errMsg)
		return true, nil
	}
	agent := reg.Agent

	if _, err := w.agents.TransitionStatus(ctx, registry.TransitionRequest{
		AgentID: agent.ID, To: "IDLE", InitiatedBy: w.id, Reason: "validator registered",
	}); err != nil {
		slog.Warn("failed to transition validator agent to IDLE", "agent_id", agent.ID, "error", err)
	}
	if _, err := w.agents.TransitionStatus(ctx, registry.TransitionRequest{
		AgentID: agent.ID, To: "RUNNING", InitiatedBy: w.id, Reason: "validator spawning",
	}); err != nil {
		slog.Warn("failed to transition validator agent to RUNNING", "agent_id", agent.ID, "error", err)
	}

	iteration := 1
	if n, ok := task.Result["validation_iteration"].(int); ok {
		iteration = n
	} else if f, ok := task.Result["validation_iteration"].(float64); ok {
		iteration = int(f)
	}
	originalSandboxID := ""
	if task.SandboxID != nil {
		originalSandboxID = *task.SandboxID
	}
	extraEnv := validator.ValidatorEnv(task.ID, iteration, originalSandboxID, validator.RepoContext{})

	sandboxID, err := w.gateway.SpawnForTask(ctx, sandbox.SpawnRequest{
		TaskID: task.ID, AgentID: agent.ID, PhaseID: task.Phase,
		AgentType: tpl.AgentType, Runtime: tpl.Runtime, ExecutionMode: string(w.mode),
		ExtraEnv: extraEnv,
	})
	if err != nil {
		errMsg := fmt.Sprintf("validator spawn failed: %s", err.Error())
		_ = w.tasks.UpdateTaskStatus(ctx, task.ID, "failed", nil, &errMsg)
		if _, tErr := w.agents.TransitionStatus(ctx, registry.TransitionRequest{
			AgentID: agent.ID, To: "FAILED", InitiatedBy: w.id, Reason: "spawn failed", Force: true,
		}); tErr != nil {
			slog.Warn("failed to mark validator agent FAILED", "agent_id", agent.ID, "error", tErr)
		}
		return true, nil
	}

	if err := w.tasks.SetTaskSandbox(ctx, task.ID, sandboxID); err != nil {
		slog.Error("failed to record validator sandbox id on task", "task_id", task.ID, "error", err)
	}
	if err := w.tasks.AssignTask(ctx, task.ID, agent.ID); err != nil {
		slog.Error("failed to assign validator task", "task_id", task.ID, "error", err)
	}

	w.publish(ctx, events.TypeSandboxSpawned, task.TicketID, map[string]interface{}{
		"task_id": task.ID, "sandbox_id": sandboxID, "agent_id": agent.ID, "validation": true,
	})
	return true, nil
}

// dispatchLegacy implements spec §4.8's Legacy execution mode: find an
// IDLE agent, claim a task for this phase, assign it, and drive the
// agent's turn to completion in-process via the LLM client.
func (w *Worker) dispatchLegacy(ctx context.Context) (bool, error) {
	candidates, err := w.agents.SearchAgents(ctx, w.phase, nil, 5, false)
	if err != nil {
		return false, fmt.Errorf("search idle agents: %w", err)
	}
	var agent *store.Agent
	for _, c := range candidates {
		if c.Agent.Status == "IDLE" {
			agent = c.Agent
			break
		}
	}
	if agent == nil {
		return false, nil
	}

	task, err := w.tasks.GetNextTask(ctx, w.phase)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("claim next task: %w", err)
	}

	w.setActive("legacy:" + task.ID)
	defer w.setActive("idle")

	if err := w.tasks.AssignTask(ctx, task.ID, agent.ID); err != nil {
		return true, fmt.Errorf("assign task %s: %w", task.ID, err)
	}
	if _, err := w.agents.TransitionStatus(ctx, registry.TransitionRequest{
		AgentID: agent.ID, To: "RUNNING", InitiatedBy: w.id, Reason: "task claimed",
	}); err != nil {
		slog.Warn("failed to transition agent to RUNNING", "agent_id", agent.ID, "error", err)
	}
	w.publish(ctx, events.TypeTaskAssigned, task.TicketID, map[string]interface{}{
		"task_id": task.ID, "phase": task.Phase, "agent_id": agent.ID,
	})

	w.runLegacyTurn(ctx, task, agent)
	return true, nil
}

// runLegacyTurn calls the LLM once on the task's description, records
// the turn's cost, and transitions the task and agent to their
// terminal states. Legacy mode has no sandbox and no multi-turn
// conversation loop; one call is the entire "agent".
func (w *Worker) runLegacyTurn(ctx context.Context, task *store.Task, agent *store.Agent) {
	if err := w.tasks.UpdateTaskStatus(ctx, task.ID, "running", nil, nil); err != nil {
		slog.Error("failed to mark task running", "task_id", task.ID, "error", err)
	}

	resp, err := w.llmClient.Generate(ctx, llm.Request{
		Model: w.llmModel,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: task.Title + "\n\n" + task.Description},
		},
	})
	if err != nil {
		errMsg := err.Error()
		_ = w.tasks.UpdateTaskStatus(ctx, task.ID, "failed", nil, &errMsg)
		w.publish(ctx, events.TypeTaskFailed, task.TicketID, map[string]interface{}{
			"task_id": task.ID, "error": errMsg,
		})
		w.returnAgentToIdle(ctx, agent.ID)
		return
	}

	if w.costs != nil {
		agentID := agent.ID
		if _, err := w.costs.RecordTurn(ctx, cost.TurnParams{
			TaskID: task.ID, AgentID: &agentID, Provider: "anthropic", Model: w.llmModel,
			PromptTokens: resp.PromptTokens, CompletionTokens: resp.CompletionTokens,
		}); err != nil {
			slog.Warn("failed to record legacy turn cost", "task_id", task.ID, "error", err)
		}
	}

	result := map[string]interface{}{"response": resp.Content}
	if err := w.tasks.UpdateTaskStatus(ctx, task.ID, "completed", result, nil); err != nil {
		slog.Error("failed to mark task completed", "task_id", task.ID, "error", err)
	}
	w.publish(ctx, events.TypeTaskCompleted, task.TicketID, map[string]interface{}{
		"task_id": task.ID,
	})
	w.returnAgentToIdle(ctx, agent.ID)
}

func (w *Worker) returnAgentToIdle(ctx context.Context, agentID string) {
	if _, err := w.agents.TransitionStatus(ctx, registry.TransitionRequest{
		AgentID: agentID, To: "IDLE", InitiatedBy: w.id, Reason: "task finished",
	}); err != nil {
		slog.Warn("failed to return agent to IDLE", "agent_id", agentID, "error", err)
	}
}

// dispatchSandbox implements spec §4.8's Sandbox execution mode: claim
// a task with no agent filter, register a synthetic agent, spawn a
// sandbox for it, and record the spawn. Completion is asynchronous.
func (w *Worker) dispatchSandbox(ctx context.Context) (bool, error) {
	task, err := w.tasks.GetNextTask(ctx, w.phase)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("claim next task: %w", err)
	}

	w.setActive("sandbox:" + task.ID)
	defer w.setActive("idle")

	tpl, ok := w.templates[task.Phase]
	if !ok {
		tpl = w.defaultTpl
	}

	reg, err := w.agents.RegisterAgent(ctx, registry.RegistrationRequest{
		AgentType: tpl.AgentType, Phase: task.Phase, Capabilities: tpl.Capabilities, Capacity: tpl.Capacity,
	})
	if err != nil {
		errMsg := fmt.Sprintf("failed to register sandbox agent: %s", err.Error())
		_ = w.tasks.UpdateTaskStatus(ctx, task.ID, "failed", nil, &errMsg)
		return true, nil
	}
	agent := reg.Agent

	// SPAWNING -> IDLE -> RUNNING: the only legal path to RUNNING.
	if _, err := w.agents.TransitionStatus(ctx, registry.TransitionRequest{
		AgentID: agent.ID, To: "IDLE", InitiatedBy: w.id, Reason: "sandbox registered",
	}); err != nil {
		slog.Warn("failed to transition synthetic agent to IDLE", "agent_id", agent.ID, "error", err)
	}
	if _, err := w.agents.TransitionStatus(ctx, registry.TransitionRequest{
		AgentID: agent.ID, To: "RUNNING", InitiatedBy: w.id, Reason: "sandbox spawning",
	}); err != nil {
		slog.Warn("failed to transition synthetic agent to RUNNING", "agent_id", agent.ID, "error", err)
	}

	sandboxID, err := w.gateway.SpawnForTask(ctx, sandbox.SpawnRequest{
		TaskID: task.ID, AgentID: agent.ID, PhaseID: task.Phase,
		AgentType: tpl.AgentType, Runtime: tpl.Runtime, ExecutionMode: string(w.mode),
	})
	if err != nil {
		errMsg := fmt.Sprintf("sandbox spawn failed: %s", err.Error())
		_ = w.tasks.UpdateTaskStatus(ctx, task.ID, "failed", nil, &errMsg)
		if _, tErr := w.agents.TransitionStatus(ctx, registry.TransitionRequest{
			AgentID: agent.ID, To: "FAILED", InitiatedBy: w.id, Reason: "spawn failed", Force: true,
		}); tErr != nil {
			slog.Warn("failed to mark synthetic agent FAILED", "agent_id", agent.ID, "error", tErr)
		}
		return true, nil
	}

	if err := w.tasks.SetTaskSandbox(ctx, task.ID, sandboxID); err != nil {
		slog.Error("failed to record sandbox id on task", "task_id", task.ID, "error", err)
	}
	if err := w.tasks.AssignTask(ctx, task.ID, agent.ID); err != nil {
		slog.Error("failed to assign sandboxed task", "task_id", task.ID, "error", err)
	}
	if err := w.tasks.UpdateTaskStatus(ctx, task.ID, "running", nil, nil); err != nil {
		slog.Error("failed to mark sandboxed task running", "task_id", task.ID, "error", err)
	}

	w.publish(ctx, events.TypeSandboxSpawned, task.TicketID, map[string]interface{}{
		"task_id": task.ID, "sandbox_id": sandboxID, "agent_id": agent.ID,
	})
	return true, nil
}

func (w *Worker) publish(ctx context.Context, eventType, ticketID string, payload interface{}) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, eventType, events.TicketChannel(ticketID), payload); err != nil {
		slog.Warn("failed to publish orchestrator event", "event_type", eventType, "error", err)
	}
}

// pollInterval returns the configured poll interval plus jitter so
// workers in the same pool do not all query in lockstep (spec §5:
// 10s default poll when the queue is empty).
func (w *Worker) pollInterval() time.Duration {
	if w.queueCfg == nil {
		return 10 * time.Second
	}
	base := w.queueCfg.PollInterval
	jitter := w.queueCfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setActive(status string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.lastActivity = time.Now()
}

// Status reports the worker's current activity, for health reporting.
func (w *Worker) Status() (status string, lastActivity time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status, w.lastActivity
}
