package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/llm"
	"github.com/r3e-conductor/conductor/pkg/registry"
	"github.com/r3e-conductor/conductor/pkg/sandbox"
	"github.com/r3e-conductor/conductor/pkg/store"
)

type fakeTaskStore struct {
	mu        sync.Mutex
	pending   []*store.Task
	byID      map[string]*store.Task
	sandboxes map[string]string
}

func newFakeTaskStore(tasks ...*store.Task) *fakeTaskStore {
	f := &fakeTaskStore{byID: make(map[string]*store.Task), sandboxes: make(map[string]string)}
	for _, t := range tasks {
		f.pending = append(f.pending, t)
		f.byID[t.ID] = t
	}
	return f
}

func (f *fakeTaskStore) GetNextTask(_ context.Context, phase string) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.pending {
		if phase != "" && t.Phase != phase {
			continue
		}
		f.pending = append(f.pending[:i], f.pending[i+1:]...)
		t.Status = "assigned"
		return t, nil
	}
	return nil, errs.ErrNotFound
}

func (f *fakeTaskStore) GetNextValidationTask(_ context.Context) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.Status == "pending_validation" {
			return t, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeTaskStore) AssignTask(_ context.Context, taskID, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[taskID]
	if !ok {
		return errs.ErrNotFound
	}
	t.AssignedAgentID = &agentID
	return nil
}

func (f *fakeTaskStore) SetTaskSandbox(_ context.Context, taskID, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sandboxes[taskID] = sandboxID
	if t, ok := f.byID[taskID]; ok {
		t.SandboxID = &sandboxID
	}
	return nil
}

func (f *fakeTaskStore) UpdateTaskStatus(_ context.Context, id, status string, result map[string]interface{}, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	t.Status = status
	if result != nil {
		t.Result = result
	}
	t.ErrorMessage = errMsg
	return nil
}

type fakeAgentDirectory struct {
	mu          sync.Mutex
	idle        []*store.Agent
	registered  []*store.Agent
	transitions []registry.TransitionRequest
	nextID      int
}

func (f *fakeAgentDirectory) SearchAgents(_ context.Context, _ string, _ []string, _ int, _ bool) ([]registry.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]registry.SearchResult, 0, len(f.idle))
	for _, a := range f.idle {
		out = append(out, registry.SearchResult{Agent: a, Score: 1})
	}
	return out, nil
}

func (f *fakeAgentDirectory) RegisterAgent(_ context.Context, req registry.RegistrationRequest) (*registry.RegistrationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a := &store.Agent{ID: "synthetic-agent", AgentType: req.AgentType, Phase: req.Phase, Status: "SPAWNING"}
	f.registered = append(f.registered, a)
	return &registry.RegistrationResult{Agent: a}, nil
}

func (f *fakeAgentDirectory) TransitionStatus(_ context.Context, req registry.TransitionRequest) (*store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, req)
	for _, a := range f.idle {
		if a.ID == req.AgentID {
			a.Status = req.To
			return a, nil
		}
	}
	for _, a := range f.registered {
		if a.ID == req.AgentID {
			a.Status = req.To
			return a, nil
		}
	}
	return nil, errs.ErrNotFound
}

func TestDispatchLegacyClaimsAssignsAndCompletes(t *testing.T) {
	task := &store.Task{ID: "t1", TicketID: "tick1", Phase: "design", Status: "pending"}
	tasks := newFakeTaskStore(task)
	agent := &store.Agent{ID: "agent-1", Status: "IDLE", Phase: "design"}
	agents := &fakeAgentDirectory{idle: []*store.Agent{agent}}

	llmClient := llm.NewFakeClient()
	llmClient.AddSequential(llm.ScriptEntry{Response: &llm.Response{Content: "done", PromptTokens: 10, CompletionTokens: 20}})

	w := NewWorker("w1", "design", ModeLegacy, WorkerDeps{
		Tasks: tasks, Agents: agents, LLMClient: llmClient, LLMModel: "claude",
	})

	claimed, err := w.dispatchLegacy(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "completed", task.Status)
	assert.Equal(t, "IDLE", agent.Status)
	assert.Equal(t, "done", task.Result["response"])
}

func TestDispatchLegacyNoIdleAgentSkips(t *testing.T) {
	task := &store.Task{ID: "t1", TicketID: "tick1", Phase: "design", Status: "pending"}
	tasks := newFakeTaskStore(task)
	agents := &fakeAgentDirectory{}

	w := NewWorker("w1", "design", ModeLegacy, WorkerDeps{Tasks: tasks, Agents: agents, LLMClient: llm.NewFakeClient()})
	claimed, err := w.dispatchLegacy(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "pending", task.Status)
}

func TestDispatchLegacyLLMFailureFailsTaskAndFreesAgent(t *testing.T) {
	task := &store.Task{ID: "t1", TicketID: "tick1", Phase: "design", Status: "pending"}
	tasks := newFakeTaskStore(task)
	agent := &store.Agent{ID: "agent-1", Status: "IDLE", Phase: "design"}
	agents := &fakeAgentDirectory{idle: []*store.Agent{agent}}

	llmClient := llm.NewFakeClient()
	llmClient.AddSequential(llm.ScriptEntry{Err: assertError{}})

	w := NewWorker("w1", "design", ModeLegacy, WorkerDeps{Tasks: tasks, Agents: agents, LLMClient: llmClient})
	claimed, err := w.dispatchLegacy(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "failed", task.Status)
	assert.Equal(t, "IDLE", agent.Status)
}

func TestDispatchSandboxSpawnsAndAssigns(t *testing.T) {
	task := &store.Task{ID: "t1", TicketID: "tick1", Phase: "build", Status: "pending"}
	tasks := newFakeTaskStore(task)
	agents := &fakeAgentDirectory{}
	gw := sandbox.NewFakeGateway()

	w := NewWorker("w1", "build", ModeSandbox, WorkerDeps{
		Tasks: tasks, Agents: agents, Gateway: gw,
		DefaultTpl: AgentTemplate{AgentType: "implementer", Capabilities: []string{"code"}, Capacity: 1},
	})

	claimed, err := w.dispatchSandbox(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "running", task.Status)
	require.NotNil(t, task.SandboxID)
	assert.False(t, gw.IsTerminated(*task.SandboxID))
}

func TestDispatchSandboxSpawnFailureMarksTaskFailed(t *testing.T) {
	task := &store.Task{ID: "t1", TicketID: "tick1", Phase: "build", Status: "pending"}
	tasks := newFakeTaskStore(task)
	agents := &fakeAgentDirectory{}
	gw := sandbox.NewFakeGateway()
	gw.SetSpawnError(assertError{})

	w := NewWorker("w1", "build", ModeSandbox, WorkerDeps{Tasks: tasks, Agents: agents, Gateway: gw})
	claimed, err := w.dispatchSandbox(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "failed", task.Status)
}

func TestDispatchSandboxNoTaskAvailable(t *testing.T) {
	tasks := newFakeTaskStore()
	agents := &fakeAgentDirectory{}
	gw := sandbox.NewFakeGateway()

	w := NewWorker("w1", "build", ModeSandbox, WorkerDeps{Tasks: tasks, Agents: agents, Gateway: gw})
	claimed, err := w.dispatchSandbox(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestDispatchValidationSpawnsWithValidationEnv(t *testing.T) {
	task := &store.Task{ID: "t1", TicketID: "tick1", Phase: "build", Status: "pending_validation",
		Result: map[string]interface{}{"validation_iteration": 2}}
	tasks := newFakeTaskStore()
	tasks.byID["t1"] = task
	agents := &fakeAgentDirectory{}
	gw := sandbox.NewFakeGateway()

	w := NewWorker("w1", "build", ModeSandbox, WorkerDeps{
		Tasks: tasks, Agents: agents, Gateway: gw,
		ValidatorTpl: AgentTemplate{AgentType: "validator", Capabilities: []string{"review"}, Capacity: 1},
	})

	claimed, err := w.dispatchValidation(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NotNil(t, task.SandboxID)
	env := gw.SpawnedEnv(*task.SandboxID)
	assert.Equal(t, "true", env["VALIDATION_MODE"])
	assert.Equal(t, "t1", env["ORIGINAL_TASK_ID"])
	assert.Equal(t, "2", env["VALIDATION_ITERATION"])
}

func TestDispatchValidationNoneAvailable(t *testing.T) {
	tasks := newFakeTaskStore()
	agents := &fakeAgentDirectory{}
	gw := sandbox.NewFakeGateway()

	w := NewWorker("w1", "build", ModeSandbox, WorkerDeps{Tasks: tasks, Agents: agents, Gateway: gw})
	claimed, err := w.dispatchValidation(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
