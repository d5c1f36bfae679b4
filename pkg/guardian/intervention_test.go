package guardian

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/store"
)

type fakeInterventionStore struct {
	tasks    map[string]*store.Task
	agents   map[string]*store.Agent
	actions  map[string]*store.GuardianAction
	actionSeq int
}

func newFakeInterventionStore() *fakeInterventionStore {
	return &fakeInterventionStore{
		tasks:   make(map[string]*store.Task),
		agents:  make(map[string]*store.Agent),
		actions: make(map[string]*store.GuardianAction),
	}
}

func (f *fakeInterventionStore) GetTask(_ context.Context, id string) (*store.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, errTest("task not found")
	}
	return t, nil
}

func (f *fakeInterventionStore) UpdateTaskStatus(_ context.Context, id, status string, _ map[string]interface{}, errMsg *string) error {
	f.tasks[id].Status = status
	f.tasks[id].ErrorMessage = errMsg
	return nil
}

func (f *fakeInterventionStore) SetTaskPriority(_ context.Context, taskID, priority string) error {
	f.tasks[taskID].Priority = priority
	return nil
}

func (f *fakeInterventionStore) GetAgent(_ context.Context, id string) (*store.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return nil, errTest("agent not found")
	}
	return a, nil
}

func (f *fakeInterventionStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

func (f *fakeInterventionStore) AdjustAgentCapacity(_ context.Context, _ *sql.Tx, agentID string, delta int) (int, error) {
	f.agents[agentID].Capacity += delta
	return f.agents[agentID].Capacity, nil
}

func (f *fakeInterventionStore) CreateGuardianAction(_ context.Context, a *store.GuardianAction) (*store.GuardianAction, error) {
	f.actionSeq++
	a.ID = "action-" + string(rune('0'+f.actionSeq))
	f.actions[a.ID] = a
	return a, nil
}

func (f *fakeInterventionStore) GetGuardianAction(_ context.Context, id string) (*store.GuardianAction, error) {
	a, ok := f.actions[id]
	if !ok {
		return nil, errTest("action not found")
	}
	return a, nil
}

func (f *fakeInterventionStore) RevertGuardianAction(_ context.Context, id string) error {
	f.actions[id].Reverted = true
	return nil
}

func TestEmergencyCancelTaskRequiresGuardianAuthority(t *testing.T) {
	s := newFakeInterventionStore()
	s.tasks["t1"] = &store.Task{ID: "t1", Status: "running"}
	svc := NewInterventionService(s, nil, &config.MonitoringConfig{AutoSteeringEnabled: true})

	_, err := svc.EmergencyCancelTask(context.Background(), "t1", "runaway loop", AuthorityMonitor, "watchdog-1", false)
	assert.ErrorIs(t, err, ErrInsufficientAuthority)
	assert.Equal(t, "running", s.tasks["t1"].Status)
}

func TestEmergencyCancelTaskExecutesWhenAuthorized(t *testing.T) {
	s := newFakeInterventionStore()
	s.tasks["t1"] = &store.Task{ID: "t1", Status: "running"}
	svc := NewInterventionService(s, nil, &config.MonitoringConfig{AutoSteeringEnabled: true})

	action, err := svc.EmergencyCancelTask(context.Background(), "t1", "runaway loop", AuthorityGuardian, "guardian", false)
	require.NoError(t, err)
	assert.True(t, action.Executed)
	assert.Equal(t, "failed", s.tasks["t1"].Status)
	require.NotNil(t, s.tasks["t1"].ErrorMessage)
	assert.Contains(t, *s.tasks["t1"].ErrorMessage, "EMERGENCY CANCELLATION: runaway loop")
}

func TestInterventionRecordedButNotExecutedWhenAutoSteeringDisabled(t *testing.T) {
	s := newFakeInterventionStore()
	s.tasks["t1"] = &store.Task{ID: "t1", Status: "running"}
	svc := NewInterventionService(s, nil, &config.MonitoringConfig{AutoSteeringEnabled: false})

	action, err := svc.EmergencyCancelTask(context.Background(), "t1", "runaway loop", AuthorityGuardian, "guardian", false)
	require.NoError(t, err)
	assert.False(t, action.Executed)
	assert.Equal(t, "running", s.tasks["t1"].Status)
}

func TestManualInterventionBypassesAutoSteeringGate(t *testing.T) {
	s := newFakeInterventionStore()
	s.tasks["t1"] = &store.Task{ID: "t1", Status: "running"}
	svc := NewInterventionService(s, nil, &config.MonitoringConfig{AutoSteeringEnabled: false})

	action, err := svc.EmergencyCancelTask(context.Background(), "t1", "operator override", AuthorityGuardian, "operator", true)
	require.NoError(t, err)
	assert.True(t, action.Executed)
	assert.Equal(t, "failed", s.tasks["t1"].Status)
}

func TestReallocateAgentCapacityTransfersAtomically(t *testing.T) {
	s := newFakeInterventionStore()
	s.agents["from"] = &store.Agent{ID: "from", Capacity: 5}
	s.agents["to"] = &store.Agent{ID: "to", Capacity: 1}
	svc := NewInterventionService(s, nil, &config.MonitoringConfig{AutoSteeringEnabled: true})

	action, err := svc.ReallocateAgentCapacity(context.Background(), "from", "to", 2, "rebalance", AuthorityGuardian, "guardian", false)
	require.NoError(t, err)
	assert.True(t, action.Executed)
	assert.Equal(t, 3, s.agents["from"].Capacity)
	assert.Equal(t, 3, s.agents["to"].Capacity)
}

func TestReallocateAgentCapacityRejectsInsufficientCapacity(t *testing.T) {
	s := newFakeInterventionStore()
	s.agents["from"] = &store.Agent{ID: "from", Capacity: 1}
	s.agents["to"] = &store.Agent{ID: "to", Capacity: 1}
	svc := NewInterventionService(s, nil, &config.MonitoringConfig{AutoSteeringEnabled: true})

	_, err := svc.ReallocateAgentCapacity(context.Background(), "from", "to", 5, "rebalance", AuthorityGuardian, "guardian", false)
	require.Error(t, err)
	assert.Equal(t, 1, s.agents["from"].Capacity)
}

func TestOverrideTaskPriorityRejectsUnknownPriority(t *testing.T) {
	s := newFakeInterventionStore()
	s.tasks["t1"] = &store.Task{ID: "t1", Priority: "MEDIUM"}
	svc := NewInterventionService(s, nil, &config.MonitoringConfig{AutoSteeringEnabled: true})

	_, err := svc.OverrideTaskPriority(context.Background(), "t1", "URGENT", "escalate", AuthorityGuardian, "guardian", false)
	require.Error(t, err)
	assert.Equal(t, "MEDIUM", s.tasks["t1"].Priority)
}

func TestOverrideTaskPriorityApplies(t *testing.T) {
	s := newFakeInterventionStore()
	s.tasks["t1"] = &store.Task{ID: "t1", Priority: "MEDIUM"}
	svc := NewInterventionService(s, nil, &config.MonitoringConfig{AutoSteeringEnabled: true})

	action, err := svc.OverrideTaskPriority(context.Background(), "t1", "CRITICAL", "escalate", AuthorityGuardian, "guardian", false)
	require.NoError(t, err)
	assert.True(t, action.Executed)
	assert.Equal(t, "CRITICAL", s.tasks["t1"].Priority)
}

func TestRevertInterventionFlipsReverted(t *testing.T) {
	s := newFakeInterventionStore()
	s.tasks["t1"] = &store.Task{ID: "t1", Status: "running"}
	svc := NewInterventionService(s, nil, &config.MonitoringConfig{AutoSteeringEnabled: true})

	original, err := svc.EmergencyCancelTask(context.Background(), "t1", "runaway loop", AuthorityGuardian, "guardian", false)
	require.NoError(t, err)

	revert, err := svc.RevertIntervention(context.Background(), original.ID, "false alarm", "operator", AuthorityGuardian)
	require.NoError(t, err)
	assert.True(t, revert.Executed)
	assert.True(t, s.actions[original.ID].Reverted)

	_, err = svc.RevertIntervention(context.Background(), original.ID, "double revert", "operator", AuthorityGuardian)
	assert.Error(t, err)
}
