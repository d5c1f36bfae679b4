package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/sandbox"
	"github.com/r3e-conductor/conductor/pkg/store"
)

type fakeIdleStore struct {
	tasks        []*store.Task
	lastAny      map[string]time.Time
	lastWork     map[string]time.Time
	updatedTasks map[string]string
	transcripts  map[string]string
}

func newFakeIdleStore() *fakeIdleStore {
	return &fakeIdleStore{
		lastAny:      make(map[string]time.Time),
		lastWork:     make(map[string]time.Time),
		updatedTasks: make(map[string]string),
		transcripts:  make(map[string]string),
	}
}

func (f *fakeIdleStore) SetTaskTranscript(_ context.Context, taskID, transcriptB64 string) error {
	f.transcripts[taskID] = transcriptB64
	return nil
}

func (f *fakeIdleStore) ListRunningSandboxTasks(context.Context) ([]*store.Task, error) {
	return f.tasks, nil
}

func (f *fakeIdleStore) LatestSandboxEventAt(_ context.Context, sandboxID string) (time.Time, bool, error) {
	t, ok := f.lastAny[sandboxID]
	return t, ok, nil
}

func (f *fakeIdleStore) LatestWorkEventAt(_ context.Context, sandboxID string, _ []string) (time.Time, bool, error) {
	t, ok := f.lastWork[sandboxID]
	return t, ok, nil
}

func (f *fakeIdleStore) UpdateTaskStatus(_ context.Context, id, status string, _ map[string]interface{}, errMsg *string) error {
	f.updatedTasks[id] = status
	for _, t := range f.tasks {
		if t.ID == id {
			t.Status = status
			t.ErrorMessage = errMsg
		}
	}
	return nil
}

func TestIdleMonitorTerminatesStaleSandbox(t *testing.T) {
	sandboxID := "sb-1"
	task := &store.Task{ID: "t1", TicketID: "tick1", Status: "running", SandboxID: &sandboxID}

	s := newFakeIdleStore()
	s.tasks = []*store.Task{task}
	s.lastWork[sandboxID] = time.Now().Add(-10 * time.Minute)

	gw := sandbox.NewFakeGateway()
	cfg := &config.MonitoringConfig{IdleThreshold: 3 * time.Minute}

	m := NewIdleMonitor(s, gw, nil, cfg)
	require.NoError(t, m.Scan(context.Background()))

	assert.Equal(t, "failed", task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "Sandbox terminated: idle_timeout")
	assert.True(t, gw.IsTerminated(sandboxID))
}

func TestIdleMonitorLeavesActiveSandboxAlone(t *testing.T) {
	sandboxID := "sb-2"
	task := &store.Task{ID: "t2", TicketID: "tick1", Status: "running", SandboxID: &sandboxID}

	s := newFakeIdleStore()
	s.tasks = []*store.Task{task}
	s.lastWork[sandboxID] = time.Now().Add(-30 * time.Second)

	gw := sandbox.NewFakeGateway()
	cfg := &config.MonitoringConfig{IdleThreshold: 3 * time.Minute}

	m := NewIdleMonitor(s, gw, nil, cfg)
	require.NoError(t, m.Scan(context.Background()))

	assert.Equal(t, "running", task.Status)
	assert.False(t, gw.IsTerminated(sandboxID))
}

func TestIdleMonitorPersistsExtractedTranscript(t *testing.T) {
	sandboxID := "sb-4"
	task := &store.Task{ID: "t4", TicketID: "tick1", Status: "running", SandboxID: &sandboxID}

	s := newFakeIdleStore()
	s.tasks = []*store.Task{task}
	s.lastWork[sandboxID] = time.Now().Add(-10 * time.Minute)

	gw := sandbox.NewFakeGateway()
	gw.SetTranscript(sandboxID, "aGVsbG8gd29ybGQ=")

	m := NewIdleMonitor(s, gw, nil, &config.MonitoringConfig{IdleThreshold: time.Minute})
	require.NoError(t, m.Scan(context.Background()))

	assert.Equal(t, "aGVsbG8gd29ybGQ=", s.transcripts[task.ID])
	assert.True(t, gw.IsTerminated(sandboxID))
	assert.Equal(t, "failed", task.Status)
}

func TestIdleMonitorMissingTranscriptStillTerminates(t *testing.T) {
	sandboxID := "sb-3"
	task := &store.Task{ID: "t3", TicketID: "tick1", Status: "running", SandboxID: &sandboxID}

	s := newFakeIdleStore()
	s.tasks = []*store.Task{task}
	s.lastWork[sandboxID] = time.Now().Add(-10 * time.Minute)

	gw := sandbox.NewFakeGateway()
	// No transcript seeded: ExtractSessionTranscript returns ok=false,
	// which must not block termination.
	m := NewIdleMonitor(s, gw, nil, &config.MonitoringConfig{IdleThreshold: time.Minute})
	require.NoError(t, m.Scan(context.Background()))

	assert.True(t, gw.IsTerminated(sandboxID))
	assert.Equal(t, "failed", task.Status)
}
