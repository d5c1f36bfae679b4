package coordination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/store"
)

type fakeSynthesisStore struct {
	tasks map[string]*store.Task
}

func newFakeSynthesisStore() *fakeSynthesisStore {
	return &fakeSynthesisStore{tasks: make(map[string]*store.Task)}
}

func (f *fakeSynthesisStore) EnqueueTask(_ context.Context, t *store.Task) (*store.Task, error) {
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeSynthesisStore) GetTask(_ context.Context, id string) (*store.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}

func (f *fakeSynthesisStore) ListTasksByIDs(_ context.Context, ids []string) ([]*store.Task, error) {
	var out []*store.Task
	for _, id := range ids {
		if t, ok := f.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeSynthesisStore) AddTaskDependency(_ context.Context, taskID, dependsOnID string) error {
	t := f.tasks[taskID]
	t.Dependencies.DependsOn = append(t.Dependencies.DependsOn, dependsOnID)
	return nil
}

func (f *fakeSynthesisStore) SetTaskSynthesisContext(_ context.Context, taskID string, ctx map[string]interface{}) error {
	f.tasks[taskID].SynthesisContext = ctx
	return nil
}

func TestSynthesisService_RegisterThenComplete(t *testing.T) {
	fs := newFakeSynthesisStore()
	fs.tasks["s1"] = &store.Task{ID: "s1", Status: "running", Result: map[string]interface{}{"a": 1.0}}
	fs.tasks["s2"] = &store.Task{ID: "s2", Status: "running", Result: map[string]interface{}{"b": 2.0}}
	fs.tasks["c1"] = &store.Task{ID: "c1", Status: "pending"}

	svc := NewService(fs, nil)
	syn := NewSynthesisService(fs, svc, nil)

	syn.RegisterJoin(context.Background(), "j1", []string{"s1", "s2"}, "c1", "combine")

	pending, ok := syn.Pending("j1")
	require.True(t, ok)
	assert.False(t, pending.ready())

	fs.tasks["s1"].Status = "completed"
	syn.handleTaskCompleted(context.Background(), "s1")
	_, ok = syn.Pending("j1")
	require.True(t, ok)

	fs.tasks["s2"].Status = "completed"
	syn.handleTaskCompleted(context.Background(), "s2")

	_, ok = syn.Pending("j1")
	assert.False(t, ok, "join should be cleared once synthesized")

	synth := fs.tasks["c1"].SynthesisContext
	require.NotNil(t, synth)
	assert.Equal(t, 1.0, synth["a"])
	assert.Equal(t, 2.0, synth["b"])
	assert.Equal(t, "j1", synth["_join_id"])
	assert.ElementsMatch(t, []string{"s1", "s2"}, synth["_source_task_ids"])
}

func TestSynthesisService_BackfillAtRegistration(t *testing.T) {
	fs := newFakeSynthesisStore()
	fs.tasks["s1"] = &store.Task{ID: "s1", Status: "completed", Result: map[string]interface{}{"a": 1.0}}
	fs.tasks["c1"] = &store.Task{ID: "c1", Status: "pending"}

	svc := NewService(fs, nil)
	syn := NewSynthesisService(fs, svc, nil)

	syn.RegisterJoin(context.Background(), "j2", []string{"s1"}, "c1", "combine")

	_, ok := syn.Pending("j2")
	assert.False(t, ok, "single already-completed source should synthesize immediately")
	assert.Equal(t, 1.0, fs.tasks["c1"].SynthesisContext["a"])
}
