package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/store"
)

type fakeStore struct {
	tasks   map[string]*store.Task
	reviews map[string][]*store.ValidationReview
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:   make(map[string]*store.Task),
		reviews: make(map[string][]*store.ValidationReview),
	}
}

func (f *fakeStore) GetTask(_ context.Context, id string) (*store.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}

func (f *fakeStore) UpdateTaskStatus(_ context.Context, id, status string, result map[string]interface{}, errMsg *string) error {
	t := f.tasks[id]
	t.Status = status
	if result != nil {
		t.Result = result
	}
	t.ErrorMessage = errMsg
	return nil
}

func (f *fakeStore) ListValidationReviews(_ context.Context, taskID string) ([]*store.ValidationReview, error) {
	return f.reviews[taskID], nil
}

func (f *fakeStore) CreateValidationReview(_ context.Context, v *store.ValidationReview) (*store.ValidationReview, error) {
	f.reviews[v.TaskID] = append(f.reviews[v.TaskID], v)
	return v, nil
}

func TestRequestValidation_FirstIteration(t *testing.T) {
	fs := newFakeStore()
	fs.tasks["t1"] = &store.Task{ID: "t1", TicketID: "k1", Status: "running"}
	p := New(fs, nil, config.DefaultValidatorConfig())

	err := p.RequestValidation(context.Background(), "t1", map[string]interface{}{"files_changed": 3})
	require.NoError(t, err)

	task := fs.tasks["t1"]
	assert.Equal(t, "pending_validation", task.Status)
	assert.Equal(t, 1, task.Result["validation_iteration"])
}

func TestRequestValidation_ExhaustedIterations(t *testing.T) {
	fs := newFakeStore()
	fs.tasks["t1"] = &store.Task{ID: "t1", TicketID: "k1", Status: "running"}
	fs.reviews["t1"] = []*store.ValidationReview{
		{TaskID: "t1", IterationNumber: 1, Passed: false},
		{TaskID: "t1", IterationNumber: 2, Passed: false},
		{TaskID: "t1", IterationNumber: 3, Passed: false},
	}
	p := New(fs, nil, config.DefaultValidatorConfig())

	err := p.RequestValidation(context.Background(), "t1", map[string]interface{}{})
	require.NoError(t, err)

	task := fs.tasks["t1"]
	assert.Equal(t, "failed", task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "Failed validation after 3 iterations")
}

func TestRequestValidation_Disabled(t *testing.T) {
	fs := newFakeStore()
	fs.tasks["t1"] = &store.Task{ID: "t1", TicketID: "k1", Status: "running"}
	p := New(fs, nil, &config.ValidatorConfig{Enabled: false})

	err := p.RequestValidation(context.Background(), "t1", map[string]interface{}{"ok": true})
	require.NoError(t, err)
	assert.Equal(t, "completed", fs.tasks["t1"].Status)
}

func TestHandleResult_PassThenFail(t *testing.T) {
	fs := newFakeStore()
	fs.tasks["t1"] = &store.Task{ID: "t1", TicketID: "k1", Status: "pending_validation", Result: map[string]interface{}{}}
	p := New(fs, nil, config.DefaultValidatorConfig())

	err := p.HandleResult(context.Background(), "t1", Result{Passed: false, Feedback: "tests failing"})
	require.NoError(t, err)
	assert.Equal(t, "needs_revision", fs.tasks["t1"].Status)
	assert.Equal(t, "tests failing", fs.tasks["t1"].Result["revision_feedback"])

	fs.tasks["t1"].Status = "pending_validation"
	err = p.HandleResult(context.Background(), "t1", Result{Passed: true})
	require.NoError(t, err)
	assert.Equal(t, "completed", fs.tasks["t1"].Status)
	assert.Equal(t, true, fs.tasks["t1"].Result["validation_passed"])

	reviews, _ := fs.ListValidationReviews(context.Background(), "t1")
	require.Len(t, reviews, 2)
	assert.Equal(t, 1, reviews[0].IterationNumber)
	assert.Equal(t, 2, reviews[1].IterationNumber)
}

func TestHandleResult_RejectsWrongStatus(t *testing.T) {
	fs := newFakeStore()
	fs.tasks["t1"] = &store.Task{ID: "t1", TicketID: "k1", Status: "running"}
	p := New(fs, nil, config.DefaultValidatorConfig())

	err := p.HandleResult(context.Background(), "t1", Result{Passed: true})
	assert.Error(t, err)
}

func TestValidatorEnv(t *testing.T) {
	env := ValidatorEnv("task-1", 2, "sb-1", RepoContext{GithubRepo: "org/repo", BranchName: "feat"})
	assert.Equal(t, "true", env["VALIDATION_MODE"])
	assert.Equal(t, "task-1", env["ORIGINAL_TASK_ID"])
	assert.Equal(t, "2", env["VALIDATION_ITERATION"])
	assert.Equal(t, "sb-1", env["ORIGINAL_SANDBOX_ID"])
	assert.Equal(t, "org/repo", env["GITHUB_REPO"])
	assert.Equal(t, "feat", env["BRANCH_NAME"])
	_, hasToken := env["GITHUB_TOKEN"]
	assert.False(t, hasToken)
}
