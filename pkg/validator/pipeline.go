// Package validator implements the Validator Pipeline (spec §4.15):
// it wraps an implementer's "completion" in a separate validator run,
// reopening the task as pending_validation until a validator signs
// off or the retry budget is exhausted.
//
// It deliberately never spawns a validator sandbox itself — spec.md
// preserves the source's de-duplication comment verbatim ("Orchestrator
// polls pending_validation; TaskValidatorService does not spawn"): the
// Orchestrator Worker's sandbox-mode loop is the single producer of
// validator sandboxes, polling store.GetNextValidationTask the same
// way it polls for fresh work.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// pipelineStore is the subset of *store.Store the pipeline depends on.
type pipelineStore interface {
	GetTask(ctx context.Context, id string) (*store.Task, error)
	UpdateTaskStatus(ctx context.Context, id, status string, result map[string]interface{}, errMsg *string) error
	ListValidationReviews(ctx context.Context, taskID string) ([]*store.ValidationReview, error)
	CreateValidationReview(ctx context.Context, v *store.ValidationReview) (*store.ValidationReview, error)
}

// Pipeline is the validator wrapper of spec §4.15.
type Pipeline struct {
	store     pipelineStore
	publisher *events.Publisher
	cfg       *config.ValidatorConfig
}

// New creates a Pipeline. cfg may be nil, in which case the built-in
// defaults (enabled, 3 iterations) apply.
func New(s pipelineStore, publisher *events.Publisher, cfg *config.ValidatorConfig) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultValidatorConfig()
	}
	return &Pipeline{store: s, publisher: publisher, cfg: cfg}
}

// RequestValidation implements spec §4.15 steps 1-3: on an
// implementer's agent.completed, find the task's current iteration
// (existing review count + 1); if it exceeds the configured maximum,
// the task fails outright without a review pass; otherwise the task
// moves to pending_validation carrying the implementation result and
// iteration number, and TASK_VALIDATION_REQUESTED is emitted so the
// Orchestrator Worker's validation poll can pick it up.
//
// When validation is disabled entirely, the task is completed
// directly — no review, no iteration bookkeeping.
func (p *Pipeline) RequestValidation(ctx context.Context, taskID string, implementationResult map[string]interface{}) error {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("request validation: load task %s: %w", taskID, err)
	}

	if !p.cfg.Enabled {
		result := mergeResult(implementationResult, nil)
		if err := p.store.UpdateTaskStatus(ctx, taskID, "completed", result, nil); err != nil {
			return fmt.Errorf("request validation: complete task %s (validation disabled): %w", taskID, err)
		}
		p.publish(ctx, events.TypeTaskCompleted, task.TicketID, map[string]interface{}{"task_id": taskID})
		return nil
	}

	reviews, err := p.store.ListValidationReviews(ctx, taskID)
	if err != nil {
		return fmt.Errorf("request validation: list reviews for %s: %w", taskID, err)
	}
	iteration := len(reviews) + 1

	maxIterations := p.cfg.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}
	if iteration > maxIterations {
		errMsg := fmt.Sprintf("Failed validation after %d iterations", maxIterations)
		if err := p.store.UpdateTaskStatus(ctx, taskID, "failed", nil, &errMsg); err != nil {
			return fmt.Errorf("request validation: fail exhausted task %s: %w", taskID, err)
		}
		p.publish(ctx, events.TypeTaskFailed, task.TicketID, map[string]interface{}{
			"task_id": taskID, "error": errMsg,
		})
		return nil
	}

	result := mergeResult(implementationResult, map[string]interface{}{
		"implementation_result":     implementationResult,
		"validation_iteration":      iteration,
	})
	if err := p.store.UpdateTaskStatus(ctx, taskID, "pending_validation", result, nil); err != nil {
		return fmt.Errorf("request validation: mark task %s pending_validation: %w", taskID, err)
	}

	p.publish(ctx, events.TypeTaskValidationRequested, task.TicketID, map[string]interface{}{
		"task_id": taskID, "iteration": iteration,
	})
	slog.Info("task sent for validation", "task_id", taskID, "iteration", iteration, "max_iterations", maxIterations)
	return nil
}

// Result carries a validator sandbox's verdict back to HandleResult.
type Result struct {
	ValidatorAgentID string
	Passed           bool
	Feedback         string
	Evidence         map[string]interface{}
	Recommendations  []string
}

// HandleResult implements spec §4.15's handle_validation_result: it
// appends the Validation Review at the task's current iteration
// (existing review count + 1, the same accounting RequestValidation
// used to admit this round), then either completes the task
// (passed=true) or returns it to needs_revision carrying the
// feedback for the next implementation attempt (passed=false). Moving
// a needs_revision task back to running for re-assignment is the
// Orchestrator's job, not this pipeline's — spec §4.5's state machine
// names `needs_revision → running (re-assigned)` as a queue
// transition, not a validator one.
func (p *Pipeline) HandleResult(ctx context.Context, taskID string, res Result) error {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("handle validation result: load task %s: %w", taskID, err)
	}
	if task.Status != "pending_validation" {
		return fmt.Errorf("%w: task %s is %q, not pending_validation", errs.ErrInvalidTransition, taskID, task.Status)
	}

	reviews, err := p.store.ListValidationReviews(ctx, taskID)
	if err != nil {
		return fmt.Errorf("handle validation result: list reviews for %s: %w", taskID, err)
	}
	iteration := len(reviews) + 1

	if _, err := p.store.CreateValidationReview(ctx, &store.ValidationReview{
		TaskID:          taskID,
		IterationNumber: iteration,
		Passed:          res.Passed,
		Feedback:        res.Feedback,
		Evidence:        res.Evidence,
		Recommendations: res.Recommendations,
	}); err != nil {
		return fmt.Errorf("handle validation result: persist review for %s: %w", taskID, err)
	}

	if res.Passed {
		result := mergeResult(task.Result, map[string]interface{}{
			"validation_passed":   true,
			"validated_at":        time.Now().Format(time.RFC3339),
			"validation_iteration": iteration,
		})
		if err := p.store.UpdateTaskStatus(ctx, taskID, "completed", result, nil); err != nil {
			return fmt.Errorf("handle validation result: complete task %s: %w", taskID, err)
		}
		p.publish(ctx, events.TypeTaskValidationPassed, task.TicketID, map[string]interface{}{
			"task_id": taskID, "iteration": iteration,
		})
		p.publish(ctx, events.TypeTaskCompleted, task.TicketID, map[string]interface{}{
			"task_id": taskID,
		})
		return nil
	}

	result := mergeResult(task.Result, map[string]interface{}{
		"revision_feedback":        res.Feedback,
		"revision_recommendations": res.Recommendations,
	})
	if err := p.store.UpdateTaskStatus(ctx, taskID, "needs_revision", result, nil); err != nil {
		return fmt.Errorf("handle validation result: set task %s needs_revision: %w", taskID, err)
	}
	p.publish(ctx, events.TypeTaskValidationFailed, task.TicketID, map[string]interface{}{
		"task_id": taskID, "iteration": iteration, "feedback": res.Feedback,
	})
	p.publish(ctx, events.TypeTaskStatusChanged, task.TicketID, map[string]interface{}{
		"task_id": taskID, "from_status": "pending_validation", "to_status": "needs_revision",
	})
	return nil
}

// RepoContext carries the GITHUB_REPO/BRANCH_NAME-family values spec
// §4.15 says to forward to a validator sandbox "where available" —
// every field is optional, so a task whose ticket has no linked
// repository yet still gets a valid (if sparser) environment.
type RepoContext struct {
	GithubRepo      string
	GithubRepoOwner string
	GithubRepoName  string
	BranchName      string
	GithubToken     string
	UserID          string
}

// ValidatorEnv builds the extra_env map spec §4.15 requires for a
// spawned validator sandbox.
func ValidatorEnv(originalTaskID string, iteration int, originalSandboxID string, repo RepoContext) map[string]string {
	env := map[string]string{
		"VALIDATION_MODE":     "true",
		"ORIGINAL_TASK_ID":    originalTaskID,
		"VALIDATION_ITERATION": fmt.Sprintf("%d", iteration),
	}
	if originalSandboxID != "" {
		env["ORIGINAL_SANDBOX_ID"] = originalSandboxID
	}
	if repo.GithubRepo != "" {
		env["GITHUB_REPO"] = repo.GithubRepo
	}
	if repo.GithubRepoOwner != "" {
		env["GITHUB_REPO_OWNER"] = repo.GithubRepoOwner
	}
	if repo.GithubRepoName != "" {
		env["GITHUB_REPO_NAME"] = repo.GithubRepoName
	}
	if repo.BranchName != "" {
		env["BRANCH_NAME"] = repo.BranchName
	}
	if repo.GithubToken != "" {
		env["GITHUB_TOKEN"] = repo.GithubToken
	}
	if repo.UserID != "" {
		env["USER_ID"] = repo.UserID
	}
	return env
}

func mergeResult(base, overlay map[string]interface{}) map[string]interface{} {
	merged := map[string]interface{}{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func (p *Pipeline) publish(ctx context.Context, eventType, ticketID string, payload interface{}) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, eventType, events.TicketChannel(ticketID), payload); err != nil {
		slog.Warn("failed to publish validator event", "event_type", eventType, "error", err)
	}
}
