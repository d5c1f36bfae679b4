// Package coordination implements the split/join/merge primitives that
// let parallel task fan-out rejoin into a single continuation, and the
// SynthesisService that watches task completions and performs that
// rejoin automatically (spec §4.14).
package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// coordinationStore is the subset of *store.Store the coordination
// primitives depend on.
type coordinationStore interface {
	EnqueueTask(ctx context.Context, t *store.Task) (*store.Task, error)
	GetTask(ctx context.Context, id string) (*store.Task, error)
	ListTasksByIDs(ctx context.Context, ids []string) ([]*store.Task, error)
	AddTaskDependency(ctx context.Context, taskID, dependsOnID string) error
	SetTaskSynthesisContext(ctx context.Context, taskID string, ctx map[string]interface{}) error
}

// Service implements the coordination primitives of spec §4.14: sync
// points, split fan-out, join registration, and result merging. It
// does not itself watch for completions — that's SynthesisService's
// job — but JoinTasks/RegisterJoin emit the events SynthesisService
// reacts to.
type Service struct {
	store     coordinationStore
	publisher *events.Publisher
}

// NewService creates a coordination Service.
func NewService(s coordinationStore, publisher *events.Publisher) *Service {
	return &Service{store: s, publisher: publisher}
}

// ContinuationSpec describes the continuation task join_tasks should
// create.
type ContinuationSpec struct {
	TicketID       string
	Phase          string
	TaskType       string
	Title          string
	Description    string
	Priority       string
	TimeoutSeconds int
	MergeStrategy  string
}

// TargetSpec describes one split target task.
type TargetSpec struct {
	TicketID           string
	Phase              string
	TaskType           string
	Title              string
	Description        string
	Priority           string
	TimeoutSeconds     int
	RequiredCapability string
}

// Sync registers a sync point: readiness is reached when requiredCount
// (0 means "all") of waitingTaskIDs reach status=completed.
// Sync persists the registration event and reports the point's
// readiness at call time only; nothing re-evaluates the point later
// (SynthesisService tracks joins, not sync points).
func (s *Service) Sync(ctx context.Context, pointID string, waitingTaskIDs []string, requiredCount int, timeout time.Duration) (bool, error) {
	if len(waitingTaskIDs) == 0 {
		return false, fmt.Errorf("%w: sync point %s has no waiting tasks", errs.ErrInvalidInput, pointID)
	}
	if requiredCount <= 0 {
		requiredCount = len(waitingTaskIDs)
	}

	s.publish(ctx, events.TypeCoordinationSyncCreated, &events.CoordinationPayload{
		PointID: pointID, TaskIDs: waitingTaskIDs,
	})

	ready, err := s.syncReady(ctx, waitingTaskIDs, requiredCount)
	if err != nil {
		return false, err
	}
	if ready {
		s.publish(ctx, events.TypeCoordinationSyncReady, &events.CoordinationPayload{
			PointID: pointID, TaskIDs: waitingTaskIDs,
		})
	}
	return ready, nil
}

func (s *Service) syncReady(ctx context.Context, waitingTaskIDs []string, requiredCount int) (bool, error) {
	tasks, err := s.store.ListTasksByIDs(ctx, waitingTaskIDs)
	if err != nil {
		return false, fmt.Errorf("sync: load waiting tasks: %w", err)
	}
	completed := 0
	for _, t := range tasks {
		if t.Status == "completed" {
			completed++
		}
	}
	return completed >= requiredCount, nil
}

// Split implements spec §4.14's split(split_id, source_task,
// target_tasks, required_capabilities?): each target is enqueued
// depending on sourceTaskID, tagging its required capability (if any)
// into synthesis_context.required_capability, the convention
// GetNextTask's capability-narrowed claim already reads.
func (s *Service) Split(ctx context.Context, splitID, sourceTaskID string, targets []TargetSpec) ([]*store.Task, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: split %s has no target tasks", errs.ErrInvalidInput, splitID)
	}
	if _, err := s.store.GetTask(ctx, sourceTaskID); err != nil {
		return nil, fmt.Errorf("split: load source task %s: %w", sourceTaskID, err)
	}

	created := make([]*store.Task, 0, len(targets))
	ids := make([]string, 0, len(targets))
	for _, spec := range targets {
		synth := map[string]interface{}{}
		if spec.RequiredCapability != "" {
			synth["required_capability"] = spec.RequiredCapability
		}
		t := &store.Task{
			TicketID:         spec.TicketID,
			Phase:            spec.Phase,
			TaskType:         spec.TaskType,
			Title:            spec.Title,
			Description:      spec.Description,
			Priority:         spec.Priority,
			Dependencies:     store.TaskDependencies{DependsOn: []string{sourceTaskID}},
			TimeoutSeconds:   spec.TimeoutSeconds,
			SynthesisContext: synth,
		}
		persisted, err := s.store.EnqueueTask(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("split: enqueue target for %s: %w", splitID, err)
		}
		created = append(created, persisted)
		ids = append(ids, persisted.ID)
	}

	s.publish(ctx, events.TypeCoordinationSplitCreated, &events.CoordinationPayload{
		PointID: splitID, TaskIDs: ids,
	})
	return created, nil
}

// JoinTasks implements spec §4.14's join_tasks: enqueue a brand new
// continuation task depending on every source, and emit
// coordination.join.created for SynthesisService to pick up. A fresh
// task can never already be depended upon by anything, so no cycle
// check is needed here (unlike RegisterJoin).
func (s *Service) JoinTasks(ctx context.Context, joinID string, sourceTaskIDs []string, continuation ContinuationSpec) (*store.Task, error) {
	if len(sourceTaskIDs) == 0 {
		return nil, fmt.Errorf("%w: join %s has no source tasks", errs.ErrInvalidInput, joinID)
	}
	if _, err := s.store.ListTasksByIDs(ctx, sourceTaskIDs); err != nil {
		return nil, fmt.Errorf("join_tasks: load source tasks: %w", err)
	}

	t := &store.Task{
		TicketID:       continuation.TicketID,
		Phase:          continuation.Phase,
		TaskType:       continuation.TaskType,
		Title:          continuation.Title,
		Description:    continuation.Description,
		Priority:       continuation.Priority,
		TimeoutSeconds: continuation.TimeoutSeconds,
		Dependencies:   store.TaskDependencies{DependsOn: append([]string{}, sourceTaskIDs...)},
		SynthesisContext: map[string]interface{}{
			"_join_id":        joinID,
			"_merge_strategy": continuation.MergeStrategy,
		},
	}
	persisted, err := s.store.EnqueueTask(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("join_tasks: enqueue continuation: %w", err)
	}

	s.publish(ctx, events.TypeCoordinationJoinCreated, &events.CoordinationPayload{
		JoinID: joinID, TaskIDs: sourceTaskIDs, ContinuationID: persisted.ID, Strategy: continuation.MergeStrategy,
	})
	return persisted, nil
}

// RegisterJoin implements spec §4.14's register_join: for an
// already-created continuation task, augment its depends_on with the
// given source ids (no new task created) and emit
// coordination.join.created so SynthesisService starts tracking it.
// Each new dependency edge is checked against the continuation's own
// transitive dependency closure to reject a cycle (spec.md §4 "cyclic
// dependencies must be rejected at coordination-time").
func (s *Service) RegisterJoin(ctx context.Context, joinID string, sourceTaskIDs []string, continuationTaskID, mergeStrategy string) error {
	if len(sourceTaskIDs) == 0 {
		return fmt.Errorf("%w: join %s has no source tasks", errs.ErrInvalidInput, joinID)
	}
	continuation, err := s.store.GetTask(ctx, continuationTaskID)
	if err != nil {
		return fmt.Errorf("register_join: load continuation %s: %w", continuationTaskID, err)
	}

	for _, sourceID := range sourceTaskIDs {
		if sourceID == continuationTaskID {
			return fmt.Errorf("%w: join %s cannot depend on itself", errs.ErrInvalidInput, joinID)
		}
		cyclic, err := s.introducesCycle(ctx, continuationTaskID, sourceID)
		if err != nil {
			return fmt.Errorf("register_join: cycle check: %w", err)
		}
		if cyclic {
			return fmt.Errorf("%w: join %s would create a dependency cycle via %s", errs.ErrInvalidInput, joinID, sourceID)
		}
		if err := s.store.AddTaskDependency(ctx, continuationTaskID, sourceID); err != nil {
			return fmt.Errorf("register_join: add dependency %s: %w", sourceID, err)
		}
	}

	synth := map[string]interface{}{}
	for k, v := range continuation.SynthesisContext {
		synth[k] = v
	}
	synth["_join_id"] = joinID
	synth["_merge_strategy"] = mergeStrategy
	if err := s.store.SetTaskSynthesisContext(ctx, continuationTaskID, synth); err != nil {
		return fmt.Errorf("register_join: set synthesis context: %w", err)
	}

	s.publish(ctx, events.TypeCoordinationJoinCreated, &events.CoordinationPayload{
		JoinID: joinID, TaskIDs: sourceTaskIDs, ContinuationID: continuationTaskID, Strategy: mergeStrategy,
	})
	return nil
}

// introducesCycle reports whether dependsOnID's existing transitive
// dependency closure already includes dependentID — i.e. whether
// adding the edge dependentID -> dependsOnID would close a cycle.
func (s *Service) introducesCycle(ctx context.Context, dependentID, dependsOnID string) (bool, error) {
	visited := map[string]bool{}
	frontier := []string{dependsOnID}
	for len(frontier) > 0 {
		tasks, err := s.store.ListTasksByIDs(ctx, frontier)
		if err != nil {
			return false, err
		}
		var next []string
		for _, t := range tasks {
			if visited[t.ID] {
				continue
			}
			visited[t.ID] = true
			for _, dep := range t.Dependencies.DependsOn {
				if dep == dependentID {
					return true, nil
				}
				if !visited[dep] {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}
	return false, nil
}

// MergeTaskResults implements spec §4.14's merge_task_results. customFn
// names a merge function not defined anywhere in this repo (no custom
// merge registry exists), so per spec it always falls back to combine.
func (s *Service) MergeTaskResults(ctx context.Context, mergeID string, sourceTaskIDs []string, strategy, customFn string) (map[string]interface{}, error) {
	if len(sourceTaskIDs) == 0 {
		return nil, fmt.Errorf("%w: merge %s has no source tasks", errs.ErrInvalidInput, mergeID)
	}
	tasks, err := s.store.ListTasksByIDs(ctx, sourceTaskIDs)
	if err != nil {
		return nil, fmt.Errorf("merge_task_results: load sources: %w", err)
	}
	byID := make(map[string]*store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	ordered := make([]*store.Task, 0, len(sourceTaskIDs))
	for _, id := range sourceTaskIDs {
		if t, ok := byID[id]; ok {
			ordered = append(ordered, t)
		}
	}

	merged := mergeResults(ordered, strategy)

	s.publish(ctx, events.TypeCoordinationMergeCompleted, &events.CoordinationPayload{
		PointID: mergeID, TaskIDs: sourceTaskIDs, Strategy: strategy,
	})
	return merged, nil
}

// mergeResults applies one of the four merge strategies (spec §4.14)
// over each task's Result map, in the given order.
func mergeResults(tasks []*store.Task, strategy string) map[string]interface{} {
	switch strategy {
	case "intersection":
		return intersectionMerge(tasks)
	case "union":
		return unionMerge(tasks)
	case "combine", "custom":
		return combineMerge(tasks)
	default:
		return combineMerge(tasks)
	}
}

func combineMerge(tasks []*store.Task) map[string]interface{} {
	merged := map[string]interface{}{}
	sourceResults := map[string]interface{}{}
	for _, t := range tasks {
		for k, v := range t.Result {
			merged[k] = v
		}
		sourceResults[t.ID] = t.Result
	}
	merged["_source_results"] = sourceResults
	return merged
}

func unionMerge(tasks []*store.Task) map[string]interface{} {
	merged := map[string]interface{}{}
	for _, t := range tasks {
		for k, v := range t.Result {
			merged[k] = v
		}
	}
	return merged
}

func intersectionMerge(tasks []*store.Task) map[string]interface{} {
	if len(tasks) == 0 {
		return map[string]interface{}{}
	}
	counts := map[string]int{}
	last := map[string]interface{}{}
	for _, t := range tasks {
		seen := map[string]bool{}
		for k, v := range t.Result {
			if seen[k] {
				continue
			}
			seen[k] = true
			counts[k]++
			last[k] = v
		}
	}
	merged := map[string]interface{}{}
	for k, n := range counts {
		if n == len(tasks) {
			merged[k] = last[k]
		}
	}
	return merged
}

func (s *Service) publish(ctx context.Context, eventType string, payload *events.CoordinationPayload) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, events.GlobalChannel, payload); err != nil {
		slog.Warn("failed to publish coordination event", "event_type", eventType, "error", err)
	}
}
