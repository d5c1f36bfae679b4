package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// PendingJoin tracks one registered join's progress toward synthesis
// (spec §4.14): the full source set, which of those have completed so
// far, the continuation task they feed, and the merge strategy to
// apply once every source is in.
type PendingJoin struct {
	SourceIDs      []string
	CompletedIDs   map[string]bool
	ContinuationID string
	Strategy       string
}

func (j *PendingJoin) ready() bool {
	for _, id := range j.SourceIDs {
		if !j.CompletedIDs[id] {
			return false
		}
	}
	return true
}

// synthesisStore is the subset of *store.Store SynthesisService needs
// beyond what Service already wraps.
type synthesisStore interface {
	GetTask(ctx context.Context, id string) (*store.Task, error)
	ListTasksByIDs(ctx context.Context, ids []string) ([]*store.Task, error)
	SetTaskSynthesisContext(ctx context.Context, taskID string, ctx map[string]interface{}) error
}

// SynthesisService listens for coordination.join.created and
// TASK_COMPLETED on the event bus and performs the actual rejoin: it
// is the process-local subscriber spec §4.14 describes, distinct from
// the Service's primitives which only register intent and emit the
// events this type reacts to.
//
// State lives entirely in-process (spec §5: "Synthesis Service
// in-memory maps are single-process state; horizontal scale requires
// externalization"), keyed by join id.
type SynthesisService struct {
	store     synthesisStore
	merger    *Service
	publisher *events.Publisher

	mu     sync.Mutex
	joins  map[string]*PendingJoin
}

// NewSynthesisService creates a SynthesisService. merger supplies
// MergeTaskResults; it is typically the same *Service whose
// JoinTasks/RegisterJoin calls are what put joins in flight.
func NewSynthesisService(s synthesisStore, merger *Service, publisher *events.Publisher) *SynthesisService {
	return &SynthesisService{
		store:     s,
		merger:    merger,
		publisher: publisher,
		joins:     make(map[string]*PendingJoin),
	}
}

// Attach registers this service's handlers on listener for
// coordination.join.created and TASK_COMPLETED, both delivered over
// events.GlobalChannel. Call once at startup, after listener.Start.
func (s *SynthesisService) Attach(listener eventListener) {
	listener.RegisterHandler(events.GlobalChannel, s.handleNotify)
}

// eventListener is the subset of *events.Listener SynthesisService
// needs, narrowed so this package does not import the concrete type
// just to spell its name in a field.
type eventListener interface {
	RegisterHandler(channel string, fn func(payload []byte))
}

// envelope mirrors the {event_type, payload} shape every
// events.Publisher.Publish call wraps its payload in.
type envelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *SynthesisService) handleNotify(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("synthesis: failed to unmarshal event envelope", "error", err)
		return
	}

	ctx := context.Background()
	switch env.EventType {
	case events.TypeCoordinationJoinCreated:
		var p events.CoordinationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("synthesis: failed to unmarshal join-created payload", "error", err)
			return
		}
		s.RegisterJoin(ctx, p.JoinID, p.TaskIDs, p.ContinuationID, p.Strategy)
	case events.TypeTaskCompleted:
		var p events.TaskStatusChangedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("synthesis: failed to unmarshal task-completed payload", "error", err)
			return
		}
		s.handleTaskCompleted(ctx, p.TaskID)
	}
}

// RegisterJoin starts tracking a join. It back-fills any source tasks
// already completed before registration landed (spec §4.14: "On
// registration, back-fills already-completed source tasks"), and
// fires synthesis immediately if that back-fill alone satisfies it.
func (s *SynthesisService) RegisterJoin(ctx context.Context, joinID string, sourceIDs []string, continuationID, strategy string) {
	if joinID == "" || continuationID == "" || len(sourceIDs) == 0 {
		return
	}

	s.mu.Lock()
	join, exists := s.joins[joinID]
	if !exists {
		join = &PendingJoin{
			SourceIDs:      append([]string{}, sourceIDs...),
			CompletedIDs:   make(map[string]bool),
			ContinuationID: continuationID,
			Strategy:       strategy,
		}
		s.joins[joinID] = join
	}
	s.mu.Unlock()

	tasks, err := s.store.ListTasksByIDs(ctx, sourceIDs)
	if err != nil {
		slog.Error("synthesis: failed to back-fill join sources", "join_id", joinID, "error", err)
		return
	}
	for _, t := range tasks {
		if t.Status == "completed" {
			s.markCompleted(joinID, t.ID)
		}
	}
	s.maybeSynthesize(ctx, joinID)
}

// handleTaskCompleted advances every pending join that names taskID
// as a source, synthesizing any that become ready as a result.
func (s *SynthesisService) handleTaskCompleted(ctx context.Context, taskID string) {
	s.mu.Lock()
	var affected []string
	for joinID, join := range s.joins {
		for _, id := range join.SourceIDs {
			if id == taskID {
				affected = append(affected, joinID)
				break
			}
		}
	}
	s.mu.Unlock()

	for _, joinID := range affected {
		s.markCompleted(joinID, taskID)
		s.maybeSynthesize(ctx, joinID)
	}
}

func (s *SynthesisService) markCompleted(joinID, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if join, ok := s.joins[joinID]; ok {
		join.CompletedIDs[taskID] = true
	}
}

// maybeSynthesize merges and injects a join's result if it is ready,
// clearing the pending join on success. On failure the pending join
// is left in place so a retry (e.g. a later duplicate TASK_COMPLETED
// delivery, since the bus is at-least-once) can try again; only an
// explicit Cleanup call removes a join that never completes.
func (s *SynthesisService) maybeSynthesize(ctx context.Context, joinID string) {
	s.mu.Lock()
	join, ok := s.joins[joinID]
	var ready bool
	if ok {
		ready = join.ready()
	}
	s.mu.Unlock()
	if !ok || !ready {
		return
	}

	merged, err := s.merger.MergeTaskResults(ctx, joinID, join.SourceIDs, join.Strategy, "")
	if err != nil {
		s.synthesisFailed(ctx, joinID, join, fmt.Errorf("merge: %w", err))
		return
	}

	continuation, err := s.store.GetTask(ctx, join.ContinuationID)
	if err != nil {
		s.synthesisFailed(ctx, joinID, join, fmt.Errorf("load continuation %s: %w", join.ContinuationID, err))
		return
	}

	synth := map[string]interface{}{}
	for k, v := range continuation.SynthesisContext {
		synth[k] = v
	}
	for k, v := range merged {
		synth[k] = v
	}
	synth["_injected_at"] = time.Now().UTC().Format(time.RFC3339)
	synth["_join_id"] = joinID
	synth["_source_task_ids"] = join.SourceIDs

	if err := s.store.SetTaskSynthesisContext(ctx, join.ContinuationID, synth); err != nil {
		s.synthesisFailed(ctx, joinID, join, fmt.Errorf("inject synthesis context: %w", err))
		return
	}

	s.publish(ctx, events.TypeCoordinationSynthesisDone, &events.CoordinationPayload{
		JoinID: joinID, TaskIDs: join.SourceIDs, ContinuationID: join.ContinuationID, Strategy: join.Strategy,
	})

	s.mu.Lock()
	delete(s.joins, joinID)
	s.mu.Unlock()
}

func (s *SynthesisService) synthesisFailed(ctx context.Context, joinID string, join *PendingJoin, cause error) {
	slog.Error("synthesis failed", "join_id", joinID, "error", cause)
	s.publish(ctx, events.TypeCoordinationSynthesisFailed, &events.CoordinationPayload{
		JoinID: joinID, TaskIDs: join.SourceIDs, ContinuationID: join.ContinuationID, Strategy: join.Strategy,
	})
}

// Cleanup removes a pending join's in-memory tracking without
// synthesizing it, for an operator abandoning a join that will never
// complete (e.g. a source task was cancelled).
func (s *SynthesisService) Cleanup(joinID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joins, joinID)
}

// Pending returns a snapshot of one join's tracking state, for tests
// and operator introspection.
func (s *SynthesisService) Pending(joinID string) (*PendingJoin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.joins[joinID]
	if !ok {
		return nil, false
	}
	cp := *j
	cp.CompletedIDs = make(map[string]bool, len(j.CompletedIDs))
	for k, v := range j.CompletedIDs {
		cp.CompletedIDs[k] = v
	}
	return &cp, true
}

func (s *SynthesisService) publish(ctx context.Context, eventType string, payload *events.CoordinationPayload) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, events.GlobalChannel, payload); err != nil {
		slog.Warn("failed to publish synthesis event", "event_type", eventType, "error", err)
	}
}
