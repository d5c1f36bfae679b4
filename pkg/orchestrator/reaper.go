package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// reaperStore is the subset of *store.Store the timeout reaper depends on.
type reaperStore interface {
	GetTimedOutTasks(ctx context.Context, now time.Time) ([]*store.Task, error)
	MarkTaskTimeout(ctx context.Context, id, reason string) error
	GetCancellableTasks(ctx context.Context) ([]*store.Task, error)
	GetTicket(ctx context.Context, id string) (*store.Ticket, error)
	CancelTask(ctx context.Context, id, reason string) error
}

// terminalTicketStatuses mirrors the statuses SoftDeleteOldTickets
// already treats as the ticket's end of life (pkg/store/tickets.go).
var terminalTicketStatuses = map[string]bool{"done": true, "failed": true}

// terminalApprovalStatuses marks a ticket that never became workable.
var terminalApprovalStatuses = map[string]bool{"rejected": true, "timed_out": true}

// Reaper periodically scans for running tasks whose wall-clock
// timeout_seconds budget has elapsed and marks them failed (spec
// §4.5's get_timed_out_tasks/mark_task_timeout pair), independent of
// which Worker actually claimed the task. It also sweeps
// get_cancellable_tasks for tasks orphaned by a ticket that has
// already reached a terminal status, an expired/rejected approval, or
// a soft-delete, cancelling each one the same way the cancel_task API
// operation would (spec §4.5: "query helpers for the reaper"). It runs
// the same whether the deployment is in Legacy or Sandbox execution
// mode, so it is started standalone alongside Pool rather than nested
// inside it.
type Reaper struct {
	store     reaperStore
	interval  time.Duration
	publisher *events.Publisher

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.Mutex
	lastReapScan  time.Time
	tasksReaped   int
	tasksOrphaned int
}

// NewReaper creates a Reaper that scans every interval.
func NewReaper(s reaperStore, interval time.Duration, publisher *events.Publisher) *Reaper {
	return &Reaper{
		store:     s,
		interval:  interval,
		publisher: publisher,
		stopCh:    make(chan struct{}),
	}
}

// NewReaperFromConfig builds a Reaper using the queue config's
// ReaperInterval, for callers that already carry a *config.QueueConfig.
func NewReaperFromConfig(s reaperStore, cfg *config.QueueConfig, publisher *events.Publisher) *Reaper {
	return NewReaper(s, cfg.ReaperInterval, publisher)
}

// Start launches the reaper's scan loop in a goroutine.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop signals the scan loop to stop and waits for the in-flight scan,
// if any, to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Stats reports the last scan time and cumulative reaped/orphaned
// counts, for health/metrics reporting.
func (r *Reaper) Stats() (lastScan time.Time, tasksReaped, tasksOrphaned int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReapScan, r.tasksReaped, r.tasksOrphaned
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.reapTimedOutTasks(ctx); err != nil {
				slog.Error("timeout reaper failed", "error", err)
			}
			if err := r.reapOrphanedTasks(ctx); err != nil {
				slog.Error("orphaned-task reaper failed", "error", err)
			}
		}
	}
}

func (r *Reaper) reapTimedOutTasks(ctx context.Context) error {
	timedOut, err := r.store.GetTimedOutTasks(ctx, time.Now())
	if err != nil {
		return err
	}

	if len(timedOut) == 0 {
		r.mu.Lock()
		r.lastReapScan = time.Now()
		r.mu.Unlock()
		return nil
	}

	slog.Warn("detected timed-out tasks", "count", len(timedOut))

	reaped := 0
	for _, task := range timedOut {
		reason := "wall-clock timeout exceeded"
		if err := r.store.MarkTaskTimeout(ctx, task.ID, reason); err != nil {
			slog.Error("failed to mark task timeout", "task_id", task.ID, "error", err)
			continue
		}
		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, events.TypeTaskTimedOut, events.TicketChannel(task.TicketID), map[string]interface{}{
				"task_id": task.ID,
				"reason":  reason,
			}); err != nil {
				slog.Warn("failed to publish task timeout event", "task_id", task.ID, "error", err)
			}
		}
		reaped++
	}

	r.mu.Lock()
	r.lastReapScan = time.Now()
	r.tasksReaped += reaped
	r.mu.Unlock()

	return nil
}

// reapOrphanedTasks cancels any still-cancellable task whose parent
// ticket has already ended (terminal status, a lapsed/rejected
// approval, or a soft-delete) — work a dispatcher would otherwise
// leave runnable forever once nothing will ever read its result.
func (r *Reaper) reapOrphanedTasks(ctx context.Context) error {
	cancellable, err := r.store.GetCancellableTasks(ctx)
	if err != nil {
		return err
	}

	orphaned := 0
	for _, task := range cancellable {
		ticket, err := r.store.GetTicket(ctx, task.TicketID)
		if err != nil {
			slog.Warn("failed to load ticket for cancellable task", "task_id", task.ID, "ticket_id", task.TicketID, "error", err)
			continue
		}

		reason := orphanReason(ticket)
		if reason == "" {
			continue
		}

		if err := r.store.CancelTask(ctx, task.ID, reason); err != nil {
			slog.Error("failed to cancel orphaned task", "task_id", task.ID, "error", err)
			continue
		}
		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, events.TypeTaskStatusChanged, events.TicketChannel(task.TicketID), map[string]interface{}{
				"task_id": task.ID,
				"status":  "failed",
				"reason":  reason,
			}); err != nil {
				slog.Warn("failed to publish orphaned task cancellation event", "task_id", task.ID, "error", err)
			}
		}
		orphaned++
	}

	if orphaned > 0 {
		slog.Warn("cancelled orphaned tasks", "count", orphaned)
	}

	r.mu.Lock()
	r.tasksOrphaned += orphaned
	r.mu.Unlock()

	return nil
}

// orphanReason reports why a ticket no longer has a reason to keep
// its tasks running, or "" if the ticket is still active.
func orphanReason(t *store.Ticket) string {
	switch {
	case t.DeletedAt != nil:
		return "parent ticket was deleted"
	case terminalTicketStatuses[t.Status]:
		return fmt.Sprintf("parent ticket already reached status %q", t.Status)
	case terminalApprovalStatuses[t.ApprovalStatus]:
		return fmt.Sprintf("parent ticket approval %q", t.ApprovalStatus)
	default:
		return ""
	}
}
