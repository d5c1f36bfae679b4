package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/sandbox"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// idleMonitorStore is the subset of *store.Store the Idle Sandbox
// Monitor depends on.
type idleMonitorStore interface {
	ListRunningSandboxTasks(ctx context.Context) ([]*store.Task, error)
	LatestSandboxEventAt(ctx context.Context, sandboxID string) (time.Time, bool, error)
	LatestWorkEventAt(ctx context.Context, sandboxID string, eventTypes []string) (time.Time, bool, error)
	UpdateTaskStatus(ctx context.Context, id, status string, result map[string]interface{}, errMsg *string) error
	SetTaskTranscript(ctx context.Context, taskID, transcriptB64 string) error
}

// IdleMonitor implements spec §4.9: every 90 seconds it scans every
// task bound to a running sandbox, and for any sandbox that has
// reported no work event (per sandbox.WorkEvents) within the
// configured idle threshold, it extracts and persists the transcript,
// terminates the sandbox, and marks the task failed — each of those
// three steps is independent, so a failure in one does not block the
// next.
type IdleMonitor struct {
	store     idleMonitorStore
	gateway   sandbox.Gateway
	publisher *events.Publisher
	cfg       *config.MonitoringConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

const aliveScanInterval = 90 * time.Second

// NewIdleMonitor creates an IdleMonitor using cfg.IdleThreshold as the
// default idle window (spec default: 3 minutes).
func NewIdleMonitor(s idleMonitorStore, gateway sandbox.Gateway, publisher *events.Publisher, cfg *config.MonitoringConfig) *IdleMonitor {
	return &IdleMonitor{store: s, gateway: gateway, publisher: publisher, cfg: cfg, stopCh: make(chan struct{})}
}

// Start begins the monitor's scan loop in a goroutine.
func (m *IdleMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop signals the monitor to stop and waits for any in-flight scan.
func (m *IdleMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *IdleMonitor) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(aliveScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Scan(ctx); err != nil {
				slog.Error("idle monitor scan failed", "error", err)
			}
		}
	}
}

// Scan runs one pass over every sandboxed running task, terminating
// any sandbox idle longer than the configured threshold.
func (m *IdleMonitor) Scan(ctx context.Context) error {
	tasks, err := m.store.ListRunningSandboxTasks(ctx)
	if err != nil {
		return fmt.Errorf("list running sandbox tasks: %w", err)
	}

	threshold := m.cfg.IdleThreshold
	if threshold <= 0 {
		threshold = 3 * time.Minute
	}

	now := time.Now()
	for _, task := range tasks {
		if task.SandboxID == nil {
			continue
		}
		sandboxID := *task.SandboxID

		lastWork, ok, err := m.store.LatestWorkEventAt(ctx, sandboxID, workEventTypes)
		if err != nil {
			slog.Error("failed to read last work event", "sandbox_id", sandboxID, "error", err)
			continue
		}
		if !ok {
			// Never reported a work event yet; measure idleness from
			// when the task started running, so a freshly spawned
			// sandbox is not immediately reaped and heartbeats alone
			// do not keep it alive.
			if task.StartedAt == nil {
				continue
			}
			lastWork = *task.StartedAt
		}

		if now.Sub(lastWork) <= threshold {
			continue
		}

		m.terminateIdle(ctx, task, sandboxID, now.Sub(lastWork))
	}
	return nil
}

// workEventTypes is sandbox.WorkEvents flattened to a slice for the
// store's ANY($n) query parameter.
var workEventTypes = func() []string {
	out := make([]string, 0, len(sandbox.WorkEvents))
	for t := range sandbox.WorkEvents {
		out = append(out, t)
	}
	return out
}()

func (m *IdleMonitor) terminateIdle(ctx context.Context, task *store.Task, sandboxID string, idleFor time.Duration) {
	log := slog.With("task_id", task.ID, "sandbox_id", sandboxID)

	if transcript, ok, err := m.gateway.ExtractSessionTranscript(ctx, sandboxID); err != nil {
		log.Warn("failed to extract transcript before idle termination", "error", err)
	} else if ok {
		if _, err := base64.StdEncoding.DecodeString(transcript); err != nil {
			log.Warn("sandbox returned malformed transcript encoding", "error", err)
		} else if err := m.store.SetTaskTranscript(ctx, task.ID, transcript); err != nil {
			// Best effort: a failed write must never block termination.
			log.Warn("failed to persist transcript before idle termination", "error", err)
		}
	}

	if err := m.gateway.TerminateSandbox(ctx, sandboxID); err != nil {
		log.Warn("failed to terminate idle sandbox, proceeding to mark task failed anyway", "error", err)
	}

	minutes := int(idleFor.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	errMsg := fmt.Sprintf("Sandbox terminated: idle_timeout. Idle for %d minutes with no work progress.", minutes)
	if err := m.store.UpdateTaskStatus(ctx, task.ID, "failed", nil, &errMsg); err != nil {
		log.Error("failed to mark idle task failed", "error", err)
		return
	}

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, events.TypeSandboxTerminatedIdle, events.TicketChannel(task.TicketID), map[string]interface{}{
			"task_id":    task.ID,
			"sandbox_id": sandboxID,
			"idle_for_s": int(idleFor.Seconds()),
		}); err != nil {
			log.Warn("failed to publish idle termination event", "error", err)
		}
	}
}
