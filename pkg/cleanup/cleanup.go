// Package cleanup runs the conductor's retention sweeps: rejecting
// tickets whose approval window lapsed, and soft-deleting/purging
// terminal tickets, tasks, and stale events past their configured
// retention windows (spec §9's data lifecycle requirements).
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// cleanupStore is the subset of *store.Store the Service depends on.
type cleanupStore interface {
	ListExpiredApprovals(ctx context.Context, now time.Time) ([]*store.Ticket, error)
	SetTicketApproval(ctx context.Context, id, approvalStatus string) error
	SoftDeleteOldTickets(ctx context.Context, olderThan time.Time) (int, error)
	SoftDeleteOldTasks(ctx context.Context, olderThan time.Time) (int, error)
	DeleteExpiredEvents(ctx context.Context, olderThan time.Time) (int, error)
}

// Service runs the retention sweep on a fixed interval, grounded on
// the monitoring loop's single-ticker-goroutine shape
// (pkg/guardian/loop.go).
type Service struct {
	store cleanupStore
	cfg   *config.RetentionConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a cleanup Service.
func New(s cleanupStore, cfg *config.RetentionConfig) *Service {
	return &Service{store: s, cfg: cfg}
}

// Start begins the sweep ticker. Idempotent: calling Start on an
// already-running Service is a no-op.
func (svc *Service) Start(ctx context.Context) {
	svc.mu.Lock()
	if svc.running {
		svc.mu.Unlock()
		return
	}
	svc.running = true
	svc.stopCh = make(chan struct{})
	stopCh := svc.stopCh
	svc.mu.Unlock()

	interval := svc.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.RunOnce(ctx)
			}
		}
	}()
}

// Stop signals the sweep ticker to stop and waits for any in-flight
// sweep to finish. Idempotent.
func (svc *Service) Stop() {
	svc.mu.Lock()
	if !svc.running {
		svc.mu.Unlock()
		return
	}
	svc.running = false
	close(svc.stopCh)
	svc.mu.Unlock()

	svc.wg.Wait()
}

// RunOnce runs every retention sweep synchronously: auto-rejecting
// lapsed ticket approvals, then soft-deleting/purging terminal
// tickets, tasks, and stale events.
func (svc *Service) RunOnce(ctx context.Context) {
	now := time.Now()
	svc.expireApprovals(ctx, now)

	if n, err := svc.store.SoftDeleteOldTickets(ctx, now.AddDate(0, 0, -svc.cfg.TicketRetentionDays)); err != nil {
		slog.Error("cleanup: soft delete old tickets failed", "error", err)
	} else if n > 0 {
		slog.Info("cleanup: soft deleted old tickets", "count", n)
	}

	if n, err := svc.store.SoftDeleteOldTasks(ctx, now.AddDate(0, 0, -svc.cfg.TaskRetentionDays)); err != nil {
		slog.Error("cleanup: soft delete old tasks failed", "error", err)
	} else if n > 0 {
		slog.Info("cleanup: soft deleted old tasks", "count", n)
	}

	if n, err := svc.store.DeleteExpiredEvents(ctx, now.Add(-svc.cfg.EventTTL)); err != nil {
		slog.Error("cleanup: delete expired events failed", "error", err)
	} else if n > 0 {
		slog.Info("cleanup: purged expired events", "count", n)
	}
}

func (svc *Service) expireApprovals(ctx context.Context, now time.Time) {
	expired, err := svc.store.ListExpiredApprovals(ctx, now)
	if err != nil {
		slog.Error("cleanup: list expired approvals failed", "error", err)
		return
	}
	for _, t := range expired {
		if err := svc.store.SetTicketApproval(ctx, t.ID, "timed_out"); err != nil {
			slog.Error("cleanup: failed to auto-reject expired approval", "ticket_id", t.ID, "error", err)
		}
	}
}
