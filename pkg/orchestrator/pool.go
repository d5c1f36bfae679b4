package orchestrator

import (
	"context"
	"log/slog"
)

// Pool runs a fixed set of per-phase Workers plus the Idle Sandbox
// Monitor and the timeout Reaper as one unit, started and stopped
// together by cmd/conductor's top-level shutdown signal handling.
type Pool struct {
	workers []*Worker
	idle    *IdleMonitor
	reaper  *Reaper
}

// NewPool assembles a Pool from the given workers, idle monitor, and
// timeout reaper. idle may be nil for a deployment running Legacy mode
// only; reaper is required in every mode, since a task's
// timeout_seconds budget (spec §4.5) is enforced independent of
// whichever worker claimed it.
func NewPool(workers []*Worker, idle *IdleMonitor, reaper *Reaper) *Pool {
	return &Pool{workers: workers, idle: idle, reaper: reaper}
}

// Start launches every worker, the idle monitor, and the reaper.
func (p *Pool) Start(ctx context.Context) {
	slog.Info("starting orchestrator pool", "worker_count", len(p.workers))
	for _, w := range p.workers {
		w.Start(ctx)
	}
	if p.idle != nil {
		p.idle.Start(ctx)
	}
	if p.reaper != nil {
		p.reaper.Start(ctx)
	}
}

// Stop signals every worker, the idle monitor, and the reaper to stop
// and waits for in-flight claims to settle (graceful drain on
// SIGTERM/SIGINT).
func (p *Pool) Stop() {
	slog.Info("stopping orchestrator pool gracefully")
	for _, w := range p.workers {
		w.Stop()
	}
	if p.idle != nil {
		p.idle.Stop()
	}
	if p.reaper != nil {
		p.reaper.Stop()
	}
	slog.Info("orchestrator pool stopped")
}
