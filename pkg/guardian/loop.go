package guardian

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/registry"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// loopStore is the subset of *store.Store the Monitoring Loop depends
// on to discover which agents the Guardian Analyzer should visit each
// cycle.
type loopStore interface {
	ListActiveAgents(ctx context.Context, cutoff time.Time) ([]*store.Agent, error)
}

// agentRestarter is the subset of *registry.Registry the health check
// depends on to flag and replace stale agents (spec.md §1 item 3's
// automatic restart); kept as a narrow interface so pkg/guardian does
// not depend on the registry's full surface.
type agentRestarter interface {
	DetectStale(ctx context.Context, cutoff time.Time) ([]*store.Agent, error)
	RestartStaleAgents(ctx context.Context, restartCutoff time.Time) ([]registry.RestartedAgent, error)
}

// CycleMetrics summarizes one monitoring cycle's aggregate result,
// the payload of the monitoring.system.updated event (spec §4.13).
type CycleMetrics struct {
	AgentsAnalyzed   int     `json:"agents_analyzed"`
	InterventionsRaised int  `json:"interventions_raised"`
	CoherenceScore   float64 `json:"coherence_score,omitempty"`
	SystemStatus     string  `json:"system_status,omitempty"`
}

// Loop schedules the Guardian and Conductor analyzers on independent
// intervals: one goroutine per ticker, a shared shutdown channel,
// idempotent Start/Stop.
type Loop struct {
	guardian  *Analyzer
	conductor *ConductorAnalyzer
	store     loopStore
	registry  agentRestarter
	publisher *events.Publisher
	cfg       *config.MonitoringConfig

	sem *semaphore.Weighted

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLoop creates a Monitoring Loop. reg may be nil, in which case the
// health check still runs but skips stale-agent detection/restart
// (used by tests that have no registry wired).
func NewLoop(guardian *Analyzer, conductor *ConductorAnalyzer, s loopStore, reg agentRestarter, publisher *events.Publisher, cfg *config.MonitoringConfig) *Loop {
	concurrency := cfg.AnalysisConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Loop{
		guardian: guardian, conductor: conductor, store: s, registry: reg, publisher: publisher, cfg: cfg,
		sem: semaphore.NewWeighted(int64(concurrency)),
	}
}

// Start begins the loop's guardian and conductor ticker goroutines.
// Idempotent: calling Start on an already-running Loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(3)
	go l.runTicker(ctx, l.cfg.GuardianInterval, l.runGuardianCycle)
	go l.runTicker(ctx, l.cfg.ConductorInterval, l.runConductorCycle)
	go l.runTicker(ctx, l.cfg.HealthCheckInterval, l.runHealthCheck)

	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, events.TypeMonitoringStarted, events.GlobalChannel, nil); err != nil {
			slog.Warn("failed to publish monitoring loop started event", "error", err)
		}
	}
}

// Stop signals every ticker loop to stop and waits for any in-flight
// cycle to finish. Idempotent: calling Stop on an already-stopped Loop
// is a no-op.
func (l *Loop) Stop(ctx context.Context) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()

	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, events.TypeMonitoringStopped, events.GlobalChannel, nil); err != nil {
			slog.Warn("failed to publish monitoring loop stopped event", "error", err)
		}
	}
}

func (l *Loop) runTicker(ctx context.Context, interval time.Duration, cycle func(context.Context)) {
	defer l.wg.Done()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.mu.Lock()
	stopCh := l.stopCh
	l.mu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

func (l *Loop) runGuardianCycle(ctx context.Context) {
	agents, err := l.store.ListActiveAgents(ctx, time.Now().Add(-activeAgentWindow))
	if err != nil {
		slog.Error("monitoring loop: failed to list active agents for guardian cycle", "error", err)
		return
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var analyzed, interventions int

	for _, agent := range agents {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			defer l.sem.Release(1)
			analysis, intervention, err := l.guardian.AnalyzeWithIntervention(ctx, agentID)
			if err != nil {
				slog.Error("guardian analysis failed", "agent_id", agentID, "error", err)
				return
			}
			if analysis == nil {
				return
			}
			mu.Lock()
			analyzed++
			if intervention != nil {
				interventions++
			}
			mu.Unlock()
		}(agent.ID)
	}
	wg.Wait()

	l.emitCycleMetrics(ctx, CycleMetrics{AgentsAnalyzed: analyzed, InterventionsRaised: interventions})
}

func (l *Loop) runConductorCycle(ctx context.Context) {
	analysis, err := l.conductor.Analyze(ctx)
	if err != nil {
		slog.Error("conductor analysis failed", "error", err)
		return
	}
	l.emitCycleMetrics(ctx, CycleMetrics{
		AgentsAnalyzed: analysis.AgentCount,
		CoherenceScore: analysis.CoherenceScore,
		SystemStatus:   analysis.SystemStatus,
	})
}

// runHealthCheck is the lightweight liveness pass spec §4.13 calls
// out separately from the LLM-driven Guardian/Conductor cycles: it
// confirms the active-agent count is reachable, flags agents whose
// heartbeat has gone stale, and force-restarts any agent stale long
// enough to cross RestartThreshold (spec.md §1 item 3's automatic
// restart) — none of which invokes the model.
func (l *Loop) runHealthCheck(ctx context.Context) {
	agents, err := l.store.ListActiveAgents(ctx, time.Now().Add(-activeAgentWindow))
	if err != nil {
		slog.Warn("monitoring loop health check failed", "error", err)
		return
	}
	slog.Debug("monitoring loop health check", "active_agents", len(agents))

	if l.registry == nil {
		return
	}

	staleCutoff := l.cfg.StaleHeartbeatThreshold
	if staleCutoff <= 0 {
		staleCutoff = 2 * time.Minute
	}
	if degraded, err := l.registry.DetectStale(ctx, time.Now().Add(-staleCutoff)); err != nil {
		slog.Warn("monitoring loop stale-agent detection failed", "error", err)
	} else if len(degraded) > 0 {
		slog.Warn("monitoring loop flagged stale agents", "count", len(degraded))
	}

	restartCutoff := l.cfg.RestartThreshold
	if restartCutoff <= 0 {
		restartCutoff = 5 * time.Minute
	}
	restarted, err := l.registry.RestartStaleAgents(ctx, time.Now().Add(-restartCutoff))
	if err != nil {
		slog.Error("monitoring loop agent auto-restart failed", "error", err)
		return
	}
	for _, r := range restarted {
		slog.Warn("monitoring loop auto-restarted stale agent",
			"old_agent_id", r.Old.ID, "new_agent_id", r.New.ID, "agent_type", r.Old.AgentType)
	}
}

func (l *Loop) emitCycleMetrics(ctx context.Context, m CycleMetrics) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, events.TypeMonitoringSystemUpdated, events.GlobalChannel, m); err != nil {
		slog.Warn("failed to publish monitoring cycle metrics", "error", err)
	}
}

// RunSingleCycle runs one Guardian pass followed by one Conductor pass
// synchronously, for tests and for an operator-triggered emergency
// pass (spec §4.13's run_single_cycle).
func (l *Loop) RunSingleCycle(ctx context.Context) {
	l.runGuardianCycle(ctx)
	l.runConductorCycle(ctx)
}

// TriggerEmergencyAnalysis force-analyzes the given agents and returns
// any interventions they raised synchronously (spec §4.13's
// trigger_emergency_analysis), bypassing the normal interval schedule
// and the concurrency semaphore (an emergency call is expected to be
// small and urgent).
func (l *Loop) TriggerEmergencyAnalysis(ctx context.Context, agentIDs []string) ([]*store.SteeringIntervention, error) {
	var interventions []*store.SteeringIntervention
	for _, agentID := range agentIDs {
		_, intervention, err := l.guardian.AnalyzeWithIntervention(ctx, agentID)
		if err != nil {
			return interventions, err
		}
		if intervention != nil {
			interventions = append(interventions, intervention)
		}
	}
	return interventions, nil
}
