package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/llm"
	"github.com/r3e-conductor/conductor/pkg/store"
	"github.com/r3e-conductor/conductor/pkg/trajectory"
)

// conductorStore is the subset of *store.Store the Conductor Analyzer
// depends on.
type conductorStore interface {
	ListActiveAgents(ctx context.Context, cutoff time.Time) ([]*store.Agent, error)
	LatestGuardianAnalysis(ctx context.Context, agentID string) (*store.GuardianAnalysis, error)
	CreateConductorAnalysis(ctx context.Context, c *store.ConductorAnalysis) (*store.ConductorAnalysis, error)
	CreateDetectedDuplicate(ctx context.Context, d *store.DetectedDuplicate) (*store.DetectedDuplicate, error)
}

// activeAgentWindow bounds how stale a heartbeat may be for an agent
// to count as active (spec §4.12 step 1: "heartbeat < 2 min").
const activeAgentWindow = 2 * time.Minute

// recentAnalysisWindow bounds how stale a Guardian Analysis may be to
// feed into the coherence score (spec §4.12 step 2: "within the last
// 10 minutes").
const recentAnalysisWindow = 10 * time.Minute

// duplicateReply is the strict JSON shape the duplicate-detection
// prompt demands of the model.
type duplicateReply struct {
	SimilarityScore float64 `json:"similarity_score"`
}

// ConductorAnalyzer runs one system-wide coherence pass.
type ConductorAnalyzer struct {
	store               conductorStore
	trajectory          trajectoryProvider
	llmClient           llm.Client
	publisher           *events.Publisher
	model               string
	duplicateThreshold  float64
}

// NewConductorAnalyzer creates a Conductor Analyzer. duplicateThreshold
// is the similarity score above which a pair counts as duplicate work
// (spec default 0.7, config.MonitoringConfig.DuplicateSimilarityThreshold).
func NewConductorAnalyzer(s conductorStore, tp trajectoryProvider, llmClient llm.Client, publisher *events.Publisher, model string, duplicateThreshold float64) *ConductorAnalyzer {
	if model == "" {
		model = "conductor-default"
	}
	if duplicateThreshold <= 0 {
		duplicateThreshold = 0.7
	}
	return &ConductorAnalyzer{
		store: s, trajectory: tp, llmClient: llmClient, publisher: publisher,
		model: model, duplicateThreshold: duplicateThreshold,
	}
}

// Analyze runs one Conductor pass and persists its result.
func (c *ConductorAnalyzer) Analyze(ctx context.Context) (*store.ConductorAnalysis, error) {
	agents, err := c.store.ListActiveAgents(ctx, time.Now().Add(-activeAgentWindow))
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}

	if len(agents) == 0 {
		return c.persist(ctx, 0, "no_agents", 0, nil, nil)
	}

	analyses := make(map[string]*store.GuardianAnalysis, len(agents))
	cutoff := time.Now().Add(-recentAnalysisWindow)
	for _, a := range agents {
		ga, err := c.store.LatestGuardianAnalysis(ctx, a.ID)
		if err != nil {
			continue
		}
		if ga.CreatedAt.Before(cutoff) {
			continue
		}
		analyses[a.ID] = ga
	}

	coherence := c.coherenceScore(agents, analyses)

	duplicates, dupPairs := c.detectDuplicates(ctx, agents)

	status := systemStatus(coherence, len(duplicates), len(agents))

	metrics := map[string]interface{}{
		"analyzed_count": len(analyses),
		"coherence":      coherence,
	}
	analysis, err := c.persist(ctx, coherence, status, len(agents), metrics, dupPairs)
	if err != nil {
		return nil, err
	}
	for _, d := range duplicates {
		d.ConductorAnalysisID = analysis.ID
		if _, err := c.store.CreateDetectedDuplicate(ctx, d); err != nil {
			slog.Warn("failed to persist detected duplicate", "error", err)
		}
	}
	return analysis, nil
}

func (c *ConductorAnalyzer) persist(ctx context.Context, coherence float64, status string, agentCount int, metrics map[string]interface{}, dupPairs []*store.DetectedDuplicate) (*store.ConductorAnalysis, error) {
	analysis := &store.ConductorAnalysis{
		CoherenceScore: coherence,
		SystemStatus:   status,
		AgentCount:     agentCount,
		DuplicateCount: len(dupPairs),
		Metrics:        metrics,
	}
	persisted, err := c.store.CreateConductorAnalysis(ctx, analysis)
	if err != nil {
		return nil, fmt.Errorf("persist conductor analysis: %w", err)
	}
	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, events.TypeMonitoringConductor, events.GlobalChannel, map[string]interface{}{
			"analysis_id":     persisted.ID,
			"coherence_score": persisted.CoherenceScore,
			"system_status":   persisted.SystemStatus,
			"agent_count":     persisted.AgentCount,
			"duplicate_count": persisted.DuplicateCount,
		}); err != nil {
			slog.Warn("failed to publish conductor analysis event", "error", err)
		}
	}
	return persisted, nil
}

// coherenceScore implements spec §4.12 step 3.
func (c *ConductorAnalyzer) coherenceScore(agents []*store.Agent, analyses map[string]*store.GuardianAnalysis) float64 {
	n := len(agents)
	if n == 0 || len(analyses) == 0 {
		return 0
	}

	var sumAlignment float64
	var unaligned, steeringNeeded int
	for _, ga := range analyses {
		sumAlignment += ga.AlignmentScore
		if !ga.TrajectoryAligned {
			unaligned++
		}
		if ga.NeedsSteering {
			steeringNeeded++
		}
	}
	meanAlignment := sumAlignment / float64(len(analyses))
	unalignedFraction := float64(unaligned) / float64(len(analyses))
	steeringFraction := float64(steeringNeeded) / float64(len(analyses))

	phaseCounts := make(map[string]int)
	for _, a := range agents {
		phaseCounts[a.Phase]++
	}
	phaseCoherence := float64(len(phaseCounts)) / float64(n)

	loadBalance := loadBalanceScore(phaseCounts)

	score := meanAlignment - 0.2*unalignedFraction - 0.3*steeringFraction + 0.1*phaseCoherence + 0.1*loadBalance
	return clamp01(score)
}

// loadBalanceScore computes `1 - variance/mean²` of per-phase agent
// counts, clamped to [0,1].
func loadBalanceScore(phaseCounts map[string]int) float64 {
	if len(phaseCounts) == 0 {
		return 0
	}
	var sum float64
	for _, n := range phaseCounts {
		sum += float64(n)
	}
	mean := sum / float64(len(phaseCounts))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, n := range phaseCounts {
		d := float64(n) - mean
		variance += d * d
	}
	variance /= float64(len(phaseCounts))
	return clamp01(1 - variance/(mean*mean))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// detectDuplicates implements spec §4.12 step 4: for each pair of
// agents sharing a phase, ask the model whether they are working the
// same task.
func (c *ConductorAnalyzer) detectDuplicates(ctx context.Context, agents []*store.Agent) ([]*store.DetectedDuplicate, []*store.DetectedDuplicate) {
	byPhase := make(map[string][]*store.Agent)
	for _, a := range agents {
		byPhase[a.Phase] = append(byPhase[a.Phase], a)
	}

	var duplicates []*store.DetectedDuplicate
	for _, group := range byPhase {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				score, ok := c.pairSimilarity(ctx, group[i], group[j])
				if !ok || score <= c.duplicateThreshold {
					continue
				}
				duplicates = append(duplicates, &store.DetectedDuplicate{
					AgentAID:        group[i].ID,
					AgentBID:        group[j].ID,
					SimilarityScore: score,
				})
			}
		}
	}
	return duplicates, duplicates
}

func (c *ConductorAnalyzer) pairSimilarity(ctx context.Context, a, b *store.Agent) (float64, bool) {
	ctxA, errA := c.trajectory.Get(ctx, trajectory.Ref{AgentID: a.ID})
	ctxB, errB := c.trajectory.Get(ctx, trajectory.Ref{AgentID: b.ID})
	if errA != nil || errB != nil || ctxA == nil || ctxB == nil {
		return 0, false
	}

	prompt := fmt.Sprintf(
		"Agent A is working on: %s (currently: %s)\nAgent B is working on: %s (currently: %s)\n"+
			"Are these two agents working the same task? Reply as JSON: {\"similarity_score\": float 0..1}",
		ctxA.OverallGoal, ctxA.CurrentFocus, ctxB.OverallGoal, ctxB.CurrentFocus)

	resp, err := c.llmClient.Generate(ctx, llm.Request{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You judge whether two coding agents are duplicating work."},
			{Role: llm.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		slog.Warn("duplicate detection llm call failed", "agent_a", a.ID, "agent_b", b.ID, "error", err)
		return 0, false
	}

	var reply duplicateReply
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &reply); err != nil {
		slog.Warn("duplicate detection llm reply not parseable", "agent_a", a.ID, "agent_b", b.ID, "error", err)
		return 0, false
	}
	return reply.SimilarityScore, true
}

// systemStatus implements spec §4.12 step 5.
func systemStatus(coherence float64, duplicateCount, agentCount int) string {
	switch {
	case agentCount == 0:
		return "no_agents"
	case coherence < 0.3:
		return "critical"
	case coherence < 0.5:
		return "warning"
	case float64(duplicateCount) > 0.3*float64(agentCount):
		return "inefficient"
	case coherence > 0.8:
		return "optimal"
	default:
		return "normal"
	}
}
