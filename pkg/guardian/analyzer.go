// Package guardian implements the per-agent Guardian Analyzer, the
// system-wide Conductor Analyzer, the monitoring loop that schedules
// both, and the authority-ranked Guardian Intervention actions they
// (or an operator) may trigger. The LLM-facing half of each analyzer
// builds a prompt, calls the model, parses a strict structured reply,
// and falls back to a degraded-but-valid record when that parse
// fails, rather than letting a bad model response stall the
// monitoring cycle.
package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/llm"
	"github.com/r3e-conductor/conductor/pkg/store"
	"github.com/r3e-conductor/conductor/pkg/trajectory"
)

// analyzerStore is the subset of *store.Store the Guardian Analyzer
// depends on.
type analyzerStore interface {
	CreateGuardianAnalysis(ctx context.Context, g *store.GuardianAnalysis) (*store.GuardianAnalysis, error)
	CreateSteeringIntervention(ctx context.Context, si *store.SteeringIntervention) (*store.SteeringIntervention, error)
}

// trajectoryProvider is the subset of *trajectory.Provider the
// Guardian Analyzer depends on.
type trajectoryProvider interface {
	Get(ctx context.Context, ref trajectory.Ref) (*trajectory.Context, error)
}

// guardianReply is the strict JSON shape the analyzer prompt demands
// of the model (spec §4.11 step 3).
type guardianReply struct {
	TrajectoryAligned      bool    `json:"trajectory_aligned"`
	AlignmentScore         float64 `json:"alignment_score"`
	NeedsSteering          bool    `json:"needs_steering"`
	SteeringType           string  `json:"steering_type,omitempty"`
	SteeringRecommendation string  `json:"steering_recommendation,omitempty"`
	TrajectorySummary      string  `json:"trajectory_summary"`
	CurrentFocus           string  `json:"current_focus"`
	ConversationLength     int     `json:"conversation_length"`
	SessionDuration        string  `json:"session_duration"`
}

// Analyzer runs one Guardian pass per agent.
type Analyzer struct {
	store      analyzerStore
	trajectory trajectoryProvider
	llmClient  llm.Client
	publisher  *events.Publisher
	model      string
}

// NewAnalyzer creates a Guardian Analyzer.
func NewAnalyzer(s analyzerStore, tp trajectoryProvider, llmClient llm.Client, publisher *events.Publisher, model string) *Analyzer {
	if model == "" {
		model = "guardian-default"
	}
	return &Analyzer{store: s, trajectory: tp, llmClient: llmClient, publisher: publisher, model: model}
}

// Analyze runs one Guardian pass for agentID and returns the persisted
// analysis. Returns (nil, nil) when the agent has no recent events to
// analyze (spec §4.11's "agents with no recent events return no
// analysis" edge case).
func (a *Analyzer) Analyze(ctx context.Context, agentID string) (*store.GuardianAnalysis, error) {
	analysis, _, err := a.AnalyzeWithIntervention(ctx, agentID)
	return analysis, err
}

// AnalyzeWithIntervention is Analyze plus the SteeringIntervention
// record it enqueued, if any — used by trigger_emergency_analysis
// (spec §4.13) which must hand interventions back synchronously
// rather than only persisting them.
func (a *Analyzer) AnalyzeWithIntervention(ctx context.Context, agentID string) (*store.GuardianAnalysis, *store.SteeringIntervention, error) {
	ctxData, err := a.trajectory.Get(ctx, trajectory.Ref{AgentID: agentID})
	if err != nil {
		return nil, nil, fmt.Errorf("load trajectory context for %s: %w", agentID, err)
	}
	if ctxData == nil {
		return nil, nil, nil
	}

	reply, degraded := a.invoke(ctx, agentID, ctxData)

	analysis := &store.GuardianAnalysis{
		AgentID:                agentID,
		TrajectoryAligned:      reply.TrajectoryAligned,
		AlignmentScore:         reply.AlignmentScore,
		NeedsSteering:          reply.NeedsSteering,
		TrajectorySummary:      reply.TrajectorySummary,
		CurrentFocus:           reply.CurrentFocus,
		ConversationLength:     reply.ConversationLength,
		SessionDuration:        reply.SessionDuration,
		Degraded:               degraded,
	}
	if reply.SteeringType != "" {
		st := reply.SteeringType
		analysis.SteeringType = &st
	}
	if reply.SteeringRecommendation != "" {
		rec := reply.SteeringRecommendation
		analysis.SteeringRecommendation = &rec
	}

	persisted, err := a.store.CreateGuardianAnalysis(ctx, analysis)
	if err != nil {
		return nil, nil, fmt.Errorf("persist guardian analysis: %w", err)
	}

	var intervention *store.SteeringIntervention
	if !degraded && reply.NeedsSteering {
		si := &store.SteeringIntervention{
			AgentID:            agentID,
			GuardianAnalysisID: &persisted.ID,
			SteeringType:       reply.SteeringType,
			Recommendation:     reply.SteeringRecommendation,
		}
		persistedSI, err := a.store.CreateSteeringIntervention(ctx, si)
		if err != nil {
			slog.Warn("failed to enqueue steering intervention", "agent_id", agentID, "error", err)
		} else {
			intervention = persistedSI
		}
		if a.publisher != nil {
			if err := a.publisher.Publish(ctx, events.TypeMonitoringGuardian, events.GlobalChannel, map[string]interface{}{
				"agent_id":       agentID,
				"analysis_id":    persisted.ID,
				"needs_steering": true,
				"steering_type":  reply.SteeringType,
			}); err != nil {
				slog.Warn("failed to publish guardian steering event", "agent_id", agentID, "error", err)
			}
		}
	}

	return persisted, intervention, nil
}

// invoke builds the alignment prompt, calls the model, and parses its
// reply. On any failure — the call itself, or a reply that is not the
// strict JSON shape expected — it returns a degraded record instead of
// propagating the error, per spec §4.11's "never block the loop" edge
// case.
func (a *Analyzer) invoke(ctx context.Context, agentID string, tc *trajectory.Context) (guardianReply, bool) {
	resp, err := a.llmClient.Generate(ctx, llm.Request{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: guardianSystemPrompt},
			{Role: llm.RoleUser, Content: buildGuardianPrompt(tc)},
		},
	})
	if err != nil {
		slog.Warn("guardian llm call failed, recording degraded analysis", "agent_id", agentID, "error", err)
		return degradedReply(tc), true
	}

	var reply guardianReply
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &reply); err != nil {
		slog.Warn("guardian llm reply not parseable, recording degraded analysis", "agent_id", agentID, "error", err)
		return degradedReply(tc), true
	}
	if reply.ConversationLength == 0 {
		reply.ConversationLength = tc.ConversationLength
	}
	if reply.SessionDuration == "" {
		reply.SessionDuration = tc.SessionDuration.String()
	}
	return reply, false
}

func degradedReply(tc *trajectory.Context) guardianReply {
	r := guardianReply{
		TrajectoryAligned:  false,
		AlignmentScore:     0,
		NeedsSteering:      false,
		TrajectorySummary:  tc.TrajectorySummary,
		CurrentFocus:       tc.CurrentFocus,
		ConversationLength: tc.ConversationLength,
		SessionDuration:    tc.SessionDuration.String(),
	}
	return r
}

const guardianSystemPrompt = `You are the Guardian monitor for an autonomous coding agent. Judge ` +
	`whether the agent's recent activity stays on track toward its goal, and whether it needs ` +
	`steering. Reply with a single JSON object and nothing else.`

func buildGuardianPrompt(tc *trajectory.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", tc.OverallGoal)
	fmt.Fprintf(&b, "Current focus: %s\n", tc.CurrentFocus)
	fmt.Fprintf(&b, "Session duration: %s\n", tc.SessionDuration)
	if len(tc.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints: %s\n", strings.Join(tc.Constraints, "; "))
	}
	if len(tc.DiscoveredBlockers) > 0 {
		fmt.Fprintf(&b, "Discovered blockers: %s\n", strings.Join(tc.DiscoveredBlockers, "; "))
	}
	b.WriteString("Trajectory:\n")
	b.WriteString(tc.TrajectorySummary)
	b.WriteString("\n\nReply as JSON: {\"trajectory_aligned\": bool, \"alignment_score\": float 0..1, " +
		"\"needs_steering\": bool, \"steering_type\": string, \"steering_recommendation\": string, " +
		"\"trajectory_summary\": string, \"current_focus\": string, \"conversation_length\": int, " +
		"\"session_duration\": string}")
	return b.String()
}

// extractJSON trims a model reply down to its outermost JSON object,
// tolerating replies that wrap the object in prose or a code fence.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return content
	}
	return content[start : end+1]
}
