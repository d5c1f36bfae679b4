package guardian

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/llm"
	"github.com/r3e-conductor/conductor/pkg/store"
	"github.com/r3e-conductor/conductor/pkg/trajectory"
)

type fakeAnalyzerStore struct {
	analyses      []*store.GuardianAnalysis
	interventions []*store.SteeringIntervention
}

func (f *fakeAnalyzerStore) CreateGuardianAnalysis(_ context.Context, g *store.GuardianAnalysis) (*store.GuardianAnalysis, error) {
	g.ID = "ga-1"
	f.analyses = append(f.analyses, g)
	return g, nil
}

func (f *fakeAnalyzerStore) CreateSteeringIntervention(_ context.Context, si *store.SteeringIntervention) (*store.SteeringIntervention, error) {
	si.ID = "si-1"
	f.interventions = append(f.interventions, si)
	return si, nil
}

type fakeTrajectoryProvider struct {
	ctx *trajectory.Context
}

func (f *fakeTrajectoryProvider) Get(context.Context, trajectory.Ref) (*trajectory.Context, error) {
	return f.ctx, nil
}

func TestAnalyzerPersistsAlignedAnalysis(t *testing.T) {
	tp := &fakeTrajectoryProvider{ctx: &trajectory.Context{
		AgentID: "a1", OverallGoal: "implement feature X", CurrentFocus: "writing tests",
		SessionDuration: 5 * time.Minute, ConversationLength: 3,
	}}
	fakeLLM := llm.NewFakeClient()
	fakeLLM.AddSequential(llm.ScriptEntry{Response: &llm.Response{Content: `{
		"trajectory_aligned": true, "alignment_score": 0.9, "needs_steering": false,
		"trajectory_summary": "on track", "current_focus": "writing tests",
		"conversation_length": 3, "session_duration": "5m0s"
	}`}})

	s := &fakeAnalyzerStore{}
	a := NewAnalyzer(s, tp, fakeLLM, nil, "")

	analysis, err := a.Analyze(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.True(t, analysis.TrajectoryAligned)
	assert.Equal(t, 0.9, analysis.AlignmentScore)
	assert.False(t, analysis.Degraded)
	assert.Empty(t, s.interventions)
}

func TestAnalyzerEnqueuesInterventionWhenSteeringNeeded(t *testing.T) {
	tp := &fakeTrajectoryProvider{ctx: &trajectory.Context{AgentID: "a1", OverallGoal: "g", CurrentFocus: "f"}}
	fakeLLM := llm.NewFakeClient()
	fakeLLM.AddSequential(llm.ScriptEntry{Response: &llm.Response{Content: `{
		"trajectory_aligned": false, "alignment_score": 0.2, "needs_steering": true,
		"steering_type": "redirect", "steering_recommendation": "refocus on the failing test",
		"trajectory_summary": "drifting", "current_focus": "unrelated refactor"
	}`}})

	s := &fakeAnalyzerStore{}
	a := NewAnalyzer(s, tp, fakeLLM, nil, "")

	analysis, intervention, err := a.AnalyzeWithIntervention(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, analysis)
	require.NotNil(t, intervention)
	assert.Equal(t, "redirect", intervention.SteeringType)
	require.Len(t, s.interventions, 1)
}

func TestAnalyzerReturnsDegradedOnLLMFailure(t *testing.T) {
	tp := &fakeTrajectoryProvider{ctx: &trajectory.Context{AgentID: "a1", OverallGoal: "g", CurrentFocus: "f"}}
	fakeLLM := llm.NewFakeClient()
	fakeLLM.AddSequential(llm.ScriptEntry{Err: assertErr})

	s := &fakeAnalyzerStore{}
	a := NewAnalyzer(s, tp, fakeLLM, nil, "")

	analysis, err := a.Analyze(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.True(t, analysis.Degraded)
	assert.Equal(t, 0.0, analysis.AlignmentScore)
	assert.False(t, analysis.NeedsSteering)
}

func TestAnalyzerReturnsNoAnalysisForAgentWithNoEvents(t *testing.T) {
	tp := &fakeTrajectoryProvider{ctx: nil}
	s := &fakeAnalyzerStore{}
	a := NewAnalyzer(s, tp, llm.NewFakeClient(), nil, "")

	analysis, err := a.Analyze(context.Background(), "a1")
	require.NoError(t, err)
	assert.Nil(t, analysis)
	assert.Empty(t, s.analyses)
}

var assertErr = errTest("llm unavailable")

type errTest string

func (e errTest) Error() string { return string(e) }
