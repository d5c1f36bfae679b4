package guardian

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/llm"
	"github.com/r3e-conductor/conductor/pkg/registry"
	"github.com/r3e-conductor/conductor/pkg/store"
	"github.com/r3e-conductor/conductor/pkg/trajectory"
)

var trajectoryContextFixture = trajectory.Context{
	AgentID: "fixture", OverallGoal: "ship the feature", CurrentFocus: "writing tests",
}

type fakeLoopStore struct {
	agents []*store.Agent
}

func (f *fakeLoopStore) ListActiveAgents(context.Context, time.Time) ([]*store.Agent, error) {
	return f.agents, nil
}

type fakeRestarter struct {
	stale     []*store.Agent
	restarted []registry.RestartedAgent
}

func (f *fakeRestarter) DetectStale(context.Context, time.Time) ([]*store.Agent, error) {
	return f.stale, nil
}

func (f *fakeRestarter) RestartStaleAgents(context.Context, time.Time) ([]registry.RestartedAgent, error) {
	return f.restarted, nil
}

func TestRunSingleCycleAnalyzesEachActiveAgent(t *testing.T) {
	tp := &fakeTrajectoryProvider{ctx: &trajectoryContextFixture}
	fakeLLM := llm.NewFakeClient()
	fakeLLM.AddSequential(llm.ScriptEntry{Response: &llm.Response{Content: `{"trajectory_aligned":true,"alignment_score":0.8,"needs_steering":false}`}})
	fakeLLM.AddSequential(llm.ScriptEntry{Response: &llm.Response{Content: `{"trajectory_aligned":true,"alignment_score":0.8,"needs_steering":false}`}})
	fakeLLM.AddSequential(llm.ScriptEntry{Response: &llm.Response{Content: `{"similarity_score":0.2}`}})

	analyzerStore := &fakeAnalyzerStore{}
	condStore := &fakeConductorStore{agents: []*store.Agent{{ID: "a1", Phase: "build"}, {ID: "a2", Phase: "build"}}}
	loopStore := &fakeLoopStore{agents: condStore.agents}

	a := NewAnalyzer(analyzerStore, tp, fakeLLM, nil, "")
	c := NewConductorAnalyzer(condStore, tp, fakeLLM, nil, "", 0)
	l := NewLoop(a, c, loopStore, nil, nil, config.DefaultMonitoringConfig())

	l.RunSingleCycle(context.Background())

	assert.Len(t, analyzerStore.analyses, 2)
}

func TestTriggerEmergencyAnalysisReturnsInterventions(t *testing.T) {
	tp := &fakeTrajectoryProvider{ctx: &trajectoryContextFixture}
	fakeLLM := llm.NewFakeClient()
	fakeLLM.AddSequential(llm.ScriptEntry{Response: &llm.Response{Content: `{
		"trajectory_aligned": false, "alignment_score": 0.1, "needs_steering": true,
		"steering_type": "redirect", "steering_recommendation": "stop and re-read the ticket"
	}`}})

	analyzerStore := &fakeAnalyzerStore{}
	a := NewAnalyzer(analyzerStore, tp, fakeLLM, nil, "")
	c := NewConductorAnalyzer(&fakeConductorStore{}, tp, fakeLLM, nil, "", 0)
	l := NewLoop(a, c, &fakeLoopStore{}, nil, nil, config.DefaultMonitoringConfig())

	interventions, err := l.TriggerEmergencyAnalysis(context.Background(), []string{"a1"})
	require.NoError(t, err)
	require.Len(t, interventions, 1)
	assert.Equal(t, "redirect", interventions[0].SteeringType)
}

func TestLoopStartStopIsIdempotent(t *testing.T) {
	tp := &fakeTrajectoryProvider{}
	cfg := config.DefaultMonitoringConfig()
	cfg.GuardianInterval = time.Hour
	cfg.ConductorInterval = time.Hour
	cfg.HealthCheckInterval = time.Hour

	a := NewAnalyzer(&fakeAnalyzerStore{}, tp, llm.NewFakeClient(), nil, "")
	c := NewConductorAnalyzer(&fakeConductorStore{}, tp, llm.NewFakeClient(), nil, "", 0)
	l := NewLoop(a, c, &fakeLoopStore{}, nil, nil, cfg)

	ctx := context.Background()
	l.Start(ctx)
	l.Start(ctx) // second Start must be a no-op, not a double-register
	l.Stop(ctx)
	l.Stop(ctx) // second Stop must be a no-op
}

func TestHealthCheckRestartsStaleAgents(t *testing.T) {
	tp := &fakeTrajectoryProvider{}
	a := NewAnalyzer(&fakeAnalyzerStore{}, tp, llm.NewFakeClient(), nil, "")
	c := NewConductorAnalyzer(&fakeConductorStore{}, tp, llm.NewFakeClient(), nil, "", 0)

	old := &store.Agent{ID: "a-old", AgentType: "implementer", Phase: "build"}
	replacement := &store.Agent{ID: "a-new", AgentType: "implementer", Phase: "build"}
	rs := &fakeRestarter{
		stale:     []*store.Agent{old},
		restarted: []registry.RestartedAgent{{Old: old, New: replacement}},
	}

	l := NewLoop(a, c, &fakeLoopStore{}, rs, nil, config.DefaultMonitoringConfig())
	l.runHealthCheck(context.Background())
}

func TestHealthCheckSkipsRestartWithNoRegistry(t *testing.T) {
	tp := &fakeTrajectoryProvider{}
	a := NewAnalyzer(&fakeAnalyzerStore{}, tp, llm.NewFakeClient(), nil, "")
	c := NewConductorAnalyzer(&fakeConductorStore{}, tp, llm.NewFakeClient(), nil, "", 0)

	l := NewLoop(a, c, &fakeLoopStore{}, nil, nil, config.DefaultMonitoringConfig())
	l.runHealthCheck(context.Background()) // must not panic with registry == nil
}
