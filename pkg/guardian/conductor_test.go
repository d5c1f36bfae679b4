package guardian

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/llm"
	"github.com/r3e-conductor/conductor/pkg/store"
)

type fakeConductorStore struct {
	agents     []*store.Agent
	analyses   map[string]*store.GuardianAnalysis
	persisted  []*store.ConductorAnalysis
	duplicates []*store.DetectedDuplicate
}

func (f *fakeConductorStore) ListActiveAgents(context.Context, time.Time) ([]*store.Agent, error) {
	return f.agents, nil
}

func (f *fakeConductorStore) LatestGuardianAnalysis(_ context.Context, agentID string) (*store.GuardianAnalysis, error) {
	ga, ok := f.analyses[agentID]
	if !ok {
		return nil, errTest("not found")
	}
	return ga, nil
}

func (f *fakeConductorStore) CreateConductorAnalysis(_ context.Context, c *store.ConductorAnalysis) (*store.ConductorAnalysis, error) {
	c.ID = "ca-1"
	f.persisted = append(f.persisted, c)
	return c, nil
}

func (f *fakeConductorStore) CreateDetectedDuplicate(_ context.Context, d *store.DetectedDuplicate) (*store.DetectedDuplicate, error) {
	d.ID = "dd-1"
	f.duplicates = append(f.duplicates, d)
	return d, nil
}

func TestConductorAnalyzerNoAgents(t *testing.T) {
	s := &fakeConductorStore{}
	c := NewConductorAnalyzer(s, &fakeTrajectoryProvider{}, llm.NewFakeClient(), nil, "", 0)

	analysis, err := c.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no_agents", analysis.SystemStatus)
	assert.Equal(t, 0, analysis.AgentCount)
}

func TestConductorAnalyzerComputesCoherenceAndStatus(t *testing.T) {
	s := &fakeConductorStore{
		agents: []*store.Agent{
			{ID: "a1", Phase: "build"},
			{ID: "a2", Phase: "build"},
		},
		analyses: map[string]*store.GuardianAnalysis{
			"a1": {AgentID: "a1", AlignmentScore: 0.9, TrajectoryAligned: true, CreatedAt: time.Now()},
			"a2": {AgentID: "a2", AlignmentScore: 0.95, TrajectoryAligned: true, CreatedAt: time.Now()},
		},
	}
	tp := &fakeTrajectoryProvider{ctx: nil}
	fakeLLM := llm.NewFakeClient()
	c := NewConductorAnalyzer(s, tp, fakeLLM, nil, "", 0)

	analysis, err := c.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, analysis.AgentCount)
	assert.Greater(t, analysis.CoherenceScore, 0.5)
	assert.Empty(t, s.duplicates)
}

func TestConductorAnalyzerIgnoresStaleGuardianAnalyses(t *testing.T) {
	s := &fakeConductorStore{
		agents: []*store.Agent{{ID: "a1", Phase: "build"}},
		analyses: map[string]*store.GuardianAnalysis{
			"a1": {AgentID: "a1", AlignmentScore: 0.9, TrajectoryAligned: true, CreatedAt: time.Now().Add(-20 * time.Minute)},
		},
	}
	c := NewConductorAnalyzer(s, &fakeTrajectoryProvider{}, llm.NewFakeClient(), nil, "", 0)

	analysis, err := c.Analyze(context.Background())
	require.NoError(t, err)
	// No fresh analysis survives the 10-minute window, so coherence
	// falls back to its zero-analyses case.
	assert.Equal(t, 0.0, analysis.CoherenceScore)
}

func TestSystemStatusThresholds(t *testing.T) {
	assert.Equal(t, "no_agents", systemStatus(0.9, 0, 0))
	assert.Equal(t, "critical", systemStatus(0.1, 0, 5))
	assert.Equal(t, "warning", systemStatus(0.4, 0, 5))
	assert.Equal(t, "inefficient", systemStatus(0.6, 2, 5))
	assert.Equal(t, "optimal", systemStatus(0.9, 0, 5))
	assert.Equal(t, "normal", systemStatus(0.6, 0, 5))
}

func TestLoadBalanceScoreEvenDistributionIsOne(t *testing.T) {
	score := loadBalanceScore(map[string]int{"a": 2, "b": 2})
	assert.Equal(t, 1.0, score)
}
