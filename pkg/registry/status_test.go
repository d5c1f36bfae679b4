package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/store"
)

func TestIsLegalTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{"SPAWNING", "IDLE", true},
		{"IDLE", "RUNNING", true},
		{"RUNNING", "IDLE", true},
		{"RUNNING", "DEGRADED", true},
		{"DEGRADED", "RUNNING", true},
		{"DEGRADED", "IDLE", true},
		{"SPAWNING", "RUNNING", false},
		{"IDLE", "DEGRADED", false},
		{"RUNNING", "FAILED", true},
		{"IDLE", "TERMINATED", true},
		{"TERMINATED", "IDLE", false},
		{"FAILED", "IDLE", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, isLegalTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTransitionStatusAppliesLegalTransition(t *testing.T) {
	s := newMockAgentStore()
	s.agents["a1"] = &store.Agent{ID: "a1", Status: "IDLE"}
	r := New(s, nil)

	updated, err := r.TransitionStatus(context.Background(), TransitionRequest{
		AgentID:     "a1",
		To:          "RUNNING",
		InitiatedBy: "orchestrator",
		Reason:      "task assigned",
	})
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", updated.Status)
	assert.Equal(t, "RUNNING", s.agents["a1"].Status)
	assert.Empty(t, s.guardianActions)
}

func TestTransitionStatusRejectsIllegalWithoutForce(t *testing.T) {
	s := newMockAgentStore()
	s.agents["a1"] = &store.Agent{ID: "a1", Status: "SPAWNING"}
	r := New(s, nil)

	_, err := r.TransitionStatus(context.Background(), TransitionRequest{
		AgentID: "a1",
		To:      "RUNNING",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Equal(t, "SPAWNING", s.agents["a1"].Status)
}

func TestTransitionStatusForceAuditsAndApplies(t *testing.T) {
	s := newMockAgentStore()
	s.agents["a1"] = &store.Agent{ID: "a1", Status: "SPAWNING"}
	r := New(s, nil)

	updated, err := r.TransitionStatus(context.Background(), TransitionRequest{
		AgentID:     "a1",
		To:          "RUNNING",
		InitiatedBy: "operator",
		Reason:      "manual override",
		Force:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", updated.Status)
	require.Len(t, s.guardianActions, 1)
	assert.Equal(t, "operator", s.guardianActions[0].InitiatedBy)
}

func TestTransitionStatusQuarantineRequiresForce(t *testing.T) {
	s := newMockAgentStore()
	s.agents["a1"] = &store.Agent{ID: "a1", Status: "RUNNING"}
	r := New(s, nil)

	_, err := r.TransitionStatus(context.Background(), TransitionRequest{AgentID: "a1", To: "QUARANTINED"})
	require.Error(t, err)

	_, err = r.TransitionStatus(context.Background(), TransitionRequest{
		AgentID: "a1", To: "QUARANTINED", Force: true, InitiatedBy: "operator",
	})
	require.NoError(t, err)
	assert.Equal(t, "QUARANTINED", s.agents["a1"].Status)
}

func TestTransitionStatusTerminalIsFinal(t *testing.T) {
	s := newMockAgentStore()
	s.agents["a1"] = &store.Agent{ID: "a1", Status: "TERMINATED"}
	r := New(s, nil)

	_, err := r.TransitionStatus(context.Background(), TransitionRequest{AgentID: "a1", To: "IDLE"})
	require.Error(t, err)
}

func TestDetectStaleMarksDegraded(t *testing.T) {
	s := newMockAgentStore()
	old := time.Now().Add(-1 * time.Hour)
	s.agents["a1"] = &store.Agent{ID: "a1", Health: "healthy", LastHeartbeat: &old}
	r := New(s, nil)

	stale, err := r.DetectStale(context.Background(), time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "degraded", s.agents["a1"].Health)
}

func TestRestartStaleAgentsFailsAndReplaces(t *testing.T) {
	s := newMockAgentStore()
	old := time.Now().Add(-1 * time.Hour)
	s.agents["a1"] = &store.Agent{
		ID: "a1", Status: "RUNNING", Health: "degraded", LastHeartbeat: &old,
		AgentType: "implementer", Phase: "build", Capabilities: []string{"go"}, Capacity: 1,
	}
	r := New(s, nil)

	restarted, err := r.RestartStaleAgents(context.Background(), time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, restarted, 1)

	assert.Equal(t, "a1", restarted[0].Old.ID)
	assert.Equal(t, "FAILED", s.agents["a1"].Status)

	newAgent := restarted[0].New
	require.NotEqual(t, "a1", newAgent.ID)
	assert.Equal(t, "implementer", newAgent.AgentType)
	assert.Equal(t, "build", newAgent.Phase)
	assert.Equal(t, []string{"go"}, newAgent.Capabilities)
	assert.Equal(t, "SPAWNING", newAgent.Status)
}

func TestRestartStaleAgentsSkipsAlreadyTerminal(t *testing.T) {
	s := newMockAgentStore()
	old := time.Now().Add(-1 * time.Hour)
	s.agents["a1"] = &store.Agent{ID: "a1", Status: "TERMINATED", LastHeartbeat: &old}
	r := New(s, nil)

	restarted, err := r.RestartStaleAgents(context.Background(), time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, restarted)
}
