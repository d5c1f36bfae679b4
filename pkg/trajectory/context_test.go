package trajectory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/store"
)

type fakeEventStore struct {
	events      map[string][]*store.ReasoningEvent
	sandboxToAgent map[string]string
}

func (f *fakeEventStore) ListReasoningEvents(_ context.Context, agentID string) ([]*store.ReasoningEvent, error) {
	return f.events[agentID], nil
}

func (f *fakeEventStore) ResolveAgentBySandbox(_ context.Context, sandboxID string) (string, error) {
	agentID, ok := f.sandboxToAgent[sandboxID]
	if !ok {
		return "", errs.ErrNotFound
	}
	return agentID, nil
}

func TestAssembleBuildsGoalFocusAndSummary(t *testing.T) {
	now := time.Now()
	events := []*store.ReasoningEvent{
		{AgentID: "a1", EventType: eventTypeInput, Content: "Implement the login form. constraint: must use existing session middleware", CreatedAt: now.Add(-10 * time.Minute)},
		{AgentID: "a1", EventType: eventTypeOutput, Content: "Wrote the form component", CreatedAt: now.Add(-5 * time.Minute)},
		{AgentID: "a1", EventType: eventTypeOutput, Content: "blocked: waiting on design review", CreatedAt: now.Add(-1 * time.Minute)},
	}

	c := Assemble("a1", events)
	require.NotNil(t, c)
	assert.Equal(t, "Implement the login form. constraint: must use existing session middleware", c.OverallGoal)
	assert.Equal(t, "blocked: waiting on design review", c.CurrentFocus)
	assert.Equal(t, 3, c.ConversationLength)
	assert.Contains(t, c.Constraints, "must use existing session middleware")
	assert.Contains(t, c.DiscoveredBlockers, "waiting on design review")
	assert.True(t, c.SessionDuration >= 9*time.Minute)
	assert.NotEmpty(t, c.TrajectorySummary)
}

func TestAssembleReturnsNilForNoEvents(t *testing.T) {
	assert.Nil(t, Assemble("a1", nil))
}

func TestProviderResolvesSandboxToAgent(t *testing.T) {
	s := &fakeEventStore{
		events:         map[string][]*store.ReasoningEvent{"a1": {{AgentID: "a1", EventType: eventTypeInput, Content: "do the thing", CreatedAt: time.Now()}}},
		sandboxToAgent: map[string]string{"sb-1": "a1"},
	}
	p := NewProvider(s, time.Minute)

	c, err := p.Get(context.Background(), Ref{SandboxID: "sb-1"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "a1", c.AgentID)
}

func TestProviderCachesUntilCleared(t *testing.T) {
	s := &fakeEventStore{
		events: map[string][]*store.ReasoningEvent{"a1": {{AgentID: "a1", EventType: eventTypeInput, Content: "first", CreatedAt: time.Now()}}},
	}
	p := NewProvider(s, time.Hour)

	first, err := p.Get(context.Background(), Ref{AgentID: "a1"})
	require.NoError(t, err)

	s.events["a1"] = append(s.events["a1"], &store.ReasoningEvent{AgentID: "a1", EventType: eventTypeOutput, Content: "second", CreatedAt: time.Now()})

	cached, err := p.Get(context.Background(), Ref{AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationLength, cached.ConversationLength)

	p.ClearCache("a1")
	refreshed, err := p.Get(context.Background(), Ref{AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed.ConversationLength)
}
