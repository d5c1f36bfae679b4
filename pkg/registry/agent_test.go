package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/store"
)

// mockAgentStore is an in-memory agentStore used to unit-test the
// registry without a database.
type mockAgentStore struct {
	agents          map[string]*store.Agent
	guardianActions []*store.GuardianAction
	nextID          int
}

func newMockAgentStore() *mockAgentStore {
	return &mockAgentStore{agents: make(map[string]*store.Agent)}
}

func (m *mockAgentStore) CreateAgent(_ context.Context, a *store.Agent) (*store.Agent, error) {
	if a.ID == "" {
		m.nextID++
		a.ID = "agent-id"
	}
	cp := *a
	m.agents[a.ID] = &cp
	return &cp, nil
}

func (m *mockAgentStore) GetAgent(_ context.Context, id string) (*store.Agent, error) {
	a, ok := m.agents[id]
	if !ok {
		return nil, assertNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAgentStore) CountAgentsByPrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, a := range m.agents {
		if len(a.Name) >= len(prefix) && a.Name[:len(prefix)] == prefix {
			n++
		}
	}
	return n, nil
}

func (m *mockAgentStore) UpdateAgentFields(_ context.Context, a *store.Agent) error {
	existing, ok := m.agents[a.ID]
	if !ok {
		return assertNotFound
	}
	existing.Capabilities = a.Capabilities
	existing.Capacity = a.Capacity
	existing.Tags = a.Tags
	existing.Metadata = a.Metadata
	return nil
}

func (m *mockAgentStore) UpdateAgentStatus(_ context.Context, id, status string) error {
	a, ok := m.agents[id]
	if !ok {
		return assertNotFound
	}
	a.Status = status
	return nil
}

func (m *mockAgentStore) RecordHeartbeat(_ context.Context, id string) error {
	a, ok := m.agents[id]
	if !ok {
		return assertNotFound
	}
	now := time.Now()
	a.LastHeartbeat = &now
	a.Health = "healthy"
	return nil
}

func (m *mockAgentStore) MarkDegraded(_ context.Context, id string) error {
	a, ok := m.agents[id]
	if !ok {
		return assertNotFound
	}
	a.Health = "degraded"
	return nil
}

func (m *mockAgentStore) ListStaleHeartbeats(_ context.Context, cutoff time.Time) ([]*store.Agent, error) {
	var out []*store.Agent
	for _, a := range m.agents {
		if a.LastHeartbeat == nil || a.LastHeartbeat.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAgentStore) SearchAgents(_ context.Context, phase string, requestedCapabilities []string) ([]store.AgentScore, error) {
	var out []store.AgentScore
	for _, a := range m.agents {
		if a.Phase != phase {
			continue
		}
		out = append(out, store.AgentScore{Agent: a, Score: 1.0})
	}
	return out, nil
}

func (m *mockAgentStore) CreateGuardianAction(_ context.Context, a *store.GuardianAction) (*store.GuardianAction, error) {
	m.guardianActions = append(m.guardianActions, a)
	return a, nil
}

// assertNotFound stands in for errs.ErrNotFound in the mock so this
// file does not need to import the errs package just for a sentinel.
var assertNotFound = &notFoundError{}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "not found" }

func TestRegisterAgentAssignsIdentityAndDefaults(t *testing.T) {
	s := newMockAgentStore()
	r := New(s, nil)

	result, err := r.RegisterAgent(context.Background(), RegistrationRequest{
		AgentType:    "implementer",
		Phase:        "implementation",
		Capabilities: []string{" Go ", "SQL", ""},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Agent)

	assert.Equal(t, "SPAWNING", result.Agent.Status)
	assert.Equal(t, 1, result.Agent.Capacity)
	assert.Equal(t, []string{"go", "sql"}, result.Agent.Capabilities)
	assert.NotEmpty(t, result.PrivateKeyPEM)
	assert.NotNil(t, result.Agent.CryptoPublicKey)
	assert.Contains(t, *result.Agent.CryptoPublicKey, "PUBLIC KEY")
	assert.Contains(t, result.Agent.Name, "implementer-imp-")
}

func TestRegisterAgentRejectsMissingType(t *testing.T) {
	s := newMockAgentStore()
	r := New(s, nil)

	_, err := r.RegisterAgent(context.Background(), RegistrationRequest{Phase: "implementation"})
	require.Error(t, err)
}

func TestSearchAgentsExcludesTerminated(t *testing.T) {
	s := newMockAgentStore()
	s.agents["a1"] = &store.Agent{ID: "a1", Phase: "implementation", Status: "TERMINATED"}
	s.agents["a2"] = &store.Agent{ID: "a2", Phase: "implementation", Status: "IDLE"}
	r := New(s, nil)

	results, err := r.SearchAgents(context.Background(), "implementation", nil, 10, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a2", results[0].Agent.ID)
}

func TestSearchAgentsIncludeDegraded(t *testing.T) {
	s := newMockAgentStore()
	s.agents["a1"] = &store.Agent{ID: "a1", Phase: "implementation", Status: "FAILED"}
	r := New(s, nil)

	results, err := r.SearchAgents(context.Background(), "implementation", nil, 10, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestUpdateAgentCapabilitiesNormalizes(t *testing.T) {
	s := newMockAgentStore()
	s.agents["a1"] = &store.Agent{ID: "a1", Capabilities: []string{"go"}}
	r := New(s, nil)

	newCaps := []string{"Python", "GO"}
	updated, err := r.UpdateAgent(context.Background(), "a1", UpdateAgentRequest{Capabilities: &newCaps})
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "go"}, updated.Capabilities)
}

func TestToggleAvailability(t *testing.T) {
	s := newMockAgentStore()
	s.agents["a1"] = &store.Agent{ID: "a1", Status: "RUNNING"}
	r := New(s, nil)

	require.NoError(t, r.ToggleAvailability(context.Background(), "a1", false))
	assert.Equal(t, "DEGRADED", s.agents["a1"].Status)

	require.NoError(t, r.ToggleAvailability(context.Background(), "a1", true))
	assert.Equal(t, "IDLE", s.agents["a1"].Status)
}
