package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// agentStore is the subset of *store.Store the registry depends on.
type agentStore interface {
	CreateAgent(ctx context.Context, a *store.Agent) (*store.Agent, error)
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	UpdateAgentFields(ctx context.Context, a *store.Agent) error
	CountAgentsByPrefix(ctx context.Context, prefix string) (int, error)
	UpdateAgentStatus(ctx context.Context, id, status string) error
	RecordHeartbeat(ctx context.Context, id string) error
	MarkDegraded(ctx context.Context, id string) error
	ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*store.Agent, error)
	SearchAgents(ctx context.Context, phase string, requestedCapabilities []string) ([]store.AgentScore, error)
	CreateGuardianAction(ctx context.Context, a *store.GuardianAction) (*store.GuardianAction, error)
}

// Registry implements agent registration, lifecycle mutation, and
// capability search (spec §4.3).
type Registry struct {
	store     agentStore
	publisher *events.Publisher
}

// New creates a Registry backed by store and publishing lifecycle
// events through publisher.
func New(s agentStore, publisher *events.Publisher) *Registry {
	return &Registry{store: s, publisher: publisher}
}

// RegistrationRequest is the caller-supplied shape for register_agent.
type RegistrationRequest struct {
	AgentType            string
	Phase                string
	Capabilities         []string
	Capacity             int
	Tags                 []string
	Config               map[string]interface{}
	ResourceRequirements map[string]interface{}
	Version              string
	BinaryChecksum       string
}

// RegistrationResult carries the issued identity back to the caller,
// including the private key, which exists only for the duration of
// this call and is never persisted.
type RegistrationResult struct {
	Agent         *store.Agent
	PrivateKeyPEM string
}

// RegisterAgent runs the five-step registration protocol: validation,
// identity assignment, entry creation, bus-subscription advice (left
// to the caller, which owns the live connection to the agent), and
// heartbeat seeding.
func (r *Registry) RegisterAgent(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	if err := validateRegistration(req); err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrRegistrationRejected, err.Error())
	}

	keys, err := generateAgentKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrRegistrationRejected, err.Error())
	}

	name, err := r.nextName(ctx, req.AgentType, req.Phase)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrRegistrationRejected, err.Error())
	}

	capacity := req.Capacity
	if capacity <= 0 {
		capacity = 1
	}

	now := time.Now()
	agent := &store.Agent{
		Name:            name,
		AgentType:       req.AgentType,
		Phase:           req.Phase,
		Capabilities:    normalizeCapabilities(req.Capabilities),
		Capacity:        capacity,
		Status:          "SPAWNING",
		Tags:            req.Tags,
		Health:          "healthy",
		LastHeartbeat:   &now,
		CryptoPublicKey: &keys.PublicKeyPEM,
		Metadata: map[string]interface{}{
			"config":                req.Config,
			"resource_requirements": req.ResourceRequirements,
			"version":               req.Version,
		},
	}

	created, err := r.store.CreateAgent(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrRegistrationRejected, err.Error())
	}

	r.publish(ctx, events.TypeAgentRegistered, "", map[string]interface{}{
		"agent_id":   created.ID,
		"name":       created.Name,
		"agent_type": created.AgentType,
		"phase":      created.Phase,
	})

	return &RegistrationResult{Agent: created, PrivateKeyPEM: keys.PrivateKeyPEM}, nil
}

func validateRegistration(req RegistrationRequest) error {
	if strings.TrimSpace(req.AgentType) == "" {
		return fmt.Errorf("agent_type is required")
	}
	if strings.TrimSpace(req.Phase) == "" {
		return fmt.Errorf("phase is required")
	}
	if req.Config != nil {
		// req.Config already typed as map[string]interface{}; the
		// shape check exists for callers that decode it from JSON
		// themselves before this point.
	}
	return nil
}

// normalizeCapabilities trims, lowercases, and drops empty capability
// strings per the Agent entity's storage invariant.
func normalizeCapabilities(caps []string) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		n := strings.ToLower(strings.TrimSpace(c))
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// UpdateAgentRequest carries the mutable fields update_agent may change.
type UpdateAgentRequest struct {
	Capabilities *[]string
	Capacity     *int
	Tags         *[]string
	Metadata     map[string]interface{}
}

// UpdateAgent mutates an agent's mutable fields, emitting
// agent.capability.updated when Capabilities changes.
func (r *Registry) UpdateAgent(ctx context.Context, agentID string, req UpdateAgentRequest) (*store.Agent, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	capabilitiesChanged := false
	if req.Capabilities != nil {
		agent.Capabilities = normalizeCapabilities(*req.Capabilities)
		capabilitiesChanged = true
	}
	if req.Capacity != nil {
		agent.Capacity = *req.Capacity
	}
	if req.Tags != nil {
		agent.Tags = *req.Tags
	}
	if req.Metadata != nil {
		agent.Metadata = req.Metadata
	}

	if err := r.store.UpdateAgentFields(ctx, agent); err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}

	if capabilitiesChanged {
		r.publish(ctx, events.TypeAgentCapabilityUpdated, "", map[string]interface{}{
			"agent_id":     agentID,
			"capabilities": agent.Capabilities,
		})
	}
	return agent, nil
}

// ToggleAvailability flips an agent between IDLE and DEGRADED without
// going through the full status machine, used for operator-triggered
// pause/resume.
func (r *Registry) ToggleAvailability(ctx context.Context, agentID string, available bool) error {
	status := "DEGRADED"
	if available {
		status = "IDLE"
	}
	return r.store.UpdateAgentStatus(ctx, agentID, status)
}

// SearchResult is one ranked candidate, capped at the caller's limit.
type SearchResult struct {
	Agent *store.Agent
	Score float64
}

// SearchAgents ranks agents in phase (every phase when phase is empty)
// by how well they
// cover requiredCapabilities, excluding TERMINATED|QUARANTINED|FAILED
// agents unless includeDegraded is set.
func (r *Registry) SearchAgents(ctx context.Context, phase string, requiredCapabilities []string, limit int, includeDegraded bool) ([]SearchResult, error) {
	scored, err := r.store.SearchAgents(ctx, phase, requiredCapabilities)
	if err != nil {
		return nil, fmt.Errorf("search agents: %w", err)
	}

	out := make([]SearchResult, 0, len(scored))
	for _, s := range scored {
		if !includeDegraded && isExcludedStatus(s.Agent.Status) {
			continue
		}
		out = append(out, SearchResult{Agent: s.Agent, Score: s.Score})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isExcludedStatus(status string) bool {
	switch status {
	case "TERMINATED", "QUARANTINED", "FAILED":
		return true
	default:
		return false
	}
}

func (r *Registry) publish(ctx context.Context, eventType, scopeChannel string, payload interface{}) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, eventType, scopeChannel, payload); err != nil {
		// Publish failures are advisory; the registration itself has
		// already been committed.
		_ = err
	}
}
