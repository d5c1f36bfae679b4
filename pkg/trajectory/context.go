// Package trajectory assembles the running narrative of what an
// agent is doing (spec §4.10) from its recorded reasoning events, for
// consumption by the Guardian Analyzer's LLM prompt and the
// Conductor Analyzer's duplicate-work comparison.
package trajectory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/r3e-conductor/conductor/pkg/store"
)

// eventTypeInput and eventTypeOutput classify a ReasoningEvent as
// describing what the agent was told to do versus what it reported
// doing, the two halves a trajectory summary is built from.
const (
	eventTypeInput  = "input"
	eventTypeOutput = "output"
)

// Context is the assembled trajectory for one agent.
type Context struct {
	AgentID             string
	OverallGoal         string
	CurrentFocus        string
	SessionDuration     time.Duration
	Constraints         []string
	DiscoveredBlockers  []string
	TrajectorySummary   string
	ConversationLength  int
}

// eventStore is the subset of *store.Store a Provider depends on.
type eventStore interface {
	ListReasoningEvents(ctx context.Context, agentID string) ([]*store.ReasoningEvent, error)
	ResolveAgentBySandbox(ctx context.Context, sandboxID string) (string, error)
}

// Ref identifies the agent a Context is assembled for, by registry id
// or by sandbox id; Provider auto-routes sandbox ids to their owning
// agent before reading events.
type Ref struct {
	AgentID   string
	SandboxID string
}

// Provider assembles and caches Context values.
type Provider struct {
	store eventStore
	cache *Cache
}

// NewProvider creates a Provider with a cache of the given TTL.
func NewProvider(s eventStore, ttl time.Duration) *Provider {
	return &Provider{store: s, cache: NewCache(ttl)}
}

// Get resolves ref to an agent id and returns its Context, serving
// from cache when fresh.
func (p *Provider) Get(ctx context.Context, ref Ref) (*Context, error) {
	agentID := ref.AgentID
	if agentID == "" {
		if ref.SandboxID == "" {
			return nil, fmt.Errorf("trajectory: ref must carry an agent id or a sandbox id")
		}
		resolved, err := p.store.ResolveAgentBySandbox(ctx, ref.SandboxID)
		if err != nil {
			return nil, fmt.Errorf("resolve agent for sandbox %s: %w", ref.SandboxID, err)
		}
		agentID = resolved
	}

	if cached, ok := p.cache.Get(agentID); ok {
		return cached, nil
	}

	events, err := p.store.ListReasoningEvents(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list reasoning events for %s: %w", agentID, err)
	}

	c := Assemble(agentID, events)
	p.cache.Set(agentID, c)
	return c, nil
}

// ClearCache invalidates one agent's cached Context, or the whole
// cache when agentID is empty (clear_cache(agent?)).
func (p *Provider) ClearCache(agentID string) {
	if agentID == "" {
		p.cache.Clear()
		return
	}
	p.cache.Invalidate(agentID)
}

// Assemble builds a Context from an agent's reasoning events, ordered
// oldest first (the order ListReasoningEvents already returns them
// in). Returns nil if events is empty: an agent with no recent events
// has no trajectory to analyze (spec §4.11's "return no analysis"
// edge case starts here).
func Assemble(agentID string, events []*store.ReasoningEvent) *Context {
	if len(events) == 0 {
		return nil
	}

	c := &Context{AgentID: agentID, ConversationLength: len(events)}
	c.SessionDuration = time.Since(events[0].CreatedAt)

	seenGoals := make(map[string]bool)
	var summaryLines []string

	for _, e := range events {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		switch e.EventType {
		case eventTypeInput:
			if c.OverallGoal == "" && !seenGoals[content] {
				c.OverallGoal = content
				seenGoals[content] = true
			}
			extractConstraints(content, c)
			summaryLines = append(summaryLines, "goal: "+content)
		case eventTypeOutput:
			c.CurrentFocus = content
			extractBlockers(content, c)
			summaryLines = append(summaryLines, "did: "+content)
		default:
			summaryLines = append(summaryLines, e.EventType+": "+content)
		}
	}

	c.TrajectorySummary = strings.Join(summaryLines, "\n")
	return c
}

// extractConstraints pulls a constraint statement out of an input
// event's free text when it is phrased as "constraint: <text>",
// mirroring how discovered_blockers is scraped from output events.
func extractConstraints(content string, c *Context) {
	appendTagged(content, "constraint:", &c.Constraints)
}

func extractBlockers(content string, c *Context) {
	appendTagged(content, "blocked:", &c.DiscoveredBlockers)
	appendTagged(content, "blocker:", &c.DiscoveredBlockers)
}

func appendTagged(content, tag string, into *[]string) {
	idx := strings.Index(strings.ToLower(content), tag)
	if idx < 0 {
		return
	}
	value := strings.TrimSpace(content[idx+len(tag):])
	if value == "" {
		return
	}
	for _, existing := range *into {
		if existing == value {
			return
		}
	}
	*into = append(*into, value)
}
