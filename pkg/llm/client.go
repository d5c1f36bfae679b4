// Package llm provides the conductor's connection to a large language
// model, used by the Guardian and Conductor analyzers (spec §4.11,
// §4.12) to judge trajectory alignment, system coherence, and
// duplicate work.
package llm

import "context"

// Role identifies the speaker of one message in a prompt.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a prompt sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request describes one non-streaming generation call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

// Response is the model's reply plus token accounting, fed straight
// into pkg/cost.Engine.RecordTurn by callers that want cost tracking.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Client generates one response for a prompt. Implementations:
// HTTPClient (the real provider-backed client) and FakeClient (for
// tests and for a Guardian/Conductor analysis pass that must still
// produce a degraded-but-valid result when no provider is configured).
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
