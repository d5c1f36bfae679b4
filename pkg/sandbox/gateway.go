// Package sandbox defines the conductor's contract with the remote
// sandbox runtime (spec §4.7): spawning an agent workspace for a
// task, tearing it down, pulling its session transcript, minting a
// preview link, and pushing operator messages into it. The runtime
// itself is out of scope; this package is the client side of that
// contract plus the raw event-type vocabulary the sandbox reports
// progress with.
package sandbox

import "context"

// Raw sandbox-reported event types (spec §4.7). These are distinct
// from the internal events.Type* bus constants: they describe what
// happened *inside* a sandbox and are recorded verbatim as
// store.SandboxEvent rows before anything derives a bus event from
// them (e.g. the idle monitor's alive/work-event classification,
// pkg/trajectory's context extraction).
const (
	EventHeartbeat         = "agent.heartbeat"
	EventStarted           = "agent.started"
	EventThinking          = "agent.thinking"
	EventAssistantMessage  = "agent.assistant_message"
	EventToolUse           = "agent.tool_use"
	EventToolResult        = "agent.tool_result"
	EventFileEdited        = "agent.file_edited"
	EventToolCompleted     = "agent.tool_completed"
	EventSubagentCompleted = "agent.subagent_completed"
	EventSkillCompleted    = "agent.skill_completed"
	EventError             = "agent.error"
	EventCompleted         = "agent.completed"
)

// WorkEvents classifies which reported event types count as evidence
// of live work for the idle monitor's 3-minute idle threshold (spec
// §4.9); heartbeat alone keeps a sandbox in the alive set but does not
// reset the idle timer.
var WorkEvents = map[string]bool{
	EventAssistantMessage:  true,
	EventToolUse:           true,
	EventToolResult:        true,
	EventFileEdited:        true,
	EventToolCompleted:     true,
	EventSubagentCompleted: true,
	EventSkillCompleted:    true,
	EventCompleted:         true,
}

// SpawnRequest carries everything the gateway needs to provision a
// workspace for one claimed task.
type SpawnRequest struct {
	TaskID        string
	AgentID       string
	PhaseID       string
	AgentType     string
	ExtraEnv      map[string]string
	Runtime       string
	ExecutionMode string
}

// PreviewLink is returned by GetPreviewLink.
type PreviewLink struct {
	URL   string
	Token string
}

// CompletedPayload is the shape of the agent.completed event's
// payload, the only reported event with a fixed, consumed structure.
type CompletedPayload struct {
	SessionID     string
	Turns         int
	CostUSD       float64
	InputTokens   int
	OutputTokens  int
	TranscriptB64 string
}

// Gateway is the client-side contract consumed by the orchestrator
// and validator. The real implementation (HTTPGateway) talks to a
// remote runtime; FakeGateway stands in for tests.
type Gateway interface {
	SpawnForTask(ctx context.Context, req SpawnRequest) (sandboxID string, err error)
	TerminateSandbox(ctx context.Context, sandboxID string) error
	ExtractSessionTranscript(ctx context.Context, sandboxID string) (transcriptB64 string, ok bool, err error)
	GetPreviewLink(ctx context.Context, sandboxID string, port int) (*PreviewLink, error)
	SendMessage(ctx context.Context, sandboxID, content, messageType string) error
}
