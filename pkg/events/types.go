// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-replica distribution.
//
// Every event in the system — task lifecycle, cost recording, budget
// thresholds, guardian interventions, coordination milestones — is
// persisted to the events table and broadcast on pg_notify in the
// same transaction (pg_notify is transactional: the NOTIFY is held
// until COMMIT, so a subscriber never observes a notification for a
// row it cannot yet read). WebSocket clients subscribe to either the
// GlobalChannel or a scoped TicketChannel/SandboxChannel and receive a
// catch-up burst of any events they missed while disconnected.
package events

// Event type tags. These are the exact event_type strings referenced
// throughout the task queue, cost engine, monitoring loop, and
// coordination layer.
const (
	TypeTaskAssigned            = "TASK_ASSIGNED"
	TypeTaskCompleted           = "TASK_COMPLETED"
	TypeTaskFailed              = "TASK_FAILED"
	TypeTaskValidationRequested = "TASK_VALIDATION_REQUESTED"
	TypeTaskValidationPassed    = "TASK_VALIDATION_PASSED"
	TypeTaskValidationFailed    = "TASK_VALIDATION_FAILED"
	TypeTaskStatusChanged       = "TASK_STATUS_CHANGED"
	TypeTaskTimedOut            = "TASK_TIMED_OUT"

	TypeTicketCreated         = "TICKET_CREATED"
	TypeTicketApprovalPending = "TICKET_APPROVAL_PENDING"
	TypeTicketApproved        = "TICKET_APPROVED"
	TypeTicketRejected        = "TICKET_REJECTED"
	TypeTicketStatusChanged   = "TICKET_STATUS_CHANGED"

	TypeAgentRegistered        = "AGENT_REGISTERED"
	TypeAgentRestarted         = "AGENT_RESTARTED"
	TypeAgentCapabilityUpdated = "agent.capability.updated"
	TypeAgentEvent             = "agent.event"

	TypeSandboxSpawned       = "SANDBOX_SPAWNED"
	TypeSandboxTerminatedIdle = "SANDBOX_TERMINATED_IDLE"

	TypeCoordinationSyncCreated      = "coordination.sync.created"
	TypeCoordinationSyncReady        = "coordination.sync.ready"
	TypeCoordinationSplitCreated     = "coordination.split.created"
	TypeCoordinationJoinCreated      = "coordination.join.created"
	TypeCoordinationSynthesisDone    = "coordination.synthesis.completed"
	TypeCoordinationSynthesisFailed  = "coordination.synthesis.failed"
	TypeCoordinationMergeCompleted   = "coordination.merge.completed"

	TypeCostRecorded      = "cost.recorded"
	TypeCostBudgetWarning = "cost.budget.warning"
	TypeCostBudgetExceeded = "cost.budget.exceeded"
	TypeBudgetCreated     = "budget.created"

	TypeAlertTriggered    = "alert.triggered"
	TypeAlertAcknowledged = "alert.acknowledged"
	TypeAlertResolved     = "alert.resolved"

	TypeGuardianInterventionStarted   = "guardian.intervention.started"
	TypeGuardianInterventionCompleted = "guardian.intervention.completed"
	TypeGuardianInterventionReverted  = "guardian.intervention.reverted"
	TypeGuardianResourceReallocated   = "guardian.resource.reallocated"

	TypePreviewReady        = "PREVIEW_READY"
	TypePROpened            = "PR_OPENED"
	TypePRMerged            = "PR_MERGED"
	TypePRClosed            = "PR_CLOSED"
	TypeCommitLinked        = "COMMIT_LINKED"
	TypeSpecExecutionStarted = "SPEC_EXECUTION_STARTED"

	TypeMonitoringGuardian      = "monitoring.guardian"
	TypeMonitoringConductor     = "monitoring.conductor"
	TypeMonitoringSystemUpdated = "monitoring.system.updated"
	TypeMonitoringStarted       = "monitoring.started"
	TypeMonitoringStopped       = "monitoring.stopped"
)

// GlobalChannel is the channel every dashboard-wide subscriber
// listens on: ticket/task/agent lifecycle, budgets, alerts, and
// monitoring analyses all fan out here.
const GlobalChannel = "conductor:global"

// TicketChannel returns the scoped channel for events belonging to a
// single ticket (its tasks, its budget) so a ticket detail view is
// not flooded by unrelated traffic.
func TicketChannel(ticketID string) string {
	return "conductor:ticket:" + ticketID
}

// SandboxChannel returns the scoped channel for raw sandbox telemetry
// (log lines, tool calls, reasoning events) consumed by the live
// agent-activity panel.
func SandboxChannel(sandboxID string) string {
	return "conductor:sandbox:" + sandboxID
}

// ClientMessage is the JSON structure for client-to-server WebSocket
// messages.
type ClientMessage struct {
	Action      string `json:"action"`
	Channel     string `json:"channel,omitempty"`
	LastEventID *int64 `json:"last_event_id,omitempty"`
}
