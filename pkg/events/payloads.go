package events

// TaskStatusChangedPayload accompanies TASK_STATUS_CHANGED and the
// more specific terminal events (TASK_COMPLETED, TASK_FAILED).
type TaskStatusChangedPayload struct {
	TaskID       string `json:"task_id"`
	TicketID     string `json:"ticket_id"`
	FromStatus   string `json:"from_status"`
	ToStatus     string `json:"to_status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// CostRecordedPayload accompanies cost.recorded.
type CostRecordedPayload struct {
	CostRecordID string  `json:"cost_record_id"`
	TaskID       string  `json:"task_id,omitempty"`
	AgentID      string  `json:"agent_id,omitempty"`
	TotalCost    float64 `json:"total_cost"`
	TotalTokens  int     `json:"total_tokens"`
}

// BudgetThresholdPayload accompanies cost.budget.warning and
// cost.budget.exceeded.
type BudgetThresholdPayload struct {
	BudgetID      string  `json:"budget_id"`
	ScopeType     string  `json:"scope_type"`
	ScopeID       string  `json:"scope_id,omitempty"`
	LimitAmount   float64 `json:"limit_amount"`
	SpentAmount   float64 `json:"spent_amount"`
	AlertThreshold float64 `json:"alert_threshold"`
}

// GuardianInterventionPayload accompanies the guardian.intervention.*
// and guardian.resource.reallocated events.
type GuardianInterventionPayload struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	Authority  string `json:"authority"`
	TargetType string `json:"target_entity_type,omitempty"`
	TargetID   string `json:"target_entity_id,omitempty"`
	Reason     string `json:"reason"`
}

// CoordinationPayload accompanies the coordination.* events.
type CoordinationPayload struct {
	PointID       string   `json:"point_id,omitempty"`
	JoinID        string   `json:"join_id,omitempty"`
	TaskIDs       []string `json:"task_ids,omitempty"`
	ContinuationID string  `json:"continuation_task_id,omitempty"`
	Strategy      string   `json:"strategy,omitempty"`
}

// SandboxLifecyclePayload accompanies SANDBOX_SPAWNED and
// SANDBOX_TERMINATED_IDLE.
type SandboxLifecyclePayload struct {
	SandboxID string `json:"sandbox_id"`
	TaskID    string `json:"task_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
