package api

// CreateTicketRequest is the HTTP request body for POST /api/v1/tickets.
type CreateTicketRequest struct {
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Phase            string                 `json:"phase"`
	Priority         string                 `json:"priority,omitempty"`
	ProjectID        *string                `json:"project_id,omitempty"`
	OwningUserID     *string                `json:"owning_user_id,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty"`
	RequiresApproval bool                   `json:"requires_approval,omitempty"`
}

// CreateTaskRequest is the HTTP request body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	TicketID       string   `json:"ticket_id"`
	Phase          string   `json:"phase"`
	TaskType       string   `json:"task_type"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

// PatchTaskRequest is the HTTP request body for PATCH /api/v1/tasks/{id}.
// Only the fields a caller supplies are applied. Cancel is the only
// status transition this adapter exposes directly; other transitions
// are internal to the orchestrator/validator.
type PatchTaskRequest struct {
	Cancel bool   `json:"cancel,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SpawnSandboxRequest is the HTTP request body for POST /api/v1/sandboxes/spawn.
type SpawnSandboxRequest struct {
	TaskID   string            `json:"task_id"`
	Runtime  string            `json:"runtime,omitempty"`
	ExtraEnv map[string]string `json:"extra_env,omitempty"`
}

// SendSandboxMessageRequest is the HTTP request body for
// POST /api/v1/sandboxes/{sandbox_id}/messages.
type SendSandboxMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// ReportSandboxEventRequest is the HTTP request body for
// POST /api/v1/sandboxes/{sandbox_id}/events: the runtime's side of
// the same path listSandboxEventsHandler reads back from.
type ReportSandboxEventRequest struct {
	TaskID    string                 `json:"task_id,omitempty"`
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// LinkCommitRequest is the HTTP request body for
// POST /api/v1/commits/ticket/{id}/link.
type LinkCommitRequest struct {
	SHA     string `json:"sha"`
	Branch  string `json:"branch,omitempty"`
	Message string `json:"message,omitempty"`
	Author  string `json:"author,omitempty"`
	Repo    string `json:"repo,omitempty"`
	URL     string `json:"url,omitempty"`
}
