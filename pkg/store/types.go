package store

import "time"

// Ticket mirrors ent/schema/ticket.go.
type Ticket struct {
	ID               string
	Title            string
	Description      string
	Phase            string
	Status           string
	Priority         string
	ProjectID        *string
	OwningUserID     *string
	Context          map[string]interface{}
	ApprovalStatus   string
	ApprovalDeadline *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// Task mirrors ent/schema/task.go.
type Task struct {
	ID               string
	TicketID         string
	Phase            string
	TaskType         string
	Title            string
	Description      string
	Priority         string
	Status           string
	AssignedAgentID  *string
	SandboxID        *string
	Dependencies     TaskDependencies
	TimeoutSeconds   int
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ErrorMessage     *string
	Result           map[string]interface{}
	SynthesisContext map[string]interface{}
	TranscriptB64    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// TaskDependencies is the `{"depends_on": [task_id, ...]}` shape.
type TaskDependencies struct {
	DependsOn []string `json:"depends_on"`
}

// CommitLink mirrors ent/schema/commitlink.go: a VCS commit the push
// webhook matched to a ticket by scanning its message for a ticket
// token.
type CommitLink struct {
	ID        string
	TicketID  string
	SHA       string
	Branch    string
	Message   string
	Author    string
	Repo      string
	URL       string
	CreatedAt time.Time
}

// Agent mirrors ent/schema/agent.go.
type Agent struct {
	ID              string
	Name            string
	AgentType       string
	Phase           string
	Capabilities    []string
	Capacity        int
	Status          string
	Tags            []string
	Health          string
	LastHeartbeat   *time.Time
	CryptoPublicKey *string
	Metadata        map[string]interface{}
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CostRecord mirrors ent/schema/costrecord.go.
type CostRecord struct {
	ID                string
	TaskID            string
	AgentID           *string
	SandboxID         *string
	BillingAccountID  *string
	Provider          string
	Model             string
	SessionID         *string
	TurnIndex         *int
	PromptTokens      int
	CompletionTokens  int
	TotalTokens       int
	PromptCost        float64
	CompletionCost    float64
	TotalCost         float64
	RecordedAt        time.Time
}

// Budget mirrors ent/schema/budget.go.
type Budget struct {
	ID              string
	ScopeType       string
	ScopeID         *string
	LimitAmount     float64
	SpentAmount     float64
	RemainingAmount float64
	PeriodStart     time.Time
	PeriodEnd       *time.Time
	AlertThreshold  float64
	AlertTriggered  bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GuardianAnalysis mirrors ent/schema/guardiananalysis.go.
type GuardianAnalysis struct {
	ID                      string
	AgentID                 string
	TrajectoryAligned       bool
	AlignmentScore          float64
	NeedsSteering           bool
	SteeringType            *string
	SteeringRecommendation  *string
	TrajectorySummary       string
	CurrentFocus            string
	ConversationLength      int
	SessionDuration         string
	Degraded                bool
	CreatedAt               time.Time
}

// ConductorAnalysis mirrors ent/schema/conductoranalysis.go.
type ConductorAnalysis struct {
	ID              string
	CoherenceScore  float64
	SystemStatus    string
	AgentCount      int
	DuplicateCount  int
	Metrics         map[string]interface{}
	CreatedAt       time.Time
}

// DetectedDuplicate mirrors ent/schema/detectedduplicate.go.
type DetectedDuplicate struct {
	ID                  string
	ConductorAnalysisID string
	AgentAID            string
	AgentBID            string
	SimilarityScore     float64
	CreatedAt           time.Time
}

// SteeringIntervention mirrors ent/schema/steeringintervention.go.
type SteeringIntervention struct {
	ID                 string
	AgentID            string
	GuardianAnalysisID *string
	SteeringType       string
	Recommendation     string
	Applied            bool
	CreatedAt          time.Time
}

// GuardianAction mirrors ent/schema/guardianaction.go.
type GuardianAction struct {
	ID               string
	ActionType       string
	Authority        string
	InitiatedBy      string
	Reason           string
	Manual           bool
	Executed         bool
	Reverted         bool
	TargetEntityType *string
	TargetEntityID   *string
	Before           map[string]interface{}
	After            map[string]interface{}
	CreatedAt        time.Time
}

// ValidationReview mirrors ent/schema/validationreview.go.
type ValidationReview struct {
	ID              string
	TaskID          string
	IterationNumber int
	Passed          bool
	Feedback        string
	Evidence        map[string]interface{}
	Recommendations []string
	CreatedAt       time.Time
}

// SandboxEvent mirrors ent/schema/sandboxevent.go.
type SandboxEvent struct {
	ID        string
	SandboxID string
	TaskID    *string
	EventType string
	Payload   map[string]interface{}
	Sequence  int64
	CreatedAt time.Time
}

// AgentLog mirrors ent/schema/agentlog.go.
type AgentLog struct {
	ID        string
	AgentID   string
	Level     string
	Message   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// ReasoningEvent mirrors ent/schema/reasoningevent.go.
type ReasoningEvent struct {
	ID        string
	AgentID   string
	TaskID    *string
	EventType string
	Content   string
	Sequence  int64
	CreatedAt time.Time
}

// PreviewSession mirrors ent/schema/previewsession.go.
type PreviewSession struct {
	ID        string
	SandboxID string
	Port      int
	URL       string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AlertRule mirrors ent/schema/alertrule.go.
type AlertRule struct {
	ID        string
	Name      string
	Scope     string
	Condition string
	Threshold float64
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Alert mirrors ent/schema/alert.go.
type Alert struct {
	ID             string
	RuleID         string
	Status         string
	Message        string
	Context        map[string]interface{}
	AcknowledgedBy *string
	AcknowledgedAt *time.Time
	ResolvedBy     *string
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}

// Priority ranks used for get_next_task ordering:
// CRITICAL=4, HIGH=3, MEDIUM=2, LOW=1.
var PriorityRank = map[string]int{
	"CRITICAL": 4,
	"HIGH":     3,
	"MEDIUM":   2,
	"LOW":      1,
}
