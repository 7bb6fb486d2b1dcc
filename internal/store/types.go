package store

import "time"

const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionBlocked   = "blocked"
)

// Session is one agent invocation from creation to terminal status.
type Session struct {
	ID           string     `json:"id"`
	Project      string     `json:"project"`
	Role         string     `json:"role"`
	Intent       string     `json:"intent"`
	Requester    string     `json:"requester"`
	Trust        string     `json:"trust"`
	Channel      string     `json:"channel"`
	Status       string     `json:"status"`
	Depth        int        `json:"depth"`
	ParentID     string     `json:"parent_id,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Error        string     `json:"error,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// ToolUse is one tool invocation recorded against a session.
type ToolUse struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Tool        string    `json:"tool"`
	Input       string    `json:"input,omitempty"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	Significant bool      `json:"significant"`
	CreatedAt   time.Time `json:"created_at"`
}

// Decision is a numbered governance record. Numbers are sequential per
// project and never reused.
type Decision struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Reasoning string    `json:"reasoning,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	ThreadActive   = "active"
	ThreadResolved = "resolved"
	ThreadStale    = "stale"
)

// Thread is a conversation between a fixed set of participants. At most
// one active thread exists per project and participant set; the partial
// unique index on (project, participant_key) enforces it.
type Thread struct {
	ID             string    `json:"id"`
	Project        string    `json:"project"`
	ParticipantKey string    `json:"participant_key"`
	Participants   []string  `json:"participants"`
	Status         string    `json:"status"`
	Topic          string    `json:"topic,omitempty"`
	Resolution     string    `json:"resolution,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ThreadMessage struct {
	ID        int64     `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	ChallengeOpen       = "open"
	ChallengeUpheld     = "upheld"
	ChallengeOverturned = "overturned"
)

// Challenge is an appeal against a recorded decision. Resolution either
// upholds the decision or overturns it.
type Challenge struct {
	ID             string     `json:"id"`
	Project        string     `json:"project"`
	DecisionNumber int        `json:"decision_number"`
	Grounds        string     `json:"grounds"`
	RaisedBy       string     `json:"raised_by"`
	Status         string     `json:"status"`
	Resolution     string     `json:"resolution,omitempty"`
	OpenedAt       time.Time  `json:"opened_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

const (
	WikiDraftStatus     = "draft"
	WikiPublishedStatus = "published"
)

// WikiDraft is an agent-authored knowledge page. Drafts are also
// exported to disk so humans can review them before publication.
type WikiDraft struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	Author      string     `json:"author,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

const (
	DevSessionOpen      = "open"
	DevSessionCompleted = "completed"
	DevSessionAbandoned = "abandoned"
)

// DevSession tracks a unit of development work from kickoff to outcome.
type DevSession struct {
	ID       string     `json:"id"`
	Project  string     `json:"project"`
	Title    string     `json:"title"`
	Goal     string     `json:"goal,omitempty"`
	Status   string     `json:"status"`
	Assignee string     `json:"assignee,omitempty"`
	OpenedBy string     `json:"opened_by"`
	Outcome  string     `json:"outcome,omitempty"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

const (
	ApprovalPending = "pending"
	ApprovalGranted = "granted"
	ApprovalDenied  = "denied"
	ApprovalExpired = "expired"
)

// Approval is a grant for one constrained tool, scoped to a project and
// requester, valid until it expires or is consumed.
type Approval struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Tool        string     `json:"tool"`
	Approver    string     `json:"approver"`
	RequestedBy string     `json:"requested_by"`
	SessionID   string     `json:"session_id,omitempty"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}
