package store

import "time"

// DecisionRecord is a persisted decision. Mode is fixed at creation and the
// participant set is derived once from the mode and role tables.
type DecisionRecord struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Initiator      string     `json:"initiator"`
	Mode           string     `json:"mode"`   // autonomous, collaborative, hierarchical, human
	Status         string     `json:"status"` // pending, approved, rejected, escalated
	Participants   string     `json:"participants"` // JSON array of roles
	ConsensusScore float64    `json:"consensus_score"`
	Context        string     `json:"context"` // JSON blob
	Outcome        string     `json:"outcome"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Decision status constants.
const (
	DecisionPending   = "pending"
	DecisionApproved  = "approved"
	DecisionRejected  = "rejected"
	DecisionEscalated = "escalated"
)

// VoteRecord is one role's vote on a decision. (decision_id, voter_role) is
// unique: a role votes exactly once.
type VoteRecord struct {
	DecisionID string    `json:"decision_id"`
	VoterRole  string    `json:"voter_role"`
	Choice     string    `json:"choice"` // approve, reject, abstain
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	CreatedAt  time.Time `json:"created_at"`
}

// Vote choice constants.
const (
	VoteApprove = "approve"
	VoteReject  = "reject"
	VoteAbstain = "abstain"
)

// MessageRecord is the durable form of a bus message. DurableID is assigned
// on persist; a message is observable on the transport only after this
// record exists.
type MessageRecord struct {
	DurableID int64     `json:"durable_id"`
	MessageID string    `json:"message_id"`
	FromRole  string    `json:"from_role"`
	ToChannel string    `json:"to_channel"`
	Type      string    `json:"type"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentStatusRecord is the last reported liveness of a role.
type AgentStatusRecord struct {
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// WorkflowExecutionRecord is a multi-step workflow run. Version is monotonic;
// every update must present the version it read.
type WorkflowExecutionRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"workflow_kind"`
	State     []byte    `json:"state"`
	Version   int64     `json:"version"`
	Status    string    `json:"status"` // running, completed, failed
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Workflow status constants.
const (
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	durable_id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT UNIQUE NOT NULL,
	from_role TEXT NOT NULL,
	to_channel TEXT NOT NULL,
	type TEXT NOT NULL,
	subject TEXT,
	content TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(to_channel);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	initiator TEXT NOT NULL,
	mode TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	participants TEXT NOT NULL DEFAULT '[]',
	consensus_score REAL NOT NULL DEFAULT 0,
	context TEXT,
	outcome TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);

CREATE TABLE IF NOT EXISTS votes (
	decision_id TEXT NOT NULL,
	voter_role TEXT NOT NULL,
	choice TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	rationale TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (decision_id, voter_role)
);

CREATE TABLE IF NOT EXISTS agent_status (
	role TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	last_heartbeat DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id TEXT PRIMARY KEY,
	workflow_kind TEXT NOT NULL,
	state BLOB,
	version INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'running',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_workflow_status ON workflow_executions(status);
`
