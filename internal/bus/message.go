// Package bus provides the dual-write message bus: every message is written
// to the durable store first, and only then announced on the pub/sub
// transport. Consumers deduplicate by durable id because delivery is
// at-least-once.
package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/synod/synod/internal/org"
)

// Well-known channels.
const (
	// Broadcast reaches every role.
	Broadcast = "synod.broadcast"
	// Leadership reaches the senior-leadership subset.
	Leadership = "synod.leadership"
)

// ChannelForRole returns the per-role channel name.
func ChannelForRole(r org.Role) string {
	return fmt.Sprintf("synod.role.%s", r)
}

// Message priorities.
const (
	PriorityNormal = 0
	PriorityHigh   = 1
	PriorityUrgent = 2
)

// Metadata carries message delivery attributes.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Priority  int       `json:"priority"`
}

// Message is the wire shape exchanged between roles.
type Message struct {
	ID       string   `json:"id"`
	From     string   `json:"from"`
	To       string   `json:"to"` // channel name: role channel, broadcast, or leadership
	Type     string   `json:"type"`
	Subject  string   `json:"subject"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Message type constants.
const (
	TypeTask           = "task"
	TypeVoteRequest    = "vote_request"
	TypeVote           = "vote"
	TypeEscalation     = "escalation"
	TypeParticipation  = "participation_result"
	TypeDecisionResult = "decision_result"
)

// NewMessage builds a message with a collision-resistant id and a timestamp.
func NewMessage(from org.Role, to, msgType, subject, content string) *Message {
	return &Message{
		ID:      uuid.NewString(),
		From:    string(from),
		To:      to,
		Type:    msgType,
		Subject: subject,
		Content: content,
		Metadata: Metadata{
			Timestamp: time.Now().UTC(),
			Priority:  PriorityNormal,
		},
	}
}

// Notification is the transport payload. It carries the durable id assigned
// by the store so consumers can deduplicate and recover.
type Notification struct {
	DurableID int64   `json:"durable_id"`
	Channel   string  `json:"channel"`
	Message   Message `json:"message"`
}
