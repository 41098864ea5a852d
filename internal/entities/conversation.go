package entities

import "time"

type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// StaleAfter is the inactivity window after which an active conversation
// is closed and a new one is started for the next message.
const StaleAfter = 24 * time.Hour

// Conversation is an ongoing exchange with one customer. FlowState and
// StateVersion are the conversation-level control state; StateVersion
// increments on every committed state write.
type Conversation struct {
	ID           int64              `json:"id"`
	SessionID    string             `json:"session_id"`
	CustomerID   int64              `json:"customer_id"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
	LastActivity time.Time          `json:"last_activity"`
	Status       ConversationStatus `json:"status"`
	FlowState    FlowState          `json:"flow_state"`
	StateVersion int64              `json:"state_version"`
}

// IsStale reports whether the conversation has been idle past StaleAfter.
func (c *Conversation) IsStale(now time.Time) bool {
	return now.Sub(c.LastActivity) > StaleAfter
}
