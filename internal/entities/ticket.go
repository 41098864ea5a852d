package entities

import "time"

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketClosed     TicketStatus = "closed"
)

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
)

type Ticket struct {
	ID             int64          `json:"id"`
	TicketNumber   string         `json:"ticket_number"`
	CustomerID     int64          `json:"customer_id"`
	ConversationID *int64         `json:"conversation_id,omitempty"`
	IssueType      string         `json:"issue_type"`
	Description    string         `json:"description"`
	Status         TicketStatus   `json:"status"`
	Priority       TicketPriority `json:"priority"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
	Notes          []TicketNote   `json:"notes,omitempty"`
}

type TicketNote struct {
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticket_id"`
	UserID    *int      `json:"user_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
