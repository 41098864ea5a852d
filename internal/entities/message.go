package entities

import "time"

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is an immutable record of one inbound or outbound text.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	ExternalID     string    `json:"external_id"`
	Direction      Direction `json:"direction"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Intent         string    `json:"intent,omitempty"`
	Sentiment      string    `json:"sentiment,omitempty"`
	Entities       Entities  `json:"entities,omitempty"`
}

// InboundMessage is what a messaging channel hands to the conversation service.
type InboundMessage struct {
	ExternalID string
	From       string
	Content    string
	Platform   string // e.g., "whatsapp", "web", "telegram"
	Timestamp  time.Time
}

const (
	PlatformWhatsApp = "whatsapp"
	PlatformTelegram = "telegram"
	PlatformWeb      = "web"
)
