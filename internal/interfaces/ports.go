package interfaces

import (
	"context"

	"support_flow/internal/entities"
)

// Classifier derives intent, sentiment, entities and urgency from a message,
// and drafts the reply text.
type Classifier interface {
	Analyze(ctx context.Context, text string, history []entities.Message, customer *entities.Customer) (entities.Analysis, error)
}

// Messenger delivers text to a customer on one platform.
type Messenger interface {
	SendMessage(ctx context.Context, to, content string) error
}

// EventPublisher emits domain events (flow transitions, tickets, appointments).
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}
