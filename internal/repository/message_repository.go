package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"support_flow/internal/entities"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, m *entities.Message) error {
	ents := m.Entities
	if ents == nil {
		ents = entities.Entities{}
	}
	raw, err := json.Marshal(ents)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, external_id, direction, content, timestamp, intent, sentiment, entities)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, m.ConversationID, m.ExternalID, string(m.Direction), m.Content, m.Timestamp, m.Intent, m.Sentiment, raw).Scan(&m.ID)
	return mapError(err)
}

// Recent returns up to limit of the newest messages in chronological order.
func (r *MessageRepository) Recent(ctx context.Context, conversationID int64, limit int) ([]entities.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, conversation_id, external_id, direction, content, timestamp, intent, sentiment, entities
		FROM (
			SELECT * FROM messages WHERE conversation_id = $1
			ORDER BY timestamp DESC, id DESC LIMIT $2
		) recent
		ORDER BY timestamp ASC, id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []entities.Message{}
	for rows.Next() {
		var m entities.Message
		var direction string
		var raw []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ExternalID, &direction, &m.Content, &m.Timestamp, &m.Intent, &m.Sentiment, &raw); err != nil {
			return nil, err
		}
		m.Direction = entities.Direction(direction)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &m.Entities); err != nil {
				return nil, fmt.Errorf("decode entities for message %d: %w", m.ID, err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
