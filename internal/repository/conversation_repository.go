package repository

import (
	"context"
	"time"

	"support_flow/internal/entities"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationRepository persists conversations and their flow state.
type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = "id, session_id, customer_id, started_at, ended_at, last_activity, status, flow_state, state_version"

func scanConversation(row interface{ Scan(...any) error }) (*entities.Conversation, error) {
	var c entities.Conversation
	var state string
	err := row.Scan(&c.ID, &c.SessionID, &c.CustomerID, &c.StartedAt, &c.EndedAt, &c.LastActivity, &c.Status, &state, &c.StateVersion)
	if err != nil {
		return nil, mapError(err)
	}
	c.FlowState = entities.ParseFlowState(state)
	return &c, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*entities.Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id))
}

// GetActiveByCustomer returns the customer's open conversation.
func (r *ConversationRepository) GetActiveByCustomer(ctx context.Context, customerID int64) (*entities.Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE customer_id = $1 AND status = 'active'", customerID))
}

// Create opens a conversation. A second active conversation for the same
// customer returns ErrDuplicate.
func (r *ConversationRepository) Create(ctx context.Context, c *entities.Conversation) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO conversations (session_id, customer_id, started_at, last_activity, status, flow_state, state_version)
		VALUES ($1, $2, $3, $3, 'active', $4, 0)
		RETURNING id, state_version
	`, c.SessionID, c.CustomerID, c.StartedAt, string(c.FlowState)).Scan(&c.ID, &c.StateVersion)
	if err != nil {
		return mapError(err)
	}
	c.LastActivity = c.StartedAt
	c.Status = entities.ConversationActive
	return nil
}

// CompareAndSetState writes next only if the stored version still equals
// expectedVersion. It reports whether the write happened.
func (r *ConversationRepository) CompareAndSetState(ctx context.Context, id, expectedVersion int64, next entities.FlowState) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET flow_state = $3, state_version = state_version + 1
		WHERE id = $1 AND state_version = $2
	`, id, expectedVersion, string(next))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, "UPDATE conversations SET last_activity = GREATEST(last_activity, $2) WHERE id = $1", id, at)
	return err
}

// Close marks the conversation closed. Closing twice is a no-op.
func (r *ConversationRepository) Close(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations SET status = 'closed', ended_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, at)
	return err
}

func (r *ConversationRepository) CountByStatus(ctx context.Context) (map[entities.ConversationStatus]int, error) {
	rows, err := r.db.Query(ctx, "SELECT status, COUNT(*) FROM conversations GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[entities.ConversationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[entities.ConversationStatus(status)] = n
	}
	return counts, rows.Err()
}
