package repository

import (
	"context"
	"fmt"
	"strings"

	"support_flow/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TicketFilter struct {
	Status     entities.TicketStatus
	CustomerID int64
	Limit      int
	Offset     int
}

type TicketRepository struct {
	db *pgxpool.Pool
}

func NewTicketRepository(db *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{db: db}
}

const ticketColumns = "id, ticket_number, customer_id, conversation_id, issue_type, description, status, priority, created_at, updated_at, closed_at"

func scanTicket(row interface{ Scan(...any) error }) (*entities.Ticket, error) {
	var t entities.Ticket
	err := row.Scan(&t.ID, &t.TicketNumber, &t.CustomerID, &t.ConversationID, &t.IssueType, &t.Description,
		&t.Status, &t.Priority, &t.CreatedAt, &t.UpdatedAt, &t.ClosedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (r *TicketRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_number = $1)", number).Scan(&exists)
	return exists, err
}

// Create inserts a ticket. A taken ticket number returns ErrDuplicate.
func (r *TicketRepository) Create(ctx context.Context, t *entities.Ticket) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO tickets (ticket_number, customer_id, conversation_id, issue_type, description, status, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, t.TicketNumber, t.CustomerID, t.ConversationID, t.IssueType, t.Description, string(t.Status), string(t.Priority)).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return mapError(err)
}

// GetByID returns the ticket with its notes.
func (r *TicketRepository) GetByID(ctx context.Context, id int64) (*entities.Ticket, error) {
	t, err := scanTicket(r.db.QueryRow(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = $1", id))
	if err != nil {
		return nil, err
	}
	if t.Notes, err = r.notes(ctx, r.db, id); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TicketRepository) GetByNumber(ctx context.Context, number string) (*entities.Ticket, error) {
	return scanTicket(r.db.QueryRow(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE ticket_number = $1", number))
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *TicketRepository) notes(ctx context.Context, q querier, ticketID int64) ([]entities.TicketNote, error) {
	rows, err := q.Query(ctx,
		"SELECT id, ticket_id, user_id, content, created_at FROM ticket_notes WHERE ticket_id = $1 ORDER BY created_at, id", ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []entities.TicketNote{}
	for rows.Next() {
		var n entities.TicketNote
		if err := rows.Scan(&n.ID, &n.TicketID, &n.UserID, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (r *TicketRepository) List(ctx context.Context, f TicketFilter) ([]entities.Ticket, error) {
	var where []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CustomerID != 0 {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	query := "SELECT " + ticketColumns + " FROM tickets"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []entities.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// Update writes the mutable ticket fields and, when note is non-nil, appends
// it in the same transaction.
func (r *TicketRepository) Update(ctx context.Context, t *entities.Ticket, note *entities.TicketNote) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $2, priority = $3, description = $4, closed_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, t.ID, string(t.Status), string(t.Priority), t.Description, t.ClosedAt).Scan(&t.UpdatedAt)
	if err != nil {
		return mapError(err)
	}

	if note != nil {
		note.TicketID = t.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO ticket_notes (ticket_id, user_id, content) VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, note.TicketID, note.UserID, note.Content).Scan(&note.ID, &note.CreatedAt)
		if err != nil {
			return mapError(err)
		}
	}

	if t.Notes, err = r.notes(ctx, tx, t.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *TicketRepository) CountByStatus(ctx context.Context) (map[entities.TicketStatus]int, error) {
	rows, err := r.db.Query(ctx, "SELECT status, COUNT(*) FROM tickets GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[entities.TicketStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[entities.TicketStatus(status)] = n
	}
	return counts, rows.Err()
}
