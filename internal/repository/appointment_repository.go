package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"support_flow/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AppointmentFilter struct {
	Status     entities.AppointmentStatus
	CustomerID int64
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type AppointmentRepository struct {
	db *pgxpool.Pool
}

func NewAppointmentRepository(db *pgxpool.Pool) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

const appointmentColumns = "id, customer_id, ticket_id, technician_name, date, slot, status, notes, created_at, updated_at"

func scanAppointment(row interface{ Scan(...any) error }) (*entities.Appointment, error) {
	var a entities.Appointment
	err := row.Scan(&a.ID, &a.CustomerID, &a.TicketID, &a.TechnicianName, &a.Date, &a.Slot, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

// lockSlot takes a transaction-scoped advisory lock on (date, slot) so that
// concurrent bookings for the same slot run one after another.
func lockSlot(ctx context.Context, tx pgx.Tx, date time.Time, slot entities.Slot) error {
	key := fmt.Sprintf("appointment:%s:%s", date.Format(entities.DateLayout), slot)
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key)
	return err
}

func countActive(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, date time.Time, slot entities.Slot, excludeID int64) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE date = $1 AND slot = $2 AND status <> 'cancelled' AND id <> $3
	`, date, string(slot), excludeID).Scan(&n)
	return n, err
}

// CountActive returns non-cancelled bookings for (date, slot), ignoring
// excludeID.
func (r *AppointmentRepository) CountActive(ctx context.Context, date time.Time, slot entities.Slot, excludeID int64) (int, error) {
	return countActive(ctx, r.db, date, slot, excludeID)
}

// Book inserts a when the slot holds fewer than capacity non-cancelled
// bookings. It reports false, with nothing written, when the slot is full.
func (r *AppointmentRepository) Book(ctx context.Context, a *entities.Appointment, capacity int) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if err := lockSlot(ctx, tx, a.Date, a.Slot); err != nil {
		return false, err
	}
	n, err := countActive(ctx, tx, a.Date, a.Slot, 0)
	if err != nil {
		return false, err
	}
	if n >= capacity {
		return false, nil
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (customer_id, ticket_id, technician_name, date, slot, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, a.CustomerID, a.TicketID, a.TechnicianName, a.Date, string(a.Slot), string(a.Status), a.Notes).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return false, mapError(err)
	}
	return true, tx.Commit(ctx)
}

// Update writes the date, slot, status, technician and notes of a in one
// transaction. With capacity > 0 the target slot is locked and checked like
// Book, not counting a itself; Update reports false, with nothing written,
// when that slot is full.
func (r *AppointmentRepository) Update(ctx context.Context, a *entities.Appointment, capacity int) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if capacity > 0 {
		if err := lockSlot(ctx, tx, a.Date, a.Slot); err != nil {
			return false, err
		}
		n, err := countActive(ctx, tx, a.Date, a.Slot, a.ID)
		if err != nil {
			return false, err
		}
		if n >= capacity {
			return false, nil
		}
	}

	err = tx.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2, slot = $3, status = $4, technician_name = $5, notes = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.Date, string(a.Slot), string(a.Status), a.TechnicianName, a.Notes).Scan(&a.UpdatedAt)
	if err != nil {
		return false, mapError(err)
	}
	return true, tx.Commit(ctx)
}

func (r *AppointmentRepository) SetStatus(ctx context.Context, id int64, status entities.AppointmentStatus) (*entities.Appointment, error) {
	return scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+appointmentColumns, id, string(status)))
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id int64) (*entities.Appointment, error) {
	return scanAppointment(r.db.QueryRow(ctx, "SELECT "+appointmentColumns+" FROM appointments WHERE id = $1", id))
}

func (r *AppointmentRepository) List(ctx context.Context, f AppointmentFilter) ([]entities.Appointment, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CustomerID != 0 {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.From != nil {
		add("date >= $%d", *f.From)
	}
	if f.To != nil {
		add("date <= $%d", *f.To)
	}

	query := "SELECT " + appointmentColumns + " FROM appointments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY date, slot, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appointments := []entities.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, *a)
	}
	return appointments, rows.Err()
}

// Occupancy counts non-cancelled bookings per date and slot in [from, to].
// Dates are keyed as YYYY-MM-DD.
func (r *AppointmentRepository) Occupancy(ctx context.Context, from, to time.Time) (map[string]map[entities.Slot]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT date, slot, COUNT(*) FROM appointments
		WHERE date BETWEEN $1 AND $2 AND status <> 'cancelled'
		GROUP BY date, slot
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	occupancy := make(map[string]map[entities.Slot]int)
	for rows.Next() {
		var date time.Time
		var slot string
		var n int
		if err := rows.Scan(&date, &slot, &n); err != nil {
			return nil, err
		}
		key := date.Format(entities.DateLayout)
		if occupancy[key] == nil {
			occupancy[key] = make(map[entities.Slot]int)
		}
		occupancy[key][entities.Slot(slot)] = n
	}
	return occupancy, rows.Err()
}

func (r *AppointmentRepository) CountUpcoming(ctx context.Context, from time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM appointments WHERE date >= $1 AND status = 'scheduled'", from).Scan(&n)
	return n, err
}
