package repository

import (
	"context"
	"time"

	"support_flow/internal/entities"

	"github.com/jackc/pgx/v5/pgxpool"
)

type CustomerRepository struct {
	db *pgxpool.Pool
}

func NewCustomerRepository(db *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{db: db}
}

const customerColumns = "id, phone_number, name, email, address, service_plan, account_number, created_at, last_interaction"

func scanCustomer(row interface{ Scan(...any) error }) (*entities.Customer, error) {
	var c entities.Customer
	err := row.Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.Email, &c.Address, &c.ServicePlan, &c.AccountNumber, &c.CreatedAt, &c.LastInteraction)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

// Create inserts a customer. A taken phone number returns ErrDuplicate.
func (r *CustomerRepository) Create(ctx context.Context, c *entities.Customer) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO customers (phone_number, name, email, address, service_plan, account_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, c.PhoneNumber, c.Name, c.Email, c.Address, c.ServicePlan, c.AccountNumber).Scan(&c.ID, &c.CreatedAt)
	return mapError(err)
}

func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*entities.Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = $1", id))
}

func (r *CustomerRepository) GetByPhone(ctx context.Context, phone string) (*entities.Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, "SELECT "+customerColumns+" FROM customers WHERE phone_number = $1", phone))
}

// Touch stamps last_interaction.
func (r *CustomerRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, "UPDATE customers SET last_interaction = $2 WHERE id = $1", id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CustomerRepository) List(ctx context.Context, limit, offset int) ([]entities.Customer, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+customerColumns+" FROM customers ORDER BY id DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := []entities.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}
