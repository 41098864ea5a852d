package repository

import (
	"context"

	"support_flow/internal/entities"

	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	err := r.db.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3) RETURNING id, is_active, created_at",
		user.Username, user.PasswordHash, user.Role).Scan(&user.ID, &user.IsActive, &user.CreatedAt)
	return mapError(err)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	var user entities.User
	err := r.db.QueryRow(ctx,
		"SELECT id, username, password_hash, role, is_active, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.IsActive, &user.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (r *UserRepository) List(ctx context.Context) ([]entities.User, error) {
	rows, err := r.db.Query(ctx, "SELECT id, username, role, is_active, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []entities.User{}
	for rows.Next() {
		var u entities.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
