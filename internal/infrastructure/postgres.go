package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPostgresClient(ctx context.Context, connString string, log zerolog.Logger) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool, log: log}
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'agent',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	{"customers", `
		CREATE TABLE IF NOT EXISTS customers (
			id BIGSERIAL PRIMARY KEY,
			phone_number VARCHAR(32) UNIQUE NOT NULL,
			name VARCHAR(120) NOT NULL DEFAULT '',
			email VARCHAR(120) NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			service_plan VARCHAR(64) NOT NULL DEFAULT '',
			account_number VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_interaction TIMESTAMPTZ
		);`},
	{"conversations", `
		CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			session_id VARCHAR(64) UNIQUE NOT NULL,
			customer_id BIGINT NOT NULL REFERENCES customers(id),
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			flow_state VARCHAR(32) NOT NULL DEFAULT 'greeting',
			state_version BIGINT NOT NULL DEFAULT 0
		);`},
	{"conversations_one_active", `
		CREATE UNIQUE INDEX IF NOT EXISTS conversations_one_active
			ON conversations (customer_id) WHERE status = 'active';`},
	{"messages", `
		CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			external_id VARCHAR(128) NOT NULL DEFAULT '',
			direction VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			intent VARCHAR(64) NOT NULL DEFAULT '',
			sentiment VARCHAR(16) NOT NULL DEFAULT '',
			entities JSONB NOT NULL DEFAULT '{}'::jsonb
		);`},
	{"messages_conversation_ts", `
		CREATE INDEX IF NOT EXISTS messages_conversation_ts
			ON messages (conversation_id, timestamp);`},
	{"tickets", `
		CREATE TABLE IF NOT EXISTS tickets (
			id BIGSERIAL PRIMARY KEY,
			ticket_number VARCHAR(32) UNIQUE NOT NULL,
			customer_id BIGINT NOT NULL REFERENCES customers(id),
			conversation_id BIGINT REFERENCES conversations(id),
			issue_type VARCHAR(120) NOT NULL,
			description TEXT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'open',
			priority VARCHAR(16) NOT NULL DEFAULT 'medium',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ
		);`},
	{"ticket_notes", `
		CREATE TABLE IF NOT EXISTS ticket_notes (
			id BIGSERIAL PRIMARY KEY,
			ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			user_id INT REFERENCES users(id),
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	{"appointments", `
		CREATE TABLE IF NOT EXISTS appointments (
			id BIGSERIAL PRIMARY KEY,
			customer_id BIGINT NOT NULL REFERENCES customers(id),
			ticket_id BIGINT REFERENCES tickets(id),
			technician_name VARCHAR(120) NOT NULL DEFAULT '',
			date DATE NOT NULL,
			slot VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'scheduled',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	{"appointments_date_slot", `
		CREATE INDEX IF NOT EXISTS appointments_date_slot
			ON appointments (date, slot) WHERE status <> 'cancelled';`},
	{"bot_config", `
		CREATE TABLE IF NOT EXISTS bot_config (
			key VARCHAR(50) PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
}

// Migrate creates the schema if it does not exist yet.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := p.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", m.name, err)
		}
	}

	var users int
	if err := p.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&users); err != nil {
		return err
	}
	if users == 0 {
		p.log.Info().Msg("database initialized; users table empty, admin will be ensured on startup")
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
