package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository reports message traffic derived from the messages table.
type UsageRepository struct {
	db *pgxpool.Pool
}

type DailyUsage struct {
	Date             time.Time `json:"date"`
	MessagesSent     int       `json:"messages_sent"`
	MessagesReceived int       `json:"messages_received"`
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

// DailyVolume returns per-day outgoing and incoming counts since the given
// day, oldest first. Days without traffic are omitted.
func (r *UsageRepository) DailyVolume(ctx context.Context, since time.Time) ([]DailyUsage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT (timestamp AT TIME ZONE 'UTC')::date AS day,
			COUNT(*) FILTER (WHERE direction = 'outgoing'),
			COUNT(*) FILTER (WHERE direction = 'incoming')
		FROM messages
		WHERE timestamp >= $1
		GROUP BY day
		ORDER BY day ASC
	`, since)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	usage := []DailyUsage{}
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.MessagesSent, &u.MessagesReceived); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
