package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type BotConfig struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigRepository stores bot settings overrides in the bot_config table.
type ConfigRepository struct {
	db *pgxpool.Pool
}

func NewConfigRepository(db *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// SetConfig upserts a config value
func (r *ConfigRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO bot_config (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
	`, key, value)
	return err
}

// GetAllConfigs returns all stored configs ordered by key
func (r *ConfigRepository) GetAllConfigs(ctx context.Context) ([]BotConfig, error) {
	rows, err := r.db.Query(ctx, "SELECT key, value, updated_at FROM bot_config ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := []BotConfig{}
	for rows.Next() {
		var c BotConfig
		if err := rows.Scan(&c.Key, &c.Value, &c.UpdatedAt); err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (r *ConfigRepository) Name() string {
	return "bot_config"
}

// Load returns the table as a settings overlay.
func (r *ConfigRepository) Load(ctx context.Context) (map[string]string, error) {
	configs, err := r.GetAllConfigs(ctx)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(configs))
	for _, c := range configs {
		values[c.Key] = c.Value
	}
	return values, nil
}
