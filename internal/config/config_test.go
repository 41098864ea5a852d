package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "support-flow-events", cfg.Kafka.Topic)
	require.Equal(t, DefaultBotSettings(), cfg.Bot)
	require.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadFileYAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9090"
gemini:
  model: gemini-test
kafka:
  brokers: [kafka-1:9092]
bot:
  slot_capacity: 2
  history_limit: 6
log_level: debug
`)
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("SLOT_CAPACITY", "4")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTPAddr)
	require.Equal(t, "gemini-test", cfg.Gemini.Model)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, 4, cfg.Bot.SlotCapacity)
	require.Equal(t, 6, cfg.Bot.HistoryLimit)
	require.Equal(t, DefaultApologyMessage, cfg.Bot.ApologyMessage)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.LogPretty)
}

func TestLoadFileRejectsBadValues(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "bot: [not, a, map]"))
	require.Error(t, err)

	t.Setenv("SLOT_CAPACITY", "many")
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "SLOT_CAPACITY")

	t.Setenv("SLOT_CAPACITY", "0")
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "slot_capacity")
}

func TestLoadFileAdmin(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	_, err := LoadFile(writeConfig(t, "admin: {username: root}"))
	require.ErrorContains(t, err, "admin username and password")

	path := writeConfig(t, `
admin:
  username: root
  password: from-yaml
`)
	t.Setenv("ADMIN_PASSWORD", "from-env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.True(t, cfg.Admin.Enabled())
	require.Equal(t, "root", cfg.Admin.Username)
	require.Equal(t, "from-env", cfg.Admin.Password)

	t.Setenv("ADMIN_PASSWORD", strings.Repeat("x", 73))
	_, err = LoadFile(path)
	require.ErrorContains(t, err, "at most 72 bytes")
}

type mapSource struct {
	name   string
	values map[string]string
	err    error
}

func (m *mapSource) Name() string { return m.name }

func (m *mapSource) Load(context.Context) (map[string]string, error) {
	return m.values, m.err
}

func TestSettingsReload(t *testing.T) {
	ctx := context.Background()
	ssm := &mapSource{name: "ssm", values: map[string]string{"slot_capacity": "2", "apology_message": "Disculpa"}}
	db := &mapSource{name: "db", values: map[string]string{"slot_capacity": "3"}}
	settings := NewSettings(DefaultBotSettings(), ssm, db)

	require.Equal(t, 1, settings.Current().SlotCapacity)

	current, err := settings.Reload(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, current.SlotCapacity)
	require.Equal(t, "Disculpa", current.ApologyMessage)
	require.Equal(t, current, settings.Current())

	// A failing source leaves the previous settings in place.
	db.err = errors.New("connection refused")
	kept, err := settings.Reload(ctx)
	require.ErrorContains(t, err, "db")
	require.Equal(t, 3, kept.SlotCapacity)

	db.err = nil
	db.values = map[string]string{"history_limit": "ten"}
	_, err = settings.Reload(ctx)
	require.ErrorContains(t, err, "history_limit")
	require.Equal(t, 3, settings.Current().SlotCapacity)

	// Removing the override falls back to the lower-precedence source.
	db.values = map[string]string{"unknown_key": "ignored"}
	current, err = settings.Reload(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, current.SlotCapacity)
}
