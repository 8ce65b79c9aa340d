package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
youtube:
  api_key: "key"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.YouTube.RateLimit)
	assert.Equal(t, 50, cfg.YouTube.Concurrency)
	assert.Equal(t, 100, cfg.YouTube.PageLimit)
	assert.Equal(t, 5, cfg.YouTube.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.YouTube.Retry.Delay)
	assert.Equal(t, 30, cfg.Telegram.RateLimit)
	assert.Equal(t, 3, cfg.Telegram.FloodAttempts)
	assert.Equal(t, time.Minute, cfg.Telegram.MaxFloodWait)
	assert.Equal(t, 10, cfg.Telegram.Image.ProbeAttempts)
	assert.Equal(t, 30*time.Second, cfg.Telegram.Image.ProbeDelay)
	assert.Equal(t, 3, cfg.Telegram.Image.UploadAttempts)
	assert.Equal(t, "*/5 * * * *", cfg.Poll.Schedule)
	assert.Equal(t, 50, cfg.Poll.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Poll.SyncLease)
	assert.Equal(t, 7*24*time.Hour, cfg.Poll.Lookback)
	assert.Equal(t, 30, cfg.Dispatch.BatchSize)
	assert.Equal(t, 10, cfg.Dispatch.MaxInFlight)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.RetryDelay)
	assert.Equal(t, 6*time.Hour, cfg.Dispatch.EscalatedDelay)
	assert.Equal(t, "@hourly", cfg.Cleanup.Schedule)
	assert.Equal(t, 10*time.Minute, cfg.Cleanup.Timeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.RabbitMQ.URL)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("NOTIFIER_BOT_TOKEN", "999:xyz")
	t.Setenv("NOTIFIER_YT_KEY", "yt-key")
	path := writeConfig(t, `
telegram:
  token: "${NOTIFIER_BOT_TOKEN}"
  rate_limit: 10
youtube:
  api_key: "$NOTIFIER_YT_KEY"
dispatch:
  retry_delay: 1m
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "999:xyz", cfg.Telegram.Token)
	assert.Equal(t, 10, cfg.Telegram.RateLimit)
	assert.Equal(t, "yt-key", cfg.YouTube.APIKey)
	assert.Equal(t, time.Minute, cfg.Dispatch.RetryDelay)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_RequiresCredentials(t *testing.T) {
	path := writeConfig(t, "youtube:\n  api_key: key\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "telegram.token")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDatabaseConfig_URL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "app", Password: "p@ss", DBName: "notifier", SSLMode: "disable"}

	assert.Equal(t, "postgres://app:p%40ss@db:5433/notifier?sslmode=disable", d.URL())
	assert.Equal(t, "host=db port=5433 user=app password=p@ss dbname=notifier sslmode=disable", d.DSN())
}
