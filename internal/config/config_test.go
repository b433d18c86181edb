package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "HTTP_RETRIES", "TIMEZONE", "LEADER_TIMEOUT", "LOG_LEVEL", "INSTANCE_ID"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 2, cfg.HTTPRetries)
	assert.Equal(t, 10*time.Second, cfg.LeaderTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.NotEmpty(t, cfg.InstanceID)
	assert.Equal(t, "Europe/Kyiv", cfg.Location().String())
	assert.False(t, cfg.TrelloConfigured())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT_SECONDS", "3")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("TRELLO_CONCURRENCY", "nope")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	cfg := FromEnv()
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 0, cfg.TrelloConcurrency)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9090\"\npoll_interval: 2s\ntrello_board_id: board1\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "board1", cfg.TrelloBoardID)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL, "fields absent from the file keep env values")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
