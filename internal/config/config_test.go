package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Remote.URL)
	assert.Equal(t, "tillsync.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Sync.Interval))
	assert.Equal(t, 500, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.True(t, cfg.Sync.AutoClear)
	assert.Len(t, cfg.Sync.Tables, 3)
	assert.True(t, cfg.Feed.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	content := `
remote:
  url: https://store.example.com
sync:
  interval: 2m
  batch_size: 50
  tables:
    - name: products
      mode: entities
    - name: stock_movements
      mode: events
feed:
  enabled: false
log:
  level: debug
  format: json
`
	path := filepath.Join(t.TempDir(), "tillsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://store.example.com", cfg.Remote.URL)
	assert.Equal(t, 2*time.Minute, time.Duration(cfg.Sync.Interval))
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Len(t, cfg.Sync.Tables, 2)
	assert.False(t, cfg.Feed.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TILLSYNC_REMOTE_URL", "https://env.example.com")
	t.Setenv("TILLSYNC_TOKEN", "env-token")
	t.Setenv("TILLSYNC_SYNC_INTERVAL", "45s")
	t.Setenv("TILLSYNC_MAX_RETRIES", "2")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Remote.URL)
	assert.Equal(t, "env-token", cfg.Remote.Token)
	assert.Equal(t, 45*time.Second, time.Duration(cfg.Sync.Interval))
	assert.Equal(t, 2, cfg.Sync.MaxRetries)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero batch size", "sync:\n  batch_size: -1\n"},
		{"no tables", "sync:\n  tables: []\n"},
		{"unnamed table", "sync:\n  tables:\n    - mode: entities\n"},
		{"unknown mode", "sync:\n  tables:\n    - name: products\n      mode: snapshots\n"},
		{"bad duration", "sync:\n  interval: eventually\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tillsync.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestTableMode(t *testing.T) {
	assert.Equal(t, models.ModeEvents, TableConfig{Name: "x", Mode: "events"}.TableMode())
	assert.Equal(t, models.ModeEntities, TableConfig{Name: "x", Mode: "entities"}.TableMode())
	assert.Equal(t, models.ModeEntities, TableConfig{Name: "x"}.TableMode())
}
