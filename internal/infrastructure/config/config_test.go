package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 10*time.Second, cfg.Store.WriteTimeout)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 720*time.Hour, cfg.Ledger.IdempotencyTTL)
	assert.True(t, cfg.Social.StatsRequireFollow)
	assert.Equal(t, "UTC", cfg.Schedule.Timezone)
	assert.Equal(t, time.UTC, cfg.Schedule.Location())
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 100, cfg.Security.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.Security.RateLimitWindow)
	assert.True(t, cfg.App.IsDevelopment())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("STATS_REQUIRE_FOLLOW", "false")
	t.Setenv("SCHEDULE_TIMEZONE", "Europe/Berlin")
	t.Setenv("LEDGER_IDEMPOTENCY_TTL", "48h")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, "host=db.internal port=6543 user=postgres password= dbname=sapling sslmode=disable", cfg.Database.GetDSN())
	assert.False(t, cfg.Social.StatsRequireFollow)
	assert.Equal(t, "Europe/Berlin", cfg.Schedule.Location().String())
	assert.Equal(t, 48*time.Hour, cfg.Ledger.IdempotencyTTL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.GetAddr())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sapling.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
catalog:
  path: /etc/sapling/catalog.yaml
  watch: true
social:
  stats_require_follow: false
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/etc/sapling/catalog.yaml", cfg.Catalog.Path)
	assert.True(t, cfg.Catalog.Watch)
	assert.False(t, cfg.Social.StatsRequireFollow)

	t.Setenv("SERVER_PORT", "7070")
	cfg, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port, "environment overrides the file")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "firestore"}},
		{"default secret in production", map[string]string{"APP_ENVIRONMENT": "production"}},
		{"bad port", map[string]string{"SERVER_PORT": "70000"}},
		{"zero write timeout", map[string]string{"STORE_WRITE_TIMEOUT": "0s"}},
		{"unknown timezone", map[string]string{"SCHEDULE_TIMEZONE": "Mars/Olympus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestProductionWithSecret(t *testing.T) {
	t.Setenv("APP_ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "a-real-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.App.IsProduction())
}
