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
	t.Setenv(EnvPrefix+"CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":50051", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Simulation.TickInterval)
	assert.Equal(t, 1000, cfg.History.Snapshots)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":6000"
simulation:
  tickInterval: 2s
  seed: 99
history:
  snapshots: 50
analysis:
  window: 5m
`), 0o644))

	t.Setenv(EnvPrefix+"CONFIG", path)
	t.Setenv(EnvPrefix+"TICK_INTERVAL", "1s")
	t.Setenv(EnvPrefix+"LOG_FORMAT", "json")
	t.Setenv(EnvPrefix+"CACHE_ENABLED", "true")
	t.Setenv(EnvPrefix+"CACHE_ADDR", "localhost:6379")
	t.Setenv(EnvPrefix+"HISTORY_METRICS", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Server.Address)
	assert.Equal(t, time.Second, cfg.Simulation.TickInterval, "env beats file")
	assert.Equal(t, int64(99), cfg.Simulation.Seed)
	assert.Equal(t, 50, cfg.History.Snapshots)
	assert.Equal(t, 1000, cfg.History.Metrics, "unparseable override is ignored")
	assert.Equal(t, 5*time.Minute, cfg.Analysis.Window)
	assert.True(t, cfg.Logging.JSON)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [nope"), 0o644))
	_, err = Load(bad)
	require.Error(t, err)

	t.Setenv(EnvPrefix+"CONFIG", "")
	t.Setenv(EnvPrefix+"CACHE_ENABLED", "1")
	t.Setenv(EnvPrefix+"CACHE_ADDR", "")
	_, err = Load("")
	require.ErrorContains(t, err, "cache.addr")
}

func TestValidateTickInterval(t *testing.T) {
	cfg := Default()
	cfg.Simulation.TickInterval = 0
	require.Error(t, cfg.Validate())
}
