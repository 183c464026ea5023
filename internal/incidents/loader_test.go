package incidents

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

func TestLoadScenarios(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scenarios:
  - name: cert_expiry
    description: TLS certificate expired on the edge
    resource: network
    phases:
      - status: warning
        duration: 30s
        description: handshake failures climbing
        effects:
          networkLatency: 400
      - status: offline
        duration: 2m
        description: all handshakes failing
`), 0o644))

	scenarios, err := LoadScenarios(path)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, 2*time.Minute+30*time.Second, scenarios[0].TotalDuration())
	assert.Equal(t, models.StatusOffline, scenarios[0].Phases[1].Status)

	catalog, err := NewCatalog(scenarios...)
	require.NoError(t, err)
	_, ok := catalog.Get("cert_expiry")
	assert.True(t, ok)
}

func TestLoadScenariosErrors(t *testing.T) {
	_, err := LoadScenarios(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("scenarios: []\n"), 0o644))
	_, err = LoadScenarios(empty)
	require.Error(t, err)
}
