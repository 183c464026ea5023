package world

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return utils.NewLoggerTo(&buf, "debug", false), &buf
}

func TestParseValidFixture(t *testing.T) {
	doc := []byte(`
applications:
  - name: checkout
    criticality: critical
    dependencies: [checkout-api, orders-db]
nodes:
  - id: api-1
    type: application
    services: [checkout-api]
    metrics: {cpu: 40, mem: 50, networkLatency: 20}
  - id: db-1
    type: database
    metrics: {cpu: 95, mem: 95}
discoveryRules:
  - service: orders-db
    matcher: {kind: node_type, values: [database]}
scenarios:
  - name: slow_burn
    resource: cpu
    phases:
      - {status: warning, duration: 45s, description: "creeping"}
`)
	logger, logs := captureLogger()
	w := Parse(doc, logger)

	require.Len(t, w.Applications, 1)
	assert.Equal(t, models.CriticalityCritical, w.Applications[0].Criticality)
	require.Len(t, w.Nodes, 2)
	assert.Equal(t, models.StatusOnline, w.Nodes[0].Status)
	assert.Equal(t, models.StatusCritical, w.Nodes[1].Status, "seed status derived from metrics")
	assert.Equal(t, w.Nodes[0].Metrics, w.Nodes[0].Baseline)
	assert.Equal(t, "db-1", w.Nodes[1].Name)
	assert.NotZero(t, w.Nodes[0].Personality.Volatility)
	require.Len(t, w.DiscoveryRules, 1)
	require.Len(t, w.Scenarios, 1)
	assert.Equal(t, 45*time.Second, w.Scenarios[0].Phases[0].Duration)
	assert.NotContains(t, logs.String(), "level=WARN")
}

func TestMalformedApplicationsFallBackToDefaults(t *testing.T) {
	doc := []byte(`
applications:
  - criticality: extreme
nodes:
  - id: n1
    type: web
`)
	logger, logs := captureLogger()
	w := Parse(doc, logger)

	assert.Equal(t, DefaultApplications(), w.Applications)
	require.Len(t, w.Nodes, 1)
	assert.Contains(t, logs.String(), "application config invalid")
}

func TestInvalidNodesAreSkipped(t *testing.T) {
	doc := []byte(`
applications:
  - name: app
    dependencies: [svc]
nodes:
  - id: ok
    type: web
  - type: missing-id
  - id: weird
    type: web
    status: exploding
  - id: ok
    type: web
`)
	logger, logs := captureLogger()
	w := Parse(doc, logger)
	require.Len(t, w.Nodes, 1)
	assert.Equal(t, "ok", w.Nodes[0].ID)
	assert.Contains(t, logs.String(), "skipping invalid node seed")
	assert.Contains(t, logs.String(), "skipping duplicate node seed")
}

func TestUnparseableDocumentUsesDefaultWorld(t *testing.T) {
	logger, logs := captureLogger()
	w := Parse([]byte("applications: [this is: not valid"), logger)
	assert.Len(t, w.Nodes, len(DefaultNodes()))
	assert.Len(t, w.Applications, len(DefaultApplications()))
	assert.Contains(t, logs.String(), "world config malformed")
}

func TestLoadReportsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte("applications: []\n"), 0o644))
	w, err := Load(path, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	assert.NotEmpty(t, w.Applications)
}

func TestDefaultWorldIsConsistent(t *testing.T) {
	w := Default()
	ids := make(map[string]struct{})
	for _, n := range w.Nodes {
		_, dup := ids[n.ID]
		assert.False(t, dup, n.ID)
		ids[n.ID] = struct{}{}
		assert.True(t, n.Status.Valid(), n.ID)
		assert.False(t, n.Virtual)
	}
	assert.GreaterOrEqual(t, len(w.Nodes), 10)
	assert.GreaterOrEqual(t, len(w.Applications), 5)
}
