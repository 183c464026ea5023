package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

func fleet() []*models.Node {
	return []*models.Node{
		{ID: "pg-1", Name: "postgres-primary", Type: "database", Datacenter: "us-east", Status: models.StatusOnline, Services: []string{"orders-db"}},
		{ID: "pg-2", Name: "postgres-replica", Type: "database", Datacenter: "us-west", Status: models.StatusWarning},
		{ID: "web-1", Name: "web-frontend-1", Type: "web", Datacenter: "us-east", Status: models.StatusOnline, Metrics: models.NodeMetrics{CPU: 70, Memory: 60}},
		{ID: "web-2", Name: "web-frontend-2", Type: "web", Datacenter: "us-west", Status: models.StatusOnline, Metrics: models.NodeMetrics{CPU: 20, Memory: 30}},
		{ID: "redis-1", Name: "redis-cache", Type: "cache", Datacenter: "us-east", Status: models.StatusOnline, Tags: map[string]string{"role": "session"}},
	}
}

func TestResolveExactRuleCaseInsensitive(t *testing.T) {
	reg := NewRegistry(nil, models.DiscoveryRule{
		Service: "Frontend",
		Matcher: models.Matcher{Kind: models.MatchNamePrefix, Values: []string{"web-frontend"}},
	})

	nodes := reg.Resolve("frontend", fleet())
	require.Len(t, nodes, 2)
	assert.Equal(t, "web-1", nodes[0].ID)
	assert.Equal(t, "web-2", nodes[1].ID)
}

func TestResolveCategoryHeuristic(t *testing.T) {
	reg := NewRegistry(nil)

	nodes := reg.Resolve("billing-db", fleet())
	require.Len(t, nodes, 2, "db heuristic falls back to every database node")
	for _, n := range nodes {
		assert.Equal(t, "database", n.Type)
	}

	nodes = reg.Resolve("orders-db", fleet())
	require.Len(t, nodes, 1, "service matcher wins over fallback")
	assert.Equal(t, "pg-1", nodes[0].ID)
	assert.Equal(t, "db", reg.Category("orders_db"))
}

func TestResolveSynthesizesSingleVirtualNode(t *testing.T) {
	reg := NewRegistry(nil)

	nodes := reg.Resolve("search-cluster", fleet())
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Virtual)
	assert.Equal(t, models.StatusUnknown, nodes[0].Status)
	assert.Equal(t, models.NodeMetrics{}, nodes[0].Metrics)

	again := reg.Resolve("Search-Cluster", fleet())
	require.Len(t, again, 1)
	assert.Equal(t, nodes[0].ID, again[0].ID, "virtual node identity is stable")
}

func TestResolveUnknownNameUsesGenericDefault(t *testing.T) {
	reg := NewRegistry(nil)

	nodes := reg.Resolve("ledger", nil)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Virtual)
	assert.Equal(t, "service", nodes[0].Type)
}

func TestResolveFallbackStrategies(t *testing.T) {
	reg := NewRegistry(nil,
		models.DiscoveryRule{
			Service:  "session-store",
			Matcher:  models.Matcher{Kind: models.MatchTag, Key: "role", Values: []string{"sessions"}},
			Fallback: models.Fallback{Strategy: models.FallbackAnyOnline, Limit: 2},
			Metadata: models.ServiceMetadata{Kind: "cache", Category: "cache"},
		},
		models.DiscoveryRule{
			Service:  "batch",
			Matcher:  models.Matcher{Kind: models.MatchNodeType, Values: []string{"worker"}},
			Fallback: models.Fallback{Strategy: models.FallbackLeastLoaded},
		},
		models.DiscoveryRule{
			Service: "nowhere",
			Matcher: models.Matcher{Kind: models.MatchDatacenter, Values: []string{"eu-north"}},
		},
	)

	online := reg.Resolve("session-store", fleet())
	require.Len(t, online, 2)
	for _, n := range online {
		assert.Equal(t, models.StatusOnline, n.Status)
	}

	least := reg.Resolve("batch", fleet())
	require.Len(t, least, 1)
	assert.Equal(t, "pg-1", least[0].ID, "zero-load node wins")

	assert.Empty(t, reg.Resolve("nowhere", fleet()), "no metadata means no virtual node")
}

func TestRegisterReplacesVirtualPlaceholder(t *testing.T) {
	reg := NewRegistry(nil)
	require.True(t, reg.Resolve("frontend", fleet())[0].Virtual)

	reg.Register(models.DiscoveryRule{
		Service: "frontend",
		Matcher: models.Matcher{Kind: models.MatchNodeType, Values: []string{"web"}},
	})
	nodes := reg.Resolve("frontend", fleet())
	require.Len(t, nodes, 2)
	assert.False(t, nodes[0].Virtual)
}

func TestParseRulesReportsInvalidEntries(t *testing.T) {
	rules, err := ParseRules([]byte(`rules:
  - service: orders
    matcher: {kind: service, values: [orders]}
  - service: broken
    matcher: {kind: telepathy, values: [x]}
  - service: tagged
    matcher: {kind: tag, values: [x]}
`))
	require.Error(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "orders", rules[0].Service)
}

func TestWatcherReloadsRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o644))

	reg := NewRegistry(nil)
	watcher := NewWatcher(path, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	doc := []byte(`rules:
  - service: billing
    matcher: {kind: node_type, values: [web]}
`)
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, doc, 0o644)
		_, ok := reg.Lookup("billing")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
