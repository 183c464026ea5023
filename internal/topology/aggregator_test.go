package topology

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-fleetsim/internal/discovery"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

type fakeFleet struct {
	nodes []*models.Node
}

func (f *fakeFleet) Nodes() []*models.Node { return f.nodes }

func (f *fakeFleet) Node(id string) (*models.Node, bool) {
	for _, n := range f.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

func serviceRule(service string) models.DiscoveryRule {
	return models.DiscoveryRule{
		Service: service,
		Matcher: models.Matcher{Kind: models.MatchService, Values: []string{service}},
	}
}

func fixedClock() func() time.Time {
	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func newAggregator(apps []models.Application, nodes []*models.Node, rules ...models.DiscoveryRule) (*Aggregator, *fakeFleet) {
	fleet := &fakeFleet{nodes: nodes}
	agg := NewAggregator(NewGraph(apps), discovery.NewRegistry(nil, rules...), fleet, AggregatorConfig{Clock: fixedClock()})
	return agg, fleet
}

func TestHotNodeScoresAtMostTwenty(t *testing.T) {
	for _, crit := range []models.Criticality{models.CriticalityCritical, models.CriticalityHigh, models.CriticalityMedium, models.CriticalityLow} {
		hot := &models.Node{ID: "n1", Name: "hot", Status: models.StatusCritical, Services: []string{"hot-svc"},
			Metrics: models.NodeMetrics{CPU: 95, Memory: 95}}
		agg, _ := newAggregator([]models.Application{{Name: "app", Criticality: crit, Dependencies: []string{"hot-svc"}}},
			[]*models.Node{hot}, serviceRule("hot-svc"))

		res, err := agg.ComputeApplicationHealth("app")
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Score, 20.0, crit)
		assert.InDelta(t, 5.0, res.Score, 1e-9)
		assert.Contains(t, []models.HealthStatus{models.HealthCritical, models.HealthFailure}, res.Status)
	}
}

func TestHealthyNodesClassifyHealthy(t *testing.T) {
	nodes := []*models.Node{
		{ID: "a", Status: models.StatusOnline, Services: []string{"api"}, Metrics: models.NodeMetrics{CPU: 40, Memory: 50, NetworkLatency: 20}},
		{ID: "b", Status: models.StatusWarning, Services: []string{"api"}, Metrics: models.NodeMetrics{CPU: 82, Memory: 50}},
	}
	agg, _ := newAggregator([]models.Application{{Name: "shop", Criticality: models.CriticalityLow, Dependencies: []string{"api"}}},
		nodes, serviceRule("api"))

	res, err := agg.ComputeApplicationHealth("SHOP")
	require.NoError(t, err)
	// (100 + (60 - 1)) / 2
	assert.InDelta(t, 79.5, res.Score, 1e-9)
	assert.Equal(t, models.HealthHealthy, res.Status)
	assert.Equal(t, []string{"a", "b"}, res.ResolvedNodeRefs)
	require.Len(t, res.NodeDetails, 2)
	assert.Contains(t, res.Reason, "1 of 2 nodes degraded")
}

func TestUnresolvedDependenciesYieldUnknown(t *testing.T) {
	agg, _ := newAggregator([]models.Application{{Name: "empty", Dependencies: []string{"ghost"}}}, nil,
		models.DiscoveryRule{Service: "ghost", Matcher: models.Matcher{Kind: models.MatchNodeType, Values: []string{"none"}}})

	res, err := agg.ComputeApplicationHealth("empty")
	require.NoError(t, err)
	assert.Equal(t, models.HealthUnknown, res.Status)
	assert.Zero(t, res.Score)
}

func TestUnknownApplication(t *testing.T) {
	agg, _ := newAggregator(nil, nil)
	_, err := agg.ComputeApplicationHealth("nope")
	assert.True(t, errors.Is(err, ErrUnknownApplication))
}

func TestDependencyPenaltyIsCapped(t *testing.T) {
	healthy := &models.Node{ID: "ok", Status: models.StatusOnline, Services: []string{"front"}}
	dead := &models.Node{ID: "dead", Status: models.StatusOffline, Services: []string{"back"}}
	apps := []models.Application{
		{Name: "top", Dependencies: []string{"front", "d1", "d2", "d3"}},
		{Name: "d1", Dependencies: []string{"back"}},
		{Name: "d2", Dependencies: []string{"back"}},
		{Name: "d3", Dependencies: []string{"back"}},
	}
	agg, _ := newAggregator(apps, []*models.Node{healthy, dead}, serviceRule("front"), serviceRule("back"))

	res, err := agg.ComputeApplicationHealth("top")
	require.NoError(t, err)
	// three dependencies at score 0 contribute 24 each, capped at 50
	assert.InDelta(t, MaxDependencyPenalty, res.DependencyPenalty, 1e-9)
	assert.InDelta(t, 50.0, res.Score, 1e-9)

	var total float64
	for _, dep := range res.Dependencies {
		total += dep.Penalty
	}
	assert.InDelta(t, MaxDependencyPenalty, total, 1e-9)
}

func TestCyclicApplicationsTerminate(t *testing.T) {
	node := &models.Node{ID: "n", Status: models.StatusCritical, Services: []string{"svc"}}
	apps := []models.Application{
		{Name: "a", Dependencies: []string{"svc", "b"}},
		{Name: "b", Dependencies: []string{"svc", "a"}},
	}
	agg, _ := newAggregator(apps, []*models.Node{node}, serviceRule("svc"))

	res, err := agg.ComputeApplicationHealth("a")
	require.NoError(t, err)
	require.Len(t, res.Dependencies, 2)
	bDep := res.Dependencies[1]
	assert.Equal(t, models.DependencyApplication, bDep.Kind)
	// Each side averages the critical node (20) with the other's placeholder
	// (100). b takes no penalty from a because a is on the path.
	assert.InDelta(t, 60.0, bDep.Score, 1e-9)
	assert.InDelta(t, 6.0, bDep.Penalty, 1e-9)
	assert.InDelta(t, 54.0, res.Score, 1e-9)

	all := agg.ComputeAll()
	require.Len(t, all, 2)
}

func TestApplicationOnlyDependenciesResolveNodes(t *testing.T) {
	api := &models.Node{ID: "api-1", Status: models.StatusOnline, Services: []string{"api"}}
	apps := []models.Application{
		{Name: "shop", Dependencies: []string{"api"}},
		{Name: "platform", Dependencies: []string{"shop"}},
		{Name: "top", Dependencies: []string{"api", "platform"}},
	}
	agg, _ := newAggregator(apps, []*models.Node{api}, serviceRule("api"))

	platform, err := agg.ComputeApplicationHealth("platform")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, platform.Score, 1e-9)
	assert.Equal(t, models.HealthHealthy, platform.Status)
	assert.Equal(t, []string{"virtual-shop"}, platform.ResolvedNodeRefs)
	require.Len(t, platform.Dependencies, 1)
	assert.Equal(t, models.DependencyApplication, platform.Dependencies[0].Kind)
	assert.Zero(t, platform.Dependencies[0].Penalty)

	top, err := agg.ComputeApplicationHealth("top")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, top.Score, 1e-9)
	assert.Zero(t, top.DependencyPenalty)
	assert.Equal(t, models.HealthHealthy, top.Status)
}

func TestUnknownDependencyAddsNoPenalty(t *testing.T) {
	api := &models.Node{ID: "api-1", Status: models.StatusOnline, Services: []string{"api"}}
	apps := []models.Application{
		{Name: "parent", Dependencies: []string{"api", "orphan"}},
		{Name: "orphan", Dependencies: []string{"ghost"}},
	}
	agg, _ := newAggregator(apps, []*models.Node{api}, serviceRule("api"),
		models.DiscoveryRule{Service: "ghost", Matcher: models.Matcher{Kind: models.MatchNodeType, Values: []string{"none"}}})

	orphan, err := agg.ComputeApplicationHealth("orphan")
	require.NoError(t, err)
	assert.Equal(t, models.HealthUnknown, orphan.Status)

	parent, err := agg.ComputeApplicationHealth("parent")
	require.NoError(t, err)
	assert.Zero(t, parent.DependencyPenalty)
	assert.InDelta(t, 100.0, parent.Score, 1e-9)
}

func TestScoresStayInRangeWithNaN(t *testing.T) {
	nodes := []*models.Node{
		{ID: "x", Status: models.StatusOnline, Services: []string{"svc"}, Metrics: models.NodeMetrics{CPU: math.NaN(), Memory: math.Inf(1), NetworkLatency: 5000}},
		{ID: "y", Status: models.StatusCritical, Services: []string{"svc"}, Metrics: models.NodeMetrics{CPU: 100, Memory: 100, NetworkLatency: 9000}},
	}
	agg, _ := newAggregator([]models.Application{{Name: "app", Dependencies: []string{"svc"}}}, nodes, serviceRule("svc"))

	res, err := agg.ComputeApplicationHealth("app")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Score, 0.0)
	assert.LessOrEqual(t, res.Score, 100.0)
	assert.False(t, math.IsNaN(res.Score))
}

func TestHealthHistoryIsBounded(t *testing.T) {
	node := &models.Node{ID: "n", Status: models.StatusOnline, Services: []string{"svc"}}
	fleet := &fakeFleet{nodes: []*models.Node{node}}
	agg := NewAggregator(
		NewGraph([]models.Application{{Name: "app", Dependencies: []string{"svc"}}}),
		discovery.NewRegistry(nil, serviceRule("svc")),
		fleet,
		AggregatorConfig{HistoryLimit: 5, Clock: fixedClock()},
	)
	for i := 0; i < 12; i++ {
		_, err := agg.ComputeApplicationHealth("app")
		require.NoError(t, err)
	}
	assert.Len(t, agg.HealthHistory("app"), 5)
}

func TestResolutionCacheRefreshesLiveNodes(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	node := &models.Node{ID: "n", Status: models.StatusOnline, Services: []string{"svc"}}
	fleet := &fakeFleet{nodes: []*models.Node{node}}
	agg := NewAggregator(
		NewGraph([]models.Application{{Name: "app", Dependencies: []string{"svc"}}}),
		discovery.NewRegistry(nil, serviceRule("svc")),
		fleet,
		AggregatorConfig{ResolutionTTL: time.Minute, Clock: func() time.Time { return now }},
	)

	first, err := agg.ComputeApplicationHealth("app")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, first.Score, 1e-9)

	node.Status = models.StatusOffline
	second, err := agg.ComputeApplicationHealth("app")
	require.NoError(t, err)
	assert.Zero(t, second.Score, "cached resolution still reads live node state")
}

func TestGraphDependents(t *testing.T) {
	g := NewGraph([]models.Application{
		{Name: "web", Dependencies: []string{"api"}},
		{Name: "mobile", Dependencies: []string{"api"}},
		{Name: "api", Dependencies: []string{"orders-db"}},
	})
	assert.Equal(t, []string{"mobile", "web"}, g.Dependents("api"))
	assert.True(t, g.IsApplication("API"))
	assert.False(t, g.IsApplication("orders-db"))
	assert.Len(t, g.Edges(), 3)
}
