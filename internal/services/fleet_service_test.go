package services

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/miradorstack/mirador-fleetsim/internal/api"
	"github.com/miradorstack/mirador-fleetsim/internal/cache"
	"github.com/miradorstack/mirador-fleetsim/internal/config"
	"github.com/miradorstack/mirador-fleetsim/internal/engine"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/simulation"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
	"github.com/miradorstack/mirador-fleetsim/internal/world"
)

type harness struct {
	sim    *simulation.Simulator
	svc    *FleetService
	client *api.Client
	now    time.Time
	redis  *miniredis.Miniredis
}

func (h *harness) step(n int) {
	for i := 0; i < n; i++ {
		h.now = h.now.Add(simulation.ReferenceInterval)
		h.sim.Step(context.Background(), h.now)
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	logger := utils.NewLoggerTo(&bytes.Buffer{}, "error", false)
	h := &harness{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	h.sim = simulation.New(world.Default(), simulation.Config{Seed: 7, Clock: clock, Logger: logger})
	t.Cleanup(h.sim.Close)

	h.redis = miniredis.RunT(t)
	provider, err := cache.NewRedisProvider(cache.RedisConfig{Addr: h.redis.Addr(), KeyPrefix: "fleetsim:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	analyzer := engine.NewAnalyzer(h.sim.History(), h.sim, nil, engine.NewCausalityEngine(logger), engine.AnalyzerConfig{
		Clock:  clock,
		Logger: logger,
	})
	opts.Logger = logger
	if opts.ReportTTL == 0 {
		opts.ReportTTL = time.Minute
	}
	h.svc = NewFleetService(h.sim, analyzer, provider, opts)
	t.Cleanup(h.svc.Close)
	h.sim.OnTick(h.svc.HandleFrame)

	lis := bufconn.Listen(1 << 20)
	server := api.NewServerWithListener(config.ServerConfig{}, lis, h.svc)
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	h.client = api.NewClient(conn)
	return h
}

func TestInjectAndCancelIncident(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.step(1)

	var injected models.InjectResult
	_, err := h.client.Call(ctx, api.MethodInjectIncident,
		api.InjectIncidentRequest{NodeID: "web-01", Scenario: "memory_exhaustion", Severity: "high"}, &injected)
	require.NoError(t, err)
	require.NotEmpty(t, injected.IncidentID)

	_, err = h.client.Call(ctx, api.MethodInjectIncident,
		api.InjectIncidentRequest{NodeID: "web-01", Scenario: "cpu_spike"}, nil)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "node already busy")

	_, err = h.client.Call(ctx, api.MethodInjectIncident,
		api.InjectIncidentRequest{NodeID: "web-02", Scenario: "meteor_strike"}, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = h.client.Call(ctx, api.MethodInjectIncident,
		api.InjectIncidentRequest{NodeID: "web-02", Scenario: "cpu_spike", Duration: "soon"}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var listed struct {
		Incidents []models.IncidentInstance `json:"incidents"`
		Scenarios []string                  `json:"scenarios"`
	}
	_, err = h.client.Call(ctx, api.MethodListIncidents, api.ListIncidentsRequest{ActiveOnly: true}, &listed)
	require.NoError(t, err)
	require.Len(t, listed.Incidents, 1)
	assert.Equal(t, "web-01", listed.Incidents[0].NodeID)
	assert.Contains(t, listed.Scenarios, "memory_exhaustion")

	_, err = h.client.Call(ctx, api.MethodCancelIncident, api.CancelIncidentRequest{IncidentID: injected.IncidentID}, nil)
	require.NoError(t, err)
	_, err = h.client.Call(ctx, api.MethodCancelIncident, api.CancelIncidentRequest{IncidentID: injected.IncidentID}, nil)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	_, err = h.client.Call(ctx, api.MethodCancelIncident, api.CancelIncidentRequest{IncidentID: "missing"}, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = h.client.Call(ctx, api.MethodCancelIncident, api.CancelIncidentRequest{}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, api.MethodListIncidents, api.ListIncidentsRequest{ActiveOnly: true}, &listed)
	require.NoError(t, err)
	assert.Empty(t, listed.Incidents)
}

func TestInjectIsRateLimited(t *testing.T) {
	h := newHarness(t, Options{InjectRate: 0.001, InjectBurst: 1})
	ctx := context.Background()

	_, err := h.client.Call(ctx, api.MethodInjectIncident, api.InjectIncidentRequest{NodeID: "web-01", Scenario: "cpu_spike"}, nil)
	require.NoError(t, err)
	_, err = h.client.Call(ctx, api.MethodInjectIncident, api.InjectIncidentRequest{NodeID: "web-02", Scenario: "cpu_spike"}, nil)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestHealthAndHistoryQueries(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.step(12)

	var app struct {
		Health  models.HealthResult    `json:"health"`
		History []models.HealthRecord `json:"history"`
	}
	_, err := h.client.Call(ctx, api.MethodGetApplicationHealth,
		api.ApplicationHealthRequest{Application: "payment-service", IncludeHistory: true}, &app)
	require.NoError(t, err)
	assert.Equal(t, "payment-service", app.Health.Application)
	assert.NotEmpty(t, app.History)

	var all struct {
		Applications map[string]models.HealthResult `json:"applications"`
	}
	_, err = h.client.Call(ctx, api.MethodGetApplicationHealth, api.ApplicationHealthRequest{}, &all)
	require.NoError(t, err)
	assert.Len(t, all.Applications, len(world.DefaultApplications()))

	_, err = h.client.Call(ctx, api.MethodGetApplicationHealth, api.ApplicationHealthRequest{Application: "nope"}, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))

	var fleet struct {
		Fleet models.FleetHealth `json:"fleet"`
		Tick  uint64             `json:"tick"`
		Nodes []*models.Node     `json:"nodes"`
	}
	_, err = h.client.Call(ctx, api.MethodGetFleetHealth, api.FleetHealthRequest{IncludeNodes: true}, &fleet)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), fleet.Tick)
	assert.Len(t, fleet.Nodes, len(world.DefaultNodes()))

	var trend struct {
		Points []models.TrendPoint `json:"points"`
	}
	_, err = h.client.Call(ctx, api.MethodGetHistoricalTrend, api.TrendRequest{Metric: "cpu"}, &trend)
	require.NoError(t, err)
	assert.Len(t, trend.Points, 12)
	_, err = h.client.Call(ctx, api.MethodGetHistoricalTrend, api.TrendRequest{Metric: "humidity"}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, api.MethodGetEventTimeline, api.TimelineRequest{Range: "10m"}, nil)
	require.NoError(t, err)

	var export struct {
		ContentType string `json:"contentType"`
		Data        string `json:"data"`
	}
	_, err = h.client.Call(ctx, api.MethodExportHistory, api.ExportRequest{Format: "csv"}, &export)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", export.ContentType)
	assert.Contains(t, export.Data, "timestamp,avgCpuUsage")
	_, err = h.client.Call(ctx, api.MethodExportHistory, api.ExportRequest{Format: "xml"}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAnalyzeRootCauseUsesCache(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.step(3)
	_, err := h.sim.Inject("db-01", "database_slowdown", models.InjectOptions{})
	require.NoError(t, err)
	h.step(6)

	var first struct {
		Report models.RCAReport `json:"report"`
		Cached bool             `json:"cached"`
	}
	_, err = h.client.Call(ctx, api.MethodAnalyzeRootCause, api.AnalyzeRequest{Window: "10m"}, &first)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.NotZero(t, first.Report.EventCount)
	assert.True(t, h.redis.Exists("fleetsim:rca:10m0s"))

	var second struct {
		Report models.RCAReport `json:"report"`
		Cached bool             `json:"cached"`
	}
	_, err = h.client.Call(ctx, api.MethodAnalyzeRootCause, api.AnalyzeRequest{Window: "10m"}, &second)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Report.ID, second.Report.ID)

	_, err = h.client.Call(ctx, api.MethodAnalyzeRootCause, api.AnalyzeRequest{Window: "10m", Refresh: true}, &second)
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.NotEqual(t, first.Report.ID, second.Report.ID)
}

func TestRecordDeploymentAndRegisterRule(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	var dep struct {
		Event models.Event `json:"event"`
	}
	_, err := h.client.Call(ctx, api.MethodRecordDeployment,
		api.DeploymentRequest{Service: "payment-api", Version: "v2.4.1", NodeID: "app-01"}, &dep)
	require.NoError(t, err)
	assert.Equal(t, models.EventDeployment, dep.Event.Type)
	_, err = h.client.Call(ctx, api.MethodRecordDeployment, api.DeploymentRequest{}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	rule := models.DiscoveryRule{
		Service: "search-cluster",
		Matcher: models.Matcher{Kind: models.MatchNodeType, Values: []string{"storage"}},
	}
	_, err = h.client.Call(ctx, api.MethodRegisterDiscoveryRule, api.RegisterRuleRequest{Rule: rule}, nil)
	require.NoError(t, err)
	_, err = h.client.Call(ctx, api.MethodRegisterDiscoveryRule, api.RegisterRuleRequest{}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestWatchTicksStreamsSummaries(t *testing.T) {
	h := newHarness(t, Options{StreamBuffer: 16})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.WatchTicks(ctx, api.WatchRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.svc.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.step(3)
	for want := uint64(1); want <= 3; want++ {
		msg, err := stream.Recv()
		require.NoError(t, err)
		var summary TickSummary
		require.NoError(t, api.FromStruct(msg, &summary))
		assert.Equal(t, want, summary.Tick)
		assert.NotEmpty(t, summary.Applications)
		assert.Nil(t, summary.Nodes)
	}

	require.Eventually(t, func() bool {
		latest, err := h.svc.LatestSummary(context.Background())
		return err == nil && latest.Tick == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLatestSummaryFallsBackToLastFrame(t *testing.T) {
	logger := utils.NewLoggerTo(&bytes.Buffer{}, "error", false)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	sim := simulation.New(world.Default(), simulation.Config{Seed: 7, Clock: func() time.Time { return now }, Logger: logger})
	t.Cleanup(sim.Close)
	svc := NewFleetService(sim, nil, cache.NoopProvider{}, Options{Logger: logger})
	t.Cleanup(svc.Close)

	_, err := svc.LatestSummary(context.Background())
	require.ErrorIs(t, err, cache.ErrCacheMiss)

	for i := 0; i < 2; i++ {
		now = now.Add(simulation.ReferenceInterval)
		sim.Step(context.Background(), now)
	}
	latest, err := svc.LatestSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Tick)
}

func TestAnalysisLatencyLogKeepsFiringAfterRingFills(t *testing.T) {
	var buf bytes.Buffer
	svc := NewFleetService(nil, nil, nil, Options{Logger: utils.NewLoggerTo(&buf, "info", false)})
	t.Cleanup(svc.Close)

	for i := 0; i < 1100; i++ {
		svc.observeLatency(time.Millisecond)
	}
	assert.Equal(t, 1100/latencyLogStride, strings.Count(buf.String(), "analysis latency"))
	assert.Contains(t, buf.String(), "observed=1100")
}
