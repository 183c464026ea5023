package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-fleetsim/internal/api"
	"github.com/miradorstack/mirador-fleetsim/internal/cache"
	"github.com/miradorstack/mirador-fleetsim/internal/engine"
	"github.com/miradorstack/mirador-fleetsim/internal/history"
	"github.com/miradorstack/mirador-fleetsim/internal/metrics"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/simulation"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
)

const (
	latestFrameKey   = "frame:latest"
	reportKeyPrefix  = "rca:"
	defaultTrend     = time.Hour
	publishTimeout   = time.Second
	latencyLogStride = 20
)

// Options tunes a FleetService.
type Options struct {
	InjectRate   float64
	InjectBurst  int
	FrameTTL     time.Duration
	ReportTTL    time.Duration
	StreamBuffer int
	Logger       *slog.Logger
}

// FleetService implements the FleetSimulator gRPC service over a running simulator.
type FleetService struct {
	logger    *slog.Logger
	sim       *simulation.Simulator
	analyzer  *engine.Analyzer
	cache     cache.Provider
	hub       *TickHub
	limiter   *rate.Limiter
	latencies *utils.LatencyTracker
	frameTTL  time.Duration
	reportTTL time.Duration
}

var (
	_ api.FleetSimulatorServer = (*FleetService)(nil)
	_ api.StreamDrainer        = (*FleetService)(nil)
)

// NewFleetService constructs the service facade. A nil cache disables caching.
func NewFleetService(sim *simulation.Simulator, analyzer *engine.Analyzer, provider cache.Provider, opts Options) *FleetService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	limit := rate.Inf
	if opts.InjectRate > 0 {
		limit = rate.Limit(opts.InjectRate)
	}
	burst := opts.InjectBurst
	if burst <= 0 {
		burst = 1
	}
	return &FleetService{
		logger:    logger,
		sim:       sim,
		analyzer:  analyzer,
		cache:     provider,
		hub:       NewTickHub(opts.StreamBuffer, logger),
		limiter:   rate.NewLimiter(limit, burst),
		latencies: utils.NewLatencyTracker(1024),
		frameTTL:  opts.FrameTTL,
		reportTTL: opts.ReportTTL,
	}
}

// Hub exposes the tick fan-out.
func (s *FleetService) Hub() *TickHub {
	return s.hub
}

// HandleFrame is the simulator tick callback: it fans the frame out to stream
// subscribers and publishes its summary to the cache.
func (s *FleetService) HandleFrame(frame models.Frame) {
	s.hub.Publish(frame)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := cache.SetJSON(ctx, s.cache, latestFrameKey, Summarise(frame, false), s.frameTTL); err != nil {
		s.logger.Debug("publish latest frame failed", slog.Uint64("tick", frame.Tick), slog.Any("error", err))
	}
}

// LatestSummary returns the last published tick summary from the cache,
// falling back to the simulator's own last frame on a miss.
func (s *FleetService) LatestSummary(ctx context.Context) (TickSummary, error) {
	summary, err := cache.GetJSON[TickSummary](ctx, s.cache, latestFrameKey)
	if err == nil || !errors.Is(err, cache.ErrCacheMiss) {
		return summary, err
	}
	frame, ok := s.sim.LastFrame()
	if !ok {
		return TickSummary{}, err
	}
	return Summarise(frame, false), nil
}

// DrainStreams ends every open WatchTicks stream and rejects new ones.
func (s *FleetService) DrainStreams() {
	s.hub.Close()
}

// Close releases the service's stream subscribers.
func (s *FleetService) Close() {
	s.DrainStreams()
}

// InjectIncident starts a scenario on a node, subject to the injection rate limit.
func (s *FleetService) InjectIncident(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.InjectIncidentRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	opts, err := req.Options()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !s.limiter.Allow() {
		return nil, status.Error(codes.ResourceExhausted, "incident injection rate exceeded")
	}

	res, err := s.sim.Inject(req.NodeID, req.Scenario, opts)
	if err != nil {
		s.logger.Warn("incident injection rejected",
			slog.String("node", req.NodeID), slog.String("scenario", req.Scenario), slog.Any("error", err))
		return nil, statusFor(err)
	}
	s.logger.Info("incident injected",
		slog.String("incident_id", res.IncidentID), slog.String("node", req.NodeID), slog.String("scenario", req.Scenario))
	return respond(res)
}

// CancelIncident aborts an active incident.
func (s *FleetService) CancelIncident(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.CancelIncidentRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	msg, err := s.sim.Cancel(req.IncidentID)
	if err != nil {
		return nil, statusFor(err)
	}
	return respond(map[string]any{"incidentId": req.IncidentID, "message": msg})
}

// ListIncidents returns retained incidents and the injectable scenarios.
func (s *FleetService) ListIncidents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ListIncidentsRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	list := s.sim.Incidents()
	if req.ActiveOnly {
		active := make([]models.IncidentInstance, 0, len(list))
		for _, inc := range list {
			if inc.Status == models.IncidentActive {
				active = append(active, inc)
			}
		}
		list = active
	}
	scenarios := make([]string, 0)
	for _, sc := range s.sim.Scenarios() {
		scenarios = append(scenarios, sc.Name)
	}
	sort.Strings(scenarios)
	return respond(map[string]any{"incidents": nonNil(list), "scenarios": scenarios})
}

// GetApplicationHealth computes health for one application or for all of them.
func (s *FleetService) GetApplicationHealth(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ApplicationHealthRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Application == "" {
		all := make(map[string]models.HealthResult)
		for _, app := range s.sim.Applications() {
			res, err := s.sim.ApplicationHealth(app.Name)
			if err != nil {
				return nil, statusFor(err)
			}
			all[app.Name] = res
		}
		return respond(map[string]any{"applications": all})
	}

	res, err := s.sim.ApplicationHealth(req.Application)
	if err != nil {
		return nil, statusFor(err)
	}
	out := map[string]any{"health": res}
	if req.IncludeHistory {
		records, err := s.sim.ApplicationHealthHistory(req.Application)
		if err != nil {
			return nil, statusFor(err)
		}
		out["history"] = nonNil(records)
	}
	return respond(out)
}

// GetFleetHealth summarises fleet status and tick performance.
func (s *FleetService) GetFleetHealth(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.FleetHealthRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out := map[string]any{
		"fleet":           s.sim.FleetHealth(),
		"tick":            s.sim.Ticks(),
		"tickP95Ms":       utils.Millis(s.sim.TickLatency()),
		"analysisP95Ms":   utils.Millis(s.latencies.Percentile(95)),
		"streamListeners": s.hub.Len(),
	}
	if latest, ok := s.sim.History().Latest(); ok {
		out["metrics"] = latest
	}
	if req.IncludeNodes {
		out["nodes"] = s.sim.Nodes()
	}
	return respond(out)
}

// GetHistoricalTrend returns one fleet metric over a look-back range.
func (s *FleetService) GetHistoricalTrend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.TrendRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rng, err := api.ParseWindow(req.Range, defaultTrend)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	points, err := s.sim.History().HistoricalTrend(req.Metric, rng)
	if err != nil {
		if errors.Is(err, history.ErrUnknownMetric) {
			return nil, status.Errorf(codes.InvalidArgument, "%v (supported: %v)", err, history.TrendMetrics())
		}
		return nil, statusFor(err)
	}
	return respond(map[string]any{"metric": req.Metric, "range": rng.String(), "points": nonNil(points)})
}

// GetEventTimeline returns status changes and events over a look-back range.
func (s *FleetService) GetEventTimeline(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.TimelineRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rng, err := api.ParseWindow(req.Range, defaultTrend)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return respond(map[string]any{"range": rng.String(), "entries": nonNil(s.sim.History().EventTimeline(rng))})
}

// ExportHistory serialises the recorded history as JSON or CSV.
func (s *FleetService) ExportHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ExportRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	format := req.Format
	if format == "" {
		format = "json"
	}
	data, err := s.sim.History().Export(format)
	if err != nil {
		return nil, statusFor(err)
	}
	contentType := "application/json"
	if format == "csv" {
		contentType = "text/csv"
	}
	return respond(map[string]any{"format": format, "contentType": contentType, "data": string(data)})
}

// AnalyzeRootCause runs root-cause analysis, serving repeat windows from the cache.
func (s *FleetService) AnalyzeRootCause(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.AnalyzeRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	window, err := api.ParseWindow(req.Window, s.analyzer.Window())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	key := fmt.Sprintf("%s%s", reportKeyPrefix, window)

	if !req.Refresh {
		report, err := cache.GetJSON[models.RCAReport](ctx, s.cache, key)
		if err == nil {
			metrics.ObserveReportCache(true)
			return respond(map[string]any{"report": report, "cached": true})
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("report cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		metrics.ObserveReportCache(false)
	}

	start := time.Now()
	report, err := s.analyzer.Analyze(ctx, window)
	if err != nil {
		s.logger.Error("root cause analysis failed", slog.Any("error", err))
		return nil, statusFor(err)
	}
	s.observeLatency(time.Since(start))

	if err := cache.SetJSON(ctx, s.cache, key, report, s.reportTTL); err != nil {
		s.logger.Warn("report cache write failed", slog.String("key", key), slog.Any("error", err))
	}
	return respond(map[string]any{"report": report, "cached": false})
}

// RecordDeployment queues a deployment marker for the next tick.
func (s *FleetService) RecordDeployment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.DeploymentRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ev := s.sim.RecordDeployment(req.Service, req.Version, req.NodeID)
	return respond(map[string]any{"event": ev})
}

// RegisterDiscoveryRule adds or replaces a service discovery rule.
func (s *FleetService) RegisterDiscoveryRule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.RegisterRuleRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.sim.RegisterRule(req.Rule); err != nil {
		return nil, statusFor(err)
	}
	return respond(map[string]any{"service": req.Rule.Service, "registered": true})
}

// WatchTicks streams a summary of every tick until the client leaves or the
// subscriber falls too far behind.
func (s *FleetService) WatchTicks(in *structpb.Struct, stream api.TickStream) error {
	var req api.WatchRequest
	if err := api.DecodeRequest(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	frames, cancel := s.hub.Subscribe()
	defer cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return status.Error(codes.Unavailable, "tick stream closed or subscriber too slow")
			}
			msg, err := api.ToStruct(Summarise(frame, req.IncludeNodes))
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *FleetService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if total := s.latencies.Total(); total%latencyLogStride == 0 {
		s.logger.Info("analysis latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", s.latencies.Count()),
			slog.Uint64("observed", total),
		)
	}
}

func respond(v any) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
