package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/miradorstack/mirador-fleetsim/internal/discovery"
	"github.com/miradorstack/mirador-fleetsim/internal/extractors"
	"github.com/miradorstack/mirador-fleetsim/internal/history"
	"github.com/miradorstack/mirador-fleetsim/internal/incidents"
	"github.com/miradorstack/mirador-fleetsim/internal/metrics"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/topology"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
	"github.com/miradorstack/mirador-fleetsim/internal/world"
)

var tracer = otel.Tracer("fleetsim.simulation")

// ReferenceInterval is the tick length at which transition probabilities are
// expressed; longer ticks scale them up proportionally.
const ReferenceInterval = 5 * time.Second

const maxTickScale = 10.0

// ErrInvalidRule is returned when a runtime discovery rule fails validation.
var ErrInvalidRule = errors.New("invalid discovery rule")

// Config tunes a Simulator.
type Config struct {
	TickInterval       time.Duration
	EscalationTicks    int
	Seed               int64
	DispatchBuffer     int
	History            history.Limits
	HealthHistoryLimit int
	ResolutionTTL      time.Duration
	IncidentRetention  int
	AnomalyWindow      time.Duration
	AnomalyThreshold   float64
	Clock              func() time.Time
	Logger             *slog.Logger
}

// Simulator owns one simulation world and drives it tick by tick. Every
// node mutation happens under mu.
type Simulator struct {
	mu sync.Mutex

	cfg        Config
	fleet      *Fleet
	graph      *topology.Graph
	registry   *discovery.Registry
	aggregator *topology.Aggregator
	director   *incidents.Director
	recorder   *history.Recorder
	evolver    *Evolver
	anomalies  *extractors.MetricExtractor
	dispatch   *dispatcher
	latencies  *utils.LatencyTracker
	logger     *slog.Logger

	tick     uint64
	lastTick time.Time
	queued   []models.Event
	last     models.Frame
}

// New builds a simulator over a world. Invalid extra scenarios are logged and
// skipped.
func New(w *world.World, cfg Config) *Simulator {
	if w == nil {
		w = world.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = ReferenceInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.AnomalyWindow <= 0 {
		cfg.AnomalyWindow = 10 * time.Minute
	}
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fleet := NewFleet(w.Nodes)
	graph := topology.NewGraph(w.Applications)
	registry := discovery.NewRegistry(logger, w.DiscoveryRules...)
	catalog, err := incidents.NewCatalog(w.Scenarios...)
	if err != nil {
		logger.Warn("some incident scenarios were rejected", slog.Any("error", err))
	}

	return &Simulator{
		cfg:      cfg,
		fleet:    fleet,
		graph:    graph,
		registry: registry,
		aggregator: topology.NewAggregator(graph, registry, fleet, topology.AggregatorConfig{
			ResolutionTTL: cfg.ResolutionTTL,
			HistoryLimit:  cfg.HealthHistoryLimit,
			Clock:         cfg.Clock,
			Logger:        logger,
		}),
		director: incidents.NewDirector(catalog, fleet, incidents.Options{
			Retention: cfg.IncidentRetention,
			Clock:     cfg.Clock,
			Logger:    logger,
		}),
		recorder:  history.NewRecorder(cfg.History),
		evolver:   NewEvolver(rand.New(rand.NewSource(cfg.Seed)), EvolverConfig{EscalationTicks: cfg.EscalationTicks}),
		anomalies: extractors.NewMetricExtractor(cfg.AnomalyThreshold),
		dispatch:  newDispatcher(cfg.DispatchBuffer, logger),
		latencies: utils.NewLatencyTracker(512),
		logger:    logger,
	}
}

// OnTick registers the single frame callback, replacing any earlier one.
// Passing nil unregisters it.
func (s *Simulator) OnTick(fn TickFunc) {
	s.dispatch.set(fn)
}

// Run ticks on the configured interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	s.logger.Info("simulation started", slog.Duration("interval", s.cfg.TickInterval), slog.Int("nodes", s.fleet.Len()))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulation stopped", slog.Uint64("ticks", s.Ticks()))
			return nil
		case <-ticker.C:
			s.Step(ctx, s.cfg.Clock())
		}
	}
}

// Close stops frame delivery.
func (s *Simulator) Close() {
	s.dispatch.close()
}

// Step executes one tick at now: incident phases advance, nodes evolve,
// health is aggregated and history captured, then the frame is handed to the
// callback without waiting for it.
func (s *Simulator) Step(ctx context.Context, now time.Time) models.Frame {
	_, span := tracer.Start(ctx, "simulation.tick")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	s.tick++
	dt := 1.0
	if !s.lastTick.IsZero() {
		dt = now.Sub(s.lastTick).Seconds() / ReferenceInterval.Seconds()
		dt = clampRange(dt, 0, maxTickScale)
	}
	s.lastTick = now

	s.director.Advance(now)
	evolved := s.evolver.Step(s.fleet.Nodes(), dt, now)

	events := s.director.DrainEvents()
	events = append(events, evolved.Events...)
	events = append(events, s.queued...)
	s.queued = nil

	apps := s.aggregator.ComputeAll()
	events = append(events, s.deriveSignals(events, apps, now)...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	nodes := s.fleet.Nodes()
	s.recorder.Capture(history.Tick{
		Timestamp:    now,
		Nodes:        nodes,
		Applications: apps,
		Events:       events,
		BusinessLoad: evolved.BusinessLoad,
	})
	fleetHealth, counts := s.fleet.Health()
	fleetHealth.Timestamp = now

	frame := models.Frame{
		Tick:         s.tick,
		Timestamp:    now,
		Nodes:        models.CloneNodes(nodes),
		Fleet:        fleetHealth,
		Applications: apps,
		Extra: models.FrameExtra{
			Incidents:   s.director.Active(),
			Predictions: evolved.Predictions,
			Anomalies:   s.anomalies.DetectFleet(s.recorder.MetricSeries(s.cfg.AnomalyWindow)),
			Alerts:      evolved.Alerts,
			Events:      events,
		},
	}
	s.last = frame
	s.mu.Unlock()

	elapsed := time.Since(start)
	s.latencies.Observe(elapsed)
	metrics.ObserveTick(elapsed, counts)
	for name, res := range apps {
		metrics.SetApplicationHealth(name, res.Score)
	}
	span.SetAttributes(
		attribute.Int64("fleetsim.tick", int64(frame.Tick)),
		attribute.Int("fleetsim.events", len(events)),
		attribute.Int("fleetsim.incidents", len(frame.Extra.Incidents)),
	)

	s.dispatch.submit(frame)
	return frame
}

// deriveSignals turns node-level failures into the connectivity and timeout
// signals their peers would observe.
func (s *Simulator) deriveSignals(events []models.Event, apps map[string]models.HealthResult, now time.Time) []models.Event {
	var derived []models.Event
	seen := make(map[string]struct{})
	for _, ev := range events {
		if !ev.IsFailure() || ev.NodeID == "" || ev.Type == models.EventConnectivity || ev.Type == models.EventTimeout {
			continue
		}
		if _, dup := seen["conn/"+ev.NodeID]; !dup && (ev.Resource == models.ResourceNetwork || ev.ToStatus == models.StatusOffline) {
			seen["conn/"+ev.NodeID] = struct{}{}
			derived = append(derived, models.Event{
				ID:        uuid.NewString(),
				Timestamp: now,
				Type:      models.EventConnectivity,
				NodeID:    ev.NodeID,
				Service:   ev.Service,
				Category:  ev.Category,
				Zone:      ev.Zone,
				Resource:  models.ResourceNetwork,
				Severity:  ev.Severity,
				Message:   fmt.Sprintf("peers lost contact with %s in %s", ev.NodeID, ev.Zone),
			})
		}
		if discovery.CategoryOf(ev.Category) == "db" {
			derived = append(derived, s.timeouts(ev, apps, seen, now)...)
		}
	}
	return derived
}

// timeouts emits one timeout per non-database node sharing an application
// with the failing database node. seen dedupes across a tick.
func (s *Simulator) timeouts(ev models.Event, apps map[string]models.HealthResult, seen map[string]struct{}, now time.Time) []models.Event {
	names := make([]string, 0, len(apps))
	for name := range apps {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []models.Event
	for _, app := range names {
		details := apps[app].NodeDetails
		if !containsNode(details, ev.NodeID) {
			continue
		}
		for _, detail := range details {
			key := ev.NodeID + "/" + detail.NodeID
			if detail.Virtual || detail.NodeID == ev.NodeID {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			node, ok := s.fleet.Node(detail.NodeID)
			if !ok || discovery.CategoryOf(node.Type) == "db" {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, models.Event{
				ID:        uuid.NewString(),
				Timestamp: now,
				Type:      models.EventTimeout,
				NodeID:    node.ID,
				Service:   app,
				Category:  node.Type,
				Zone:      node.Datacenter,
				Resource:  models.ResourceStorage,
				Severity:  models.SeverityMedium,
				Message:   fmt.Sprintf("%s timed out waiting on %s", node.Name, ev.NodeID),
			})
		}
	}
	return out
}

func containsNode(details []models.NodeHealthDetail, id string) bool {
	for _, d := range details {
		if d.NodeID == id {
			return true
		}
	}
	return false
}

// Inject starts an incident scenario on a node.
func (s *Simulator) Inject(nodeID, scenario string, opts models.InjectOptions) (models.InjectResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.director.Inject(nodeID, scenario, opts)
	if err != nil {
		return res, err
	}
	metrics.ObserveIncident(scenario, "injected")
	return res, nil
}

// Cancel aborts an active incident.
func (s *Simulator) Cancel(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, lookupErr := s.director.Get(id)
	msg, err := s.director.Cancel(id)
	if err != nil {
		return "", err
	}
	if lookupErr == nil {
		metrics.ObserveIncident(inst.Scenario, "cancelled")
	}
	return msg, nil
}

// Incidents lists retained incident records, newest first.
func (s *Simulator) Incidents() []models.IncidentInstance {
	return s.director.Incidents()
}

// Scenarios lists the injectable scenarios.
func (s *Simulator) Scenarios() []models.IncidentScenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.director.Catalog().Scenarios()
}

// ApplicationHealth recomputes one application's health on demand.
func (s *Simulator) ApplicationHealth(name string) (models.HealthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregator.ComputeApplicationHealth(name)
}

// ApplicationHealthHistory returns the bounded per-application health records.
func (s *Simulator) ApplicationHealthHistory(name string) ([]models.HealthRecord, error) {
	if !s.graph.IsApplication(name) {
		return nil, fmt.Errorf("%w: %s", topology.ErrUnknownApplication, name)
	}
	return s.aggregator.HealthHistory(name), nil
}

// Applications lists the declared applications.
func (s *Simulator) Applications() []models.Application {
	return s.graph.Applications()
}

// Graph exposes the application topology.
func (s *Simulator) Graph() *topology.Graph {
	return s.graph
}

// FleetHealth summarises the current node status distribution.
func (s *Simulator) FleetHealth() models.FleetHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	fh, _ := s.fleet.Health()
	fh.Timestamp = s.lastTick
	return fh
}

// Nodes returns deep copies of every node.
func (s *Simulator) Nodes() []*models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneNodes(s.fleet.Nodes())
}

// LastFrame returns the most recent frame, if any tick has run.
func (s *Simulator) LastFrame() (models.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.tick > 0
}

// Ticks reports how many ticks have executed.
func (s *Simulator) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// History exposes the recorder. It is safe for concurrent reads.
func (s *Simulator) History() *history.Recorder {
	return s.recorder
}

// Registry exposes the discovery registry, e.g. for a rule file watcher.
func (s *Simulator) Registry() *discovery.Registry {
	return s.registry
}

// RegisterRule validates and registers a discovery rule while running.
func (s *Simulator) RegisterRule(rule models.DiscoveryRule) error {
	if err := discovery.ValidateRule(rule); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	s.registry.Register(rule)
	s.aggregator.InvalidateResolutions()
	s.logger.Info("discovery rule registered", slog.String("service", rule.Service))
	return nil
}

// RefreshResolutions drops cached service resolutions so discovery rule
// changes made outside RegisterRule apply on the next tick.
func (s *Simulator) RefreshResolutions() {
	s.aggregator.InvalidateResolutions()
}

// RecordDeployment queues a deployment marker for the next tick.
func (s *Simulator) RecordDeployment(service, version, nodeID string) models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := models.Event{
		ID:        uuid.NewString(),
		Timestamp: s.cfg.Clock(),
		Type:      models.EventDeployment,
		NodeID:    nodeID,
		Service:   service,
		Severity:  models.SeverityLow,
		Message:   fmt.Sprintf("deployed %s %s", service, version),
	}
	if n, ok := s.fleet.Node(nodeID); ok {
		ev.Category = n.Type
		ev.Zone = n.Datacenter
	}
	s.queued = append(s.queued, ev)
	return ev
}

// TickLatency reports the p95 tick computation time.
func (s *Simulator) TickLatency() time.Duration {
	return s.latencies.Percentile(95)
}
