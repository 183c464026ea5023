package incidents

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

var (
	ErrUnknownScenario   = errors.New("unknown incident scenario")
	ErrUnknownNode       = errors.New("unknown node")
	ErrIncidentNotFound  = errors.New("incident not found")
	ErrIncidentNotActive = errors.New("incident is not active")
	ErrIncidentActive    = errors.New("node already has an active incident")
	ErrNoPhases          = errors.New("scenario has no phases")
	ErrInvalidOptions    = errors.New("invalid incident options")
)

const (
	defaultRetention = 200
	cancelFactor     = 0.7
	completeFactor   = 0.6
)

// NodeLookup gives the director access to live nodes. Callers must hold the
// simulation's write lock while invoking Inject, Advance and Cancel.
type NodeLookup interface {
	Node(id string) (*models.Node, bool)
}

// Options configure a Director.
type Options struct {
	Retention int
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Director plays scripted incident arcs on nodes. Phase transitions only take
// effect when Advance is called at a tick boundary.
type Director struct {
	mu        sync.Mutex
	catalog   *Catalog
	nodes     NodeLookup
	byID      map[string]*models.IncidentInstance
	records   []*models.IncidentInstance
	pending   []models.Event
	retention int
	clock     func() time.Time
	logger    *slog.Logger
}

// NewDirector constructs a Director.
func NewDirector(catalog *Catalog, nodes NodeLookup, opts Options) *Director {
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if catalog == nil {
		catalog, _ = NewCatalog()
	}
	return &Director{
		catalog:   catalog,
		nodes:     nodes,
		byID:      make(map[string]*models.IncidentInstance),
		retention: opts.Retention,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Catalog exposes the scenario catalog.
func (d *Director) Catalog() *Catalog {
	return d.catalog
}

// Inject starts a scenario on a node. Phase 0 is applied immediately.
func (d *Director) Inject(nodeID, scenarioName string, opts models.InjectOptions) (models.InjectResult, error) {
	scenario, ok := d.catalog.Get(scenarioName)
	if !ok {
		return models.InjectResult{}, fmt.Errorf("%w: %s", ErrUnknownScenario, scenarioName)
	}
	node, ok := d.nodes.Node(nodeID)
	if !ok {
		return models.InjectResult{}, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	if node.CurrentIncident != nil {
		return models.InjectResult{}, fmt.Errorf("%w: %s (%s)", ErrIncidentActive, nodeID, node.CurrentIncident.ID)
	}
	phases, err := ShapePhases(scenario.Phases, opts)
	if err != nil {
		return models.InjectResult{}, fmt.Errorf("%s: %w", scenario.Name, err)
	}

	now := d.clock()
	inst := &models.IncidentInstance{
		ID:           uuid.NewString(),
		NodeID:       node.ID,
		Scenario:     scenario.Name,
		Severity:     opts.Severity,
		Phases:       phases,
		PhaseStarted: now,
		StartTime:    now,
		Injected:     true,
		Status:       models.IncidentActive,
	}
	for _, p := range phases {
		inst.EstimatedDuration += p.Duration
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	from := node.Status
	d.applyPhase(node, inst)
	d.byID[inst.ID] = inst
	d.records = append(d.records, inst)
	d.trim()

	phase := phases[0]
	d.emit(models.Event{
		Timestamp:  now,
		Type:       models.EventIncidentInjected,
		NodeID:     node.ID,
		Service:    node.PrimaryService(),
		Category:   node.Type,
		Zone:       node.Datacenter,
		Resource:   scenario.Resource,
		Severity:   severityFor(phase.Status),
		FromStatus: from,
		ToStatus:   phase.Status,
		Message:    fmt.Sprintf("%s injected on %s: %s", scenario.Name, node.Name, phase.Description),
	})
	d.logger.Info("incident injected",
		slog.String("incident_id", inst.ID),
		slog.String("node", node.ID),
		slog.String("scenario", scenario.Name),
		slog.Duration("estimated", inst.EstimatedDuration),
	)

	return models.InjectResult{
		IncidentID:        inst.ID,
		Message:           fmt.Sprintf("Injected %s on %s (%d phases)", scenario.Name, node.Name, len(phases)),
		EstimatedDuration: inst.EstimatedDuration,
	}, nil
}

// Advance moves every active incident whose phase timer has elapsed. Several
// phases may elapse in one call; each is applied in order.
func (d *Director) Advance(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, inst := range d.records {
		if inst.Status != models.IncidentActive {
			continue
		}
		node, ok := d.nodes.Node(inst.NodeID)
		if !ok {
			inst.Status = models.IncidentCompleted
			inst.EndTime = now
			continue
		}
		for inst.Status == models.IncidentActive {
			phase, _ := inst.CurrentPhase()
			due := inst.PhaseStarted.Add(phase.Duration)
			if now.Before(due) {
				// Effects are floors, so they are re-asserted every tick.
				applyEffects(node, phase.Effects)
				break
			}
			inst.PhaseIndex++
			inst.PhaseStarted = due
			if inst.PhaseIndex >= len(inst.Phases) {
				d.complete(node, inst, due)
				break
			}
			from := node.Status
			d.applyPhase(node, inst)
			next := inst.Phases[inst.PhaseIndex]
			d.emit(models.Event{
				Timestamp:  due,
				Type:       models.EventIncidentPhase,
				NodeID:     node.ID,
				Service:    node.PrimaryService(),
				Category:   node.Type,
				Zone:       node.Datacenter,
				Resource:   d.resourceOf(inst),
				Severity:   severityFor(next.Status),
				FromStatus: from,
				ToStatus:   next.Status,
				Message:    fmt.Sprintf("%s phase %d/%d on %s: %s", inst.Scenario, inst.PhaseIndex+1, len(inst.Phases), node.Name, next.Description),
			})
		}
	}
}

// Cancel aborts an active incident and returns the node to service.
func (d *Director) Cancel(id string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	if inst.Status != models.IncidentActive {
		return "", fmt.Errorf("%w: %s is %s", ErrIncidentNotActive, id, inst.Status)
	}
	now := d.clock()
	inst.Status = models.IncidentCancelled
	inst.EndTime = now

	if node, ok := d.nodes.Node(inst.NodeID); ok {
		from := node.Status
		restore(node, cancelFactor)
		d.emit(models.Event{
			Timestamp:  now,
			Type:       models.EventIncidentCancelled,
			NodeID:     node.ID,
			Service:    node.PrimaryService(),
			Category:   node.Type,
			Zone:       node.Datacenter,
			Severity:   models.SeverityLow,
			FromStatus: from,
			ToStatus:   models.StatusOnline,
			Message:    fmt.Sprintf("%s cancelled on %s", inst.Scenario, node.Name),
		})
	}
	d.logger.Info("incident cancelled", slog.String("incident_id", id), slog.String("node", inst.NodeID))
	return fmt.Sprintf("Incident %s cancelled", id), nil
}

// Incidents returns every retained incident record, newest first.
func (d *Director) Incidents() []models.IncidentInstance {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.IncidentInstance, 0, len(d.records))
	for i := len(d.records) - 1; i >= 0; i-- {
		out = append(out, cloneInstance(d.records[i]))
	}
	return out
}

// Active returns the incidents still in progress, oldest first.
func (d *Director) Active() []models.IncidentInstance {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.IncidentInstance, 0)
	for _, inst := range d.records {
		if inst.Status == models.IncidentActive {
			out = append(out, cloneInstance(inst))
		}
	}
	return out
}

// Get returns one incident record.
func (d *Director) Get(id string) (models.IncidentInstance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.byID[id]
	if !ok {
		return models.IncidentInstance{}, fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	return cloneInstance(inst), nil
}

// DrainEvents hands over the events emitted since the last call.
func (d *Director) DrainEvents() []models.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

func (d *Director) applyPhase(node *models.Node, inst *models.IncidentInstance) {
	phase := inst.Phases[inst.PhaseIndex]
	node.Status = phase.Status
	applyEffects(node, phase.Effects)
	node.CurrentIncident = &models.IncidentRef{
		ID:          inst.ID,
		Scenario:    inst.Scenario,
		PhaseIndex:  inst.PhaseIndex,
		Description: phase.Description,
		StartTime:   inst.StartTime,
	}
}

func (d *Director) complete(node *models.Node, inst *models.IncidentInstance, at time.Time) {
	from := node.Status
	inst.Status = models.IncidentCompleted
	inst.EndTime = at
	inst.PhaseIndex = len(inst.Phases) - 1
	restore(node, completeFactor)
	d.emit(models.Event{
		Timestamp:  at,
		Type:       models.EventIncidentCompleted,
		NodeID:     node.ID,
		Service:    node.PrimaryService(),
		Category:   node.Type,
		Zone:       node.Datacenter,
		Severity:   models.SeverityLow,
		FromStatus: from,
		ToStatus:   models.StatusOnline,
		Message:    fmt.Sprintf("%s resolved on %s", inst.Scenario, node.Name),
	})
	d.logger.Info("incident completed", slog.String("incident_id", inst.ID), slog.String("node", node.ID))
}

func (d *Director) resourceOf(inst *models.IncidentInstance) string {
	if s, ok := d.catalog.Get(inst.Scenario); ok {
		return s.Resource
	}
	return ""
}

func (d *Director) emit(ev models.Event) {
	ev.ID = uuid.NewString()
	d.pending = append(d.pending, ev)
}

// trim drops the oldest finished records beyond the retention limit.
func (d *Director) trim() {
	over := len(d.records) - d.retention
	if over <= 0 {
		return
	}
	kept := d.records[:0]
	for _, inst := range d.records {
		if over > 0 && inst.Status != models.IncidentActive {
			delete(d.byID, inst.ID)
			over--
			continue
		}
		kept = append(kept, inst)
	}
	d.records = kept
}

// ShapePhases applies injection options to a phase list: low severity strips
// offline phases, high severity stretches durations by half, and an explicit
// duration rescales the result to sum exactly to it.
func ShapePhases(phases []models.Phase, opts models.InjectOptions) ([]models.Phase, error) {
	if opts.Duration < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidOptions)
	}
	out := make([]models.Phase, 0, len(phases))
	switch opts.Severity {
	case "", models.SeverityOptionHigh, models.SeverityOptionLow:
	default:
		return nil, fmt.Errorf("%w: severity %q", ErrInvalidOptions, opts.Severity)
	}
	for _, p := range phases {
		if opts.Severity == models.SeverityOptionLow && p.Status == models.StatusOffline {
			continue
		}
		if opts.Severity == models.SeverityOptionHigh {
			p.Duration = time.Duration(float64(p.Duration) * 1.5)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoPhases
	}
	if opts.Duration > 0 {
		if opts.Duration < time.Duration(len(out)) {
			return nil, fmt.Errorf("%w: duration %s is shorter than %d phases", ErrInvalidOptions, opts.Duration, len(out))
		}
		rescale(out, opts.Duration)
	}
	return out, nil
}

func rescale(phases []models.Phase, target time.Duration) {
	var total time.Duration
	for _, p := range phases {
		total += p.Duration
	}
	if total <= 0 {
		return
	}
	ratio := float64(target) / float64(total)
	var assigned time.Duration
	for i := range phases {
		if i == len(phases)-1 {
			phases[i].Duration = target - assigned
			break
		}
		// leave at least 1ns for every phase still to be assigned
		limit := target - assigned - time.Duration(len(phases)-1-i)
		d := time.Duration(math.Round(float64(phases[i].Duration) * ratio))
		phases[i].Duration = max(time.Duration(1), min(d, limit))
		assigned += phases[i].Duration
	}
}

func applyEffects(node *models.Node, fx models.NodeMetrics) {
	node.Metrics.CPU = math.Max(node.Metrics.CPU, fx.CPU)
	node.Metrics.Memory = math.Max(node.Metrics.Memory, fx.Memory)
	node.Metrics.NetworkLatency = math.Max(node.Metrics.NetworkLatency, fx.NetworkLatency)
	node.Metrics.StorageIO = math.Max(node.Metrics.StorageIO, fx.StorageIO)
	node.Metrics.DiskUsage = math.Max(node.Metrics.DiskUsage, fx.DiskUsage)
}

func restore(node *models.Node, factor float64) {
	node.Status = models.StatusOnline
	node.CurrentIncident = nil
	node.Metrics.CPU *= factor
	node.Metrics.Memory *= factor
	node.Metrics.NetworkLatency *= factor
}

func severityFor(status models.NodeStatus) models.Severity {
	switch status {
	case models.StatusOffline:
		return models.SeverityCritical
	case models.StatusCritical:
		return models.SeverityHigh
	case models.StatusWarning:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func cloneInstance(inst *models.IncidentInstance) models.IncidentInstance {
	c := *inst
	c.Phases = append([]models.Phase(nil), inst.Phases...)
	return c
}
