package simulation

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
)

// DefaultEscalationTicks is how many consecutive over-threshold ticks an
// online node needs before it escalates.
const DefaultEscalationTicks = 2

// Metric walk amplitudes per unit of scaled volatility.
const (
	cpuStep       = 8.0
	memoryStep    = 5.0
	latencyStep   = 15.0
	storageIOStep = 10.0
	diskStep      = 0.5
	reversion     = 0.05
	spikeChance   = 0.02
	spikeCPU      = 20.0
)

// EvolverConfig tunes the organic state machine.
type EvolverConfig struct {
	EscalationTicks int
}

// StepResult is everything an evolution step observed.
type StepResult struct {
	Events       []models.Event
	Alerts       []models.Alert
	Predictions  []models.Prediction
	BusinessLoad float64
}

// Evolver advances node state stochastically. It is driven by a single
// goroutine and is not safe for concurrent use.
type Evolver struct {
	rng     *rand.Rand
	cfg     EvolverConfig
	pending map[string]int
	levels  map[alertKey]models.Severity
}

type alertKey struct {
	node   string
	metric string
}

// NewEvolver constructs an Evolver drawing from rng.
func NewEvolver(rng *rand.Rand, cfg EvolverConfig) *Evolver {
	if cfg.EscalationTicks <= 0 {
		cfg.EscalationTicks = DefaultEscalationTicks
	}
	return &Evolver{
		rng:     rng,
		cfg:     cfg,
		pending: make(map[string]int),
		levels:  make(map[alertKey]models.Severity),
	}
}

// Step evolves every node by dt reference ticks. Nodes carrying an incident
// are left untouched apart from alerting and prediction.
func (e *Evolver) Step(nodes []*models.Node, dt float64, now time.Time) StepResult {
	res := StepResult{BusinessLoad: e.businessFactor(now)}
	for _, n := range nodes {
		if n.Virtual {
			continue
		}
		if n.CurrentIncident == nil {
			if ev, ok := e.transition(n, dt, res.BusinessLoad, now); ok {
				res.Events = append(res.Events, ev)
			}
		} else {
			delete(e.pending, n.ID)
		}
		clampMetrics(&n.Metrics)
		for _, alert := range e.alerts(n, now) {
			res.Alerts = append(res.Alerts, alert)
			res.Events = append(res.Events, alertEvent(n, alert))
		}
		if p, ok := e.predict(n); ok {
			n.Prediction = &p
			res.Predictions = append(res.Predictions, p)
		} else {
			n.Prediction = nil
		}
	}
	return res
}

func (e *Evolver) transition(n *models.Node, dt, business float64, now time.Time) (models.Event, bool) {
	p := personality(n)
	switch n.Status {
	case models.StatusOnline:
		e.walk(n, p, dt, business)
		target := models.ClassifyMetrics(n.Metrics)
		if target == models.StatusOnline {
			delete(e.pending, n.ID)
			return models.Event{}, false
		}
		e.pending[n.ID]++
		if e.pending[n.ID] < e.cfg.EscalationTicks {
			return models.Event{}, false
		}
		delete(e.pending, n.ID)
		return e.setStatus(n, target, now, fmt.Sprintf("%s crossed %s thresholds", n.Name, target)), true

	case models.StatusWarning:
		if !e.chance(e.uniform(0.15, 0.2) * dt * p.RecoveryRate) {
			return models.Event{}, false
		}
		if e.chance(e.uniform(0.6, 0.7)) {
			n.Metrics.CPU *= 0.8
			n.Metrics.Memory *= 0.8
			n.Metrics.NetworkLatency *= 0.8
			return e.setStatus(n, models.StatusOnline, now, n.Name+" recovered"), true
		}
		return e.setStatus(n, models.StatusCritical, now, n.Name+" degraded to critical"), true

	case models.StatusCritical:
		if !e.chance(e.uniform(0.15, 0.25) * dt * p.RecoveryRate) {
			return models.Event{}, false
		}
		resource := dominantResource(n.Metrics)
		factor := e.uniform(0.4, 0.7)
		n.Metrics.CPU *= factor
		n.Metrics.Memory *= factor
		n.Metrics.NetworkLatency *= factor
		n.Metrics.StorageIO *= factor
		n.LastHealed = now
		ev := e.setStatus(n, models.StatusOnline, now, fmt.Sprintf("%s auto-healed (%s)", n.Name, resource))
		ev.Type = models.EventAutoHeal
		ev.Resource = resource
		ev.Remediation = healActions(resource)
		return ev, true
	}
	// offline and maintenance only change through incidents or operators.
	return models.Event{}, false
}

func (e *Evolver) walk(n *models.Node, p models.Personality, dt, business float64) {
	scale := p.Volatility * dt * business * e.environmentFactor(n.Environment) * criticalityFactor(n.Criticality)
	drift := p.DegradationRate * dt * p.LoadSensitivity
	m, base := &n.Metrics, n.Baseline

	m.CPU += e.jitter(cpuStep*scale) + drift + reversion*dt*(base.CPU-m.CPU)
	m.Memory += e.jitter(memoryStep*scale) + drift*0.5 + reversion*dt*(base.Memory-m.Memory)
	m.NetworkLatency += e.jitter(latencyStep*scale) + reversion*dt*(base.NetworkLatency-m.NetworkLatency)
	m.StorageIO += e.jitter(storageIOStep*scale) + reversion*dt*(base.StorageIO-m.StorageIO)
	m.DiskUsage += math.Abs(e.jitter(diskStep*scale))*0.5 + reversion*dt*(base.DiskUsage-m.DiskUsage)*0.1

	if e.chance(p.IncidentProneness * spikeChance * dt * business) {
		m.CPU += spikeCPU * p.LoadSensitivity
	}
	clampMetrics(m)
}

func (e *Evolver) setStatus(n *models.Node, to models.NodeStatus, now time.Time, msg string) models.Event {
	from := n.Status
	n.Status = to
	return models.Event{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Type:       models.EventStatusChange,
		NodeID:     n.ID,
		Service:    n.PrimaryService(),
		Category:   n.Type,
		Zone:       n.Datacenter,
		Resource:   dominantResource(n.Metrics),
		Severity:   statusSeverity(to),
		FromStatus: from,
		ToStatus:   to,
		Message:    msg,
	}
}

// alerts fires only on the tick a metric crosses into a higher level.
func (e *Evolver) alerts(n *models.Node, now time.Time) []models.Alert {
	checks := []struct {
		metric     string
		value      float64
		warn, crit float64
	}{
		{models.ResourceCPU, n.Metrics.CPU, models.WarningUtilisation, models.CriticalUtilisation},
		{models.ResourceMemory, n.Metrics.Memory, models.WarningUtilisation, models.CriticalUtilisation},
		{models.ResourceDisk, n.Metrics.DiskUsage, models.WarningUtilisation, models.CriticalUtilisation},
		{models.ResourceNetwork, n.Metrics.NetworkLatency, models.WarningLatencyMs, models.CriticalLatencyMs},
	}
	var out []models.Alert
	for _, c := range checks {
		key := alertKey{node: n.ID, metric: c.metric}
		level, threshold := models.Severity(""), 0.0
		switch {
		case c.value > c.crit:
			level, threshold = models.SeverityCritical, c.crit
		case c.value > c.warn:
			level, threshold = models.SeverityHigh, c.warn
		}
		prev := e.levels[key]
		if level == "" {
			delete(e.levels, key)
			continue
		}
		e.levels[key] = level
		if rank(level) <= rank(prev) {
			continue
		}
		out = append(out, models.Alert{
			NodeID:    n.ID,
			NodeName:  n.Name,
			Metric:    c.metric,
			Level:     level,
			Value:     c.value,
			Threshold: threshold,
			Timestamp: now,
			Message:   fmt.Sprintf("%s %s %.1f above %.0f", n.Name, c.metric, c.value, threshold),
		})
	}
	return out
}

func (e *Evolver) predict(n *models.Node) (models.Prediction, bool) {
	if n.Status == models.StatusOffline || n.Status == models.StatusMaintenance {
		return models.Prediction{}, false
	}
	p := personality(n)
	var factors []string
	risk := math.Max(n.Metrics.CPU, n.Metrics.Memory) / 100 * 0.5
	if n.Metrics.CPU > models.WarningUtilisation {
		factors = append(factors, "high cpu")
	}
	if n.Metrics.Memory > models.WarningUtilisation {
		factors = append(factors, "high memory")
	}
	risk += math.Min(n.Metrics.NetworkLatency/500, 1) * 0.2
	if n.Metrics.NetworkLatency > models.WarningLatencyMs {
		factors = append(factors, "elevated latency")
	}
	switch n.Status {
	case models.StatusWarning:
		risk += 0.15
		factors = append(factors, "warning state")
	case models.StatusCritical:
		risk += 0.3
		factors = append(factors, "critical state")
	}
	risk += p.IncidentProneness * 0.1
	if n.CurrentIncident != nil {
		risk += 0.1
		factors = append(factors, "active incident")
	}
	risk = math.Max(0, math.Min(1, risk))

	pred := models.Prediction{
		NodeID:     n.ID,
		Risk:       risk,
		Confidence: math.Max(0.3, math.Min(0.95, 0.9-0.2*p.Volatility)),
		Factors:    factors,
	}
	if risk > 0.3 {
		pred.TimeToFailure = time.Duration((1 - risk) * float64(30*time.Minute))
	}
	return pred, true
}

func (e *Evolver) businessFactor(now time.Time) float64 {
	if utils.IsBusinessHours(now) {
		return e.uniform(1.4, 1.6)
	}
	return e.uniform(0.6, 0.8)
}

func (e *Evolver) environmentFactor(env models.Environment) float64 {
	switch env {
	case models.EnvStaging:
		return e.uniform(0.6, 0.7)
	case models.EnvDevelopment:
		return e.uniform(0.4, 0.5)
	case models.EnvDR:
		return e.uniform(0.3, 0.4)
	default:
		return 1.0
	}
}

func criticalityFactor(c models.Criticality) float64 {
	switch c {
	case models.CriticalityCritical:
		return 0.7
	case models.CriticalityHigh:
		return 0.85
	case models.CriticalityLow:
		return 1.1
	default:
		return 1.0
	}
}

func (e *Evolver) uniform(lo, hi float64) float64 {
	return lo + e.rng.Float64()*(hi-lo)
}

func (e *Evolver) jitter(amplitude float64) float64 {
	return (e.rng.Float64()*2 - 1) * amplitude
}

func (e *Evolver) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	return e.rng.Float64() < p
}

func personality(n *models.Node) models.Personality {
	p := n.Personality
	if p.Volatility <= 0 {
		p.Volatility = 1
	}
	if p.RecoveryRate <= 0 {
		p.RecoveryRate = 1
	}
	if p.LoadSensitivity <= 0 {
		p.LoadSensitivity = 1
	}
	return p
}

func clampMetrics(m *models.NodeMetrics) {
	m.CPU = clampRange(m.CPU, 0, 100)
	m.Memory = clampRange(m.Memory, 0, 100)
	m.DiskUsage = clampRange(m.DiskUsage, 0, 100)
	m.NetworkLatency = clampRange(m.NetworkLatency, 0, math.MaxFloat64)
	m.StorageIO = clampRange(m.StorageIO, 0, math.MaxFloat64)
}

func clampRange(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func dominantResource(m models.NodeMetrics) string {
	resource, worst := models.ResourceCPU, m.CPU/models.CriticalUtilisation
	if r := m.Memory / models.CriticalUtilisation; r > worst {
		resource, worst = models.ResourceMemory, r
	}
	if r := m.DiskUsage / models.CriticalUtilisation; r > worst {
		resource, worst = models.ResourceDisk, r
	}
	if r := m.NetworkLatency / models.CriticalLatencyMs; r > worst {
		resource = models.ResourceNetwork
	}
	return resource
}

func healActions(resource string) []string {
	switch resource {
	case models.ResourceMemory:
		return []string{"restarted leaking process", "flushed caches"}
	case models.ResourceDisk:
		return []string{"rotated logs", "purged temp files"}
	case models.ResourceNetwork:
		return []string{"reset connection pool", "failed over network path"}
	default:
		return []string{"throttled batch jobs", "rebalanced load"}
	}
}

func statusSeverity(s models.NodeStatus) models.Severity {
	switch s {
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

func rank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 4
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	}
	return 0
}

func alertEvent(n *models.Node, a models.Alert) models.Event {
	return models.Event{
		ID:        uuid.NewString(),
		Timestamp: a.Timestamp,
		Type:      models.EventThresholdAlert,
		NodeID:    n.ID,
		Service:   n.PrimaryService(),
		Category:  n.Type,
		Zone:      n.Datacenter,
		Resource:  a.Metric,
		Value:     a.Value,
		Severity:  a.Level,
		Message:   a.Message,
	}
}
