package topology

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

const (
	// MaxDependencyPenalty caps the summed penalty from unhealthy dependencies.
	MaxDependencyPenalty = 50.0
	dependencyBaseline   = 80.0
	dependencyWeight     = 0.3
	defaultHistoryLimit  = 100
)

// ErrUnknownApplication is returned for names absent from the graph.
var ErrUnknownApplication = errors.New("unknown application")

// Resolver maps a logical dependency onto nodes.
type Resolver interface {
	Resolve(service string, candidates []*models.Node) []*models.Node
}

// NodeSource exposes the live fleet to the aggregator.
type NodeSource interface {
	Nodes() []*models.Node
	Node(id string) (*models.Node, bool)
}

// AggregatorConfig tunes caching and history retention.
type AggregatorConfig struct {
	ResolutionTTL time.Duration
	HistoryLimit  int
	Clock         func() time.Time
	Logger        *slog.Logger
}

// Aggregator computes application health from resolved nodes and recursive
// dependency penalties.
type Aggregator struct {
	graph    *Graph
	resolver Resolver
	source   NodeSource
	cfg      AggregatorConfig
	logger   *slog.Logger

	mu      sync.Mutex
	cache   map[string]resolution
	history map[string][]models.HealthRecord
}

type resolution struct {
	at    time.Time
	byDep map[string][]cachedNode
}

type cachedNode struct {
	id      string
	virtual *models.Node
}

// NewAggregator constructs an Aggregator.
func NewAggregator(graph *Graph, resolver Resolver, source NodeSource, cfg AggregatorConfig) *Aggregator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		graph:    graph,
		resolver: resolver,
		source:   source,
		cfg:      cfg,
		logger:   logger,
		cache:    make(map[string]resolution),
		history:  make(map[string][]models.HealthRecord),
	}
}

// ComputeApplicationHealth scores one application and appends the result to
// its bounded health history.
func (a *Aggregator) ComputeApplicationHealth(name string) (models.HealthResult, error) {
	app, ok := a.graph.Application(name)
	if !ok {
		return models.HealthResult{}, fmt.Errorf("%w: %s", ErrUnknownApplication, name)
	}
	now := a.cfg.Clock()
	walk := &walk{
		visiting: make(map[string]struct{}),
		done:     make(map[string]models.HealthResult),
		now:      now,
	}
	result := a.compute(app, walk)
	a.record(app, result)
	return result, nil
}

// ComputeAll scores every application.
func (a *Aggregator) ComputeAll() map[string]models.HealthResult {
	apps := a.graph.Applications()
	out := make(map[string]models.HealthResult, len(apps))
	for _, app := range apps {
		res, err := a.ComputeApplicationHealth(app.Name)
		if err != nil {
			continue
		}
		out[app.Name] = res
	}
	return out
}

// HealthHistory returns a copy of an application's recorded health.
func (a *Aggregator) HealthHistory(name string) []models.HealthRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.HealthRecord(nil), a.history[strings.ToLower(name)]...)
}

// InvalidateResolutions drops cached dependency resolutions, e.g. after
// discovery rules change.
func (a *Aggregator) InvalidateResolutions() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string]resolution)
}

// walk is the per-top-level-call recursion state. visiting holds the current
// path; done memoises finished applications.
type walk struct {
	visiting map[string]struct{}
	done     map[string]models.HealthResult
	now      time.Time
}

func (a *Aggregator) compute(app models.Application, w *walk) models.HealthResult {
	key := strings.ToLower(app.Name)
	if res, ok := w.done[key]; ok {
		return res
	}
	w.visiting[key] = struct{}{}
	defer delete(w.visiting, key)

	result := models.HealthResult{
		Application:      app.Name,
		Timestamp:        w.now,
		NodeDetails:      make([]models.NodeHealthDetail, 0),
		Dependencies:     make([]models.DependencyHealth, 0, len(app.Dependencies)),
		ResolvedNodeRefs: make([]string, 0),
	}

	var (
		scoreSum float64
		count    int
		degraded int
		penalty  float64
	)
	for _, dep := range app.Dependencies {
		nodes := a.resolve(app, dep, w.now)
		dh := models.DependencyHealth{Name: dep, Kind: models.DependencyNodes, NodeCount: len(nodes)}
		var depSum float64
		for _, node := range nodes {
			score := NodeScore(node)
			depSum += score
			scoreSum += score
			count++
			if node.Status != models.StatusOnline && node.Status != models.StatusUnknown {
				degraded++
			}
			result.NodeDetails = append(result.NodeDetails, models.NodeHealthDetail{
				NodeID:     node.ID,
				Name:       node.Name,
				Dependency: dep,
				Status:     node.Status,
				Score:      score,
				Virtual:    node.Virtual,
			})
			result.ResolvedNodeRefs = append(result.ResolvedNodeRefs, node.ID)
		}
		if len(nodes) > 0 {
			dh.Score = depSum / float64(len(nodes))
		}

		depApp, isApp := a.graph.Application(dep)
		if !isApp {
			result.Dependencies = append(result.Dependencies, dh)
			continue
		}

		// An application dependency still contributes its resolved nodes to
		// the average; its own health only drives the penalty.
		dh.Kind = models.DependencyApplication
		if _, cyclic := w.visiting[strings.ToLower(depApp.Name)]; cyclic {
			dh.Cycle = true
			a.logger.Debug("application dependency cycle", slog.String("app", app.Name), slog.String("dependency", dep))
			result.Dependencies = append(result.Dependencies, dh)
			continue
		}
		sub := a.compute(depApp, w)
		dh.Score = sub.Score
		if sub.Status == models.HealthUnknown {
			result.Dependencies = append(result.Dependencies, dh)
			continue
		}
		contribution := math.Max(0, dependencyBaseline-sub.Score) * dependencyWeight
		contribution = math.Min(contribution, MaxDependencyPenalty-penalty)
		dh.Penalty = math.Max(0, contribution)
		penalty += dh.Penalty
		result.Dependencies = append(result.Dependencies, dh)
	}

	if count == 0 {
		result.Status = models.HealthUnknown
		result.Score = 0
		result.Reason = "no nodes resolved for any dependency"
		w.done[key] = result
		return result
	}

	penalty = clamp(penalty, 0, MaxDependencyPenalty)
	avg := clamp(scoreSum/float64(count), 0, 100)
	result.AvgNodeHealth = avg
	result.DependencyPenalty = penalty
	result.Score = clamp(avg-penalty, 0, 100)
	result.Status = app.Thresholds().Classify(result.Score)
	result.Reason = reason(result, degraded, count)

	w.done[key] = result
	return result
}

func (a *Aggregator) resolve(app models.Application, dep string, now time.Time) []*models.Node {
	appKey := strings.ToLower(app.Name)
	depKey := strings.ToLower(dep)

	a.mu.Lock()
	cached, ok := a.cache[appKey]
	fresh := ok && a.cfg.ResolutionTTL > 0 && now.Sub(cached.at) < a.cfg.ResolutionTTL
	entries, hasDep := cached.byDep[depKey]
	a.mu.Unlock()

	if fresh && hasDep {
		if nodes, ok := a.materialise(entries); ok {
			return nodes
		}
	}

	nodes := a.resolver.Resolve(dep, a.source.Nodes())
	entries = make([]cachedNode, 0, len(nodes))
	for _, n := range nodes {
		if n.Virtual {
			entries = append(entries, cachedNode{id: n.ID, virtual: n})
			continue
		}
		entries = append(entries, cachedNode{id: n.ID})
	}

	a.mu.Lock()
	cached, ok = a.cache[appKey]
	if !ok || !fresh {
		cached = resolution{at: now, byDep: make(map[string][]cachedNode)}
	}
	cached.byDep[depKey] = entries
	a.cache[appKey] = cached
	a.mu.Unlock()

	return nodes
}

// materialise maps cached IDs back to live nodes. A vanished node invalidates
// the entry.
func (a *Aggregator) materialise(entries []cachedNode) ([]*models.Node, bool) {
	nodes := make([]*models.Node, 0, len(entries))
	for _, e := range entries {
		if e.virtual != nil {
			nodes = append(nodes, e.virtual)
			continue
		}
		n, ok := a.source.Node(e.id)
		if !ok {
			return nil, false
		}
		nodes = append(nodes, n)
	}
	return nodes, true
}

func (a *Aggregator) record(app models.Application, res models.HealthResult) {
	key := strings.ToLower(app.Name)
	rec := models.HealthRecord{
		Timestamp:         res.Timestamp,
		Score:             res.Score,
		Status:            res.Status,
		NodeCount:         len(res.ResolvedNodeRefs),
		AvgNodeHealth:     res.AvgNodeHealth,
		DependencyPenalty: res.DependencyPenalty,
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	hist := append(a.history[key], rec)
	if over := len(hist) - a.cfg.HistoryLimit; over > 0 {
		hist = append([]models.HealthRecord(nil), hist[over:]...)
	}
	a.history[key] = hist
}

// NodeScore converts a node's status and metrics into a [0,100] score.
func NodeScore(n *models.Node) float64 {
	if n == nil {
		return 0
	}
	score := statusScore(n.Status)
	score -= 0.5 * excess(n.Metrics.CPU, 80)
	score -= 0.5 * excess(n.Metrics.Memory, 80)
	score -= 0.1 * excess(n.Metrics.NetworkLatency, 200)
	return clamp(score, 0, 100)
}

func statusScore(status models.NodeStatus) float64 {
	switch status {
	case models.StatusOffline:
		return 0
	case models.StatusCritical:
		return 20
	case models.StatusWarning:
		return 60
	case models.StatusMaintenance:
		return 80
	default:
		return 100
	}
}

func excess(value, threshold float64) float64 {
	value = finite(value)
	if value <= threshold {
		return 0
	}
	return value - threshold
}

func reason(res models.HealthResult, degraded, total int) string {
	parts := make([]string, 0, 2)
	if degraded > 0 {
		parts = append(parts, fmt.Sprintf("%d of %d nodes degraded", degraded, total))
	} else {
		parts = append(parts, fmt.Sprintf("all %d nodes online", total))
	}
	if res.DependencyPenalty > 0 {
		parts = append(parts, fmt.Sprintf("dependency penalty %.1f", res.DependencyPenalty))
	}
	for _, dep := range res.Dependencies {
		if dep.Cycle {
			parts = append(parts, "dependency cycle via "+dep.Name)
		}
	}
	return strings.Join(parts, "; ")
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(value, min, max float64) float64 {
	value = finite(value)
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
