package history

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
)

var (
	ErrUnknownMetric     = errors.New("unknown trend metric")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

const (
	DefaultLimit = 1000

	cpuDeltaThreshold     = 10.0
	memoryDeltaThreshold  = 10.0
	latencyDeltaThreshold = 50.0
)

// Trend metric names accepted by HistoricalTrend.
const (
	MetricCPU            = "cpu"
	MetricMemory         = "memory"
	MetricNetworkLatency = "networkLatency"
	MetricStorageIO      = "storageIO"
	MetricDiskUsage      = "diskUsage"
	MetricSystemHealthy  = "systemHealthy"
	MetricBusinessLoad   = "businessLoad"
)

// CSVHeader is the fixed column set of the CSV export.
var CSVHeader = []string{"timestamp", "avgCpuUsage", "avgMemoryUsage", "avgNetworkLatency", "systemHealthy", "businessLoad"}

// Limits bounds each ring.
type Limits struct {
	Snapshots int
	Metrics   int
	AppHealth int
}

// Tick is the input captured once per simulation step.
type Tick struct {
	Timestamp    time.Time
	Nodes        []*models.Node
	Applications map[string]models.HealthResult
	Events       []models.Event
	BusinessLoad float64
}

// Recorder keeps three bounded rings: sparse node deltas (with the tick's
// events), dense fleet metrics and application health.
type Recorder struct {
	mu        sync.RWMutex
	snapshots *Ring[models.HistorySnapshot]
	metrics   *Ring[models.FleetMetrics]
	appHealth *Ring[models.AppHealthSnapshot]
	prev      map[string]nodeState
	latest    time.Time
}

type nodeState struct {
	status  models.NodeStatus
	metrics models.NodeMetrics
}

// NewRecorder constructs a Recorder; zero limits use DefaultLimit.
func NewRecorder(limits Limits) *Recorder {
	if limits.Snapshots <= 0 {
		limits.Snapshots = DefaultLimit
	}
	if limits.Metrics <= 0 {
		limits.Metrics = DefaultLimit
	}
	if limits.AppHealth <= 0 {
		limits.AppHealth = DefaultLimit
	}
	return &Recorder{
		snapshots: NewRing[models.HistorySnapshot](limits.Snapshots),
		metrics:   NewRing[models.FleetMetrics](limits.Metrics),
		appHealth: NewRing[models.AppHealthSnapshot](limits.AppHealth),
		prev:      make(map[string]nodeState),
	}
}

// Capture records one tick and returns the sparse snapshot it produced.
func (r *Recorder) Capture(tick Tick) models.HistorySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := models.HistorySnapshot{
		Timestamp: tick.Timestamp,
		Deltas:    r.diff(tick.Nodes),
		Events:    append([]models.Event(nil), tick.Events...),
	}
	r.snapshots.Push(snap)
	r.metrics.Push(fleetMetrics(tick))

	points := make(map[string]models.AppHealthPoint, len(tick.Applications))
	for name, res := range tick.Applications {
		points[name] = models.AppHealthPoint{Score: res.Score, Status: res.Status}
	}
	r.appHealth.Push(models.AppHealthSnapshot{Timestamp: tick.Timestamp, Applications: points})

	if tick.Timestamp.After(r.latest) {
		r.latest = tick.Timestamp
	}
	return snap
}

func (r *Recorder) diff(nodes []*models.Node) []models.NodeDelta {
	deltas := make([]models.NodeDelta, 0)
	current := make(map[string]nodeState, len(nodes))
	for _, n := range nodes {
		if n == nil || n.Virtual {
			continue
		}
		state := nodeState{status: n.Status, metrics: n.Metrics}
		current[n.ID] = state
		prev, seen := r.prev[n.ID]
		switch {
		case !seen:
			deltas = append(deltas, models.NodeDelta{NodeID: n.ID, Kind: models.DeltaNew, Status: n.Status, Metrics: n.Metrics})
		case prev.status != n.Status:
			deltas = append(deltas, models.NodeDelta{NodeID: n.ID, Kind: models.DeltaStatusChange, FromStatus: prev.status, Status: n.Status, Metrics: n.Metrics})
		case significant(prev.metrics, n.Metrics):
			deltas = append(deltas, models.NodeDelta{NodeID: n.ID, Kind: models.DeltaMetricsChange, Status: n.Status, Metrics: n.Metrics})
		}
	}
	r.prev = current
	return deltas
}

func significant(a, b models.NodeMetrics) bool {
	return math.Abs(a.CPU-b.CPU) > cpuDeltaThreshold ||
		math.Abs(a.Memory-b.Memory) > memoryDeltaThreshold ||
		math.Abs(a.NetworkLatency-b.NetworkLatency) > latencyDeltaThreshold
}

func fleetMetrics(tick Tick) models.FleetMetrics {
	fm := models.FleetMetrics{
		Timestamp:    tick.Timestamp,
		BusinessLoad: tick.BusinessLoad,
		ByType:       make(map[string]models.MetricAverages),
		ByDatacenter: make(map[string]models.MetricAverages),
	}
	var all models.MetricAverages
	online := 0
	for _, n := range tick.Nodes {
		if n == nil || n.Virtual {
			continue
		}
		accumulate(&all, n.Metrics)
		t := fm.ByType[n.Type]
		accumulate(&t, n.Metrics)
		fm.ByType[n.Type] = t
		dc := fm.ByDatacenter[n.Datacenter]
		accumulate(&dc, n.Metrics)
		fm.ByDatacenter[n.Datacenter] = dc
		if n.Status == models.StatusOnline {
			online++
		}
	}
	if all.Count == 0 {
		return fm
	}
	all = average(all)
	fm.AvgCPU = all.CPU
	fm.AvgMemory = all.Memory
	fm.AvgNetworkLatency = all.NetworkLatency
	fm.AvgStorageIO = all.StorageIO
	fm.AvgDiskUsage = all.DiskUsage
	fm.SystemHealthy = float64(online) / float64(all.Count) * 100
	for k, v := range fm.ByType {
		fm.ByType[k] = average(v)
	}
	for k, v := range fm.ByDatacenter {
		fm.ByDatacenter[k] = average(v)
	}
	return fm
}

func accumulate(m *models.MetricAverages, v models.NodeMetrics) {
	m.Count++
	m.CPU += v.CPU
	m.Memory += v.Memory
	m.NetworkLatency += v.NetworkLatency
	m.StorageIO += v.StorageIO
	m.DiskUsage += v.DiskUsage
}

func average(m models.MetricAverages) models.MetricAverages {
	if m.Count == 0 {
		return m
	}
	n := float64(m.Count)
	m.CPU /= n
	m.Memory /= n
	m.NetworkLatency /= n
	m.StorageIO /= n
	m.DiskUsage /= n
	return m
}

// HistoricalTrend returns one fleet metric over the trailing range, oldest
// first. A non-positive range returns the whole ring.
func (r *Recorder) HistoricalTrend(metric string, rng time.Duration) ([]models.TrendPoint, error) {
	pick, ok := trendSelectors[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}
	series := r.MetricSeries(rng)
	out := make([]models.TrendPoint, 0, len(series))
	for _, fm := range series {
		out = append(out, models.TrendPoint{Timestamp: fm.Timestamp, Value: pick(fm)})
	}
	return out, nil
}

var trendSelectors = map[string]func(models.FleetMetrics) float64{
	MetricCPU:            func(m models.FleetMetrics) float64 { return m.AvgCPU },
	MetricMemory:         func(m models.FleetMetrics) float64 { return m.AvgMemory },
	MetricNetworkLatency: func(m models.FleetMetrics) float64 { return m.AvgNetworkLatency },
	MetricStorageIO:      func(m models.FleetMetrics) float64 { return m.AvgStorageIO },
	MetricDiskUsage:      func(m models.FleetMetrics) float64 { return m.AvgDiskUsage },
	MetricSystemHealthy:  func(m models.FleetMetrics) float64 { return m.SystemHealthy },
	MetricBusinessLoad:   func(m models.FleetMetrics) float64 { return m.BusinessLoad },
}

// TrendMetrics lists the accepted trend metric names.
func TrendMetrics() []string {
	out := make([]string, 0, len(trendSelectors))
	for k := range trendSelectors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MetricSeries returns dense fleet metrics within the trailing range.
func (r *Recorder) MetricSeries(rng time.Duration) []models.FleetMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.FleetMetrics, 0, r.metrics.Len())
	for _, fm := range r.metrics.Items() {
		if utils.WithinRange(fm.Timestamp, r.latest, rng) {
			out = append(out, fm)
		}
	}
	return out
}

// Events returns the events captured within the trailing range, oldest first.
func (r *Recorder) Events(rng time.Duration) []models.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Event, 0)
	for _, snap := range r.snapshots.Items() {
		if !utils.WithinRange(snap.Timestamp, r.latest, rng) {
			continue
		}
		out = append(out, snap.Events...)
	}
	return out
}

// EventTimeline merges deltas and events within the range, newest first.
func (r *Recorder) EventTimeline(rng time.Duration) []models.TimelineEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.TimelineEntry, 0)
	for _, snap := range r.snapshots.Items() {
		if !utils.WithinRange(snap.Timestamp, r.latest, rng) {
			continue
		}
		for _, d := range snap.Deltas {
			out = append(out, models.TimelineEntry{
				Timestamp: snap.Timestamp,
				Kind:      string(d.Kind),
				NodeID:    d.NodeID,
				Status:    d.Status,
				Message:   deltaMessage(d),
			})
		}
		for _, ev := range snap.Events {
			out = append(out, models.TimelineEntry{
				Timestamp: ev.Timestamp,
				Kind:      string(ev.Type),
				NodeID:    ev.NodeID,
				Status:    ev.ToStatus,
				Message:   ev.Message,
				Severity:  ev.Severity,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func deltaMessage(d models.NodeDelta) string {
	switch d.Kind {
	case models.DeltaNew:
		return fmt.Sprintf("%s joined as %s", d.NodeID, d.Status)
	case models.DeltaStatusChange:
		return fmt.Sprintf("%s %s -> %s", d.NodeID, d.FromStatus, d.Status)
	default:
		return fmt.Sprintf("%s metrics cpu=%.1f mem=%.1f latency=%.0fms", d.NodeID, d.Metrics.CPU, d.Metrics.Memory, d.Metrics.NetworkLatency)
	}
}

// Snapshots returns the sparse ring, oldest first.
func (r *Recorder) Snapshots() []models.HistorySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshots.Items()
}

// AppHealth returns the application health ring, oldest first.
func (r *Recorder) AppHealth() []models.AppHealthSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.appHealth.Items()
}

// Latest returns the newest fleet metrics.
func (r *Recorder) Latest() (models.FleetMetrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics.Last()
}

// Sizes reports how many entries each ring holds.
func (r *Recorder) Sizes() (snapshots, metrics, appHealth int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshots.Len(), r.metrics.Len(), r.appHealth.Len()
}

// ExportDocument is the JSON export document.
type ExportDocument struct {
	ExportedAt        time.Time                  `json:"exportedAt"`
	Snapshots         []models.HistorySnapshot   `json:"snapshots"`
	FleetMetrics      []models.FleetMetrics      `json:"fleetMetrics"`
	ApplicationHealth []models.AppHealthSnapshot `json:"applicationHealth"`
}

// Export renders the recorded history as "json" or "csv".
func (r *Recorder) Export(format string) ([]byte, error) {
	switch format {
	case "json":
		r.mu.RLock()
		doc := ExportDocument{
			ExportedAt:        r.latest,
			Snapshots:         r.snapshots.Items(),
			FleetMetrics:      r.metrics.Items(),
			ApplicationHealth: r.appHealth.Items(),
		}
		r.mu.RUnlock()
		return json.MarshalIndent(doc, "", "  ")
	case "csv":
		return r.exportCSV()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func (r *Recorder) exportCSV() ([]byte, error) {
	series := r.MetricSeries(0)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, fm := range series {
		row := []string{
			fm.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(fm.AvgCPU),
			formatFloat(fm.AvgMemory),
			formatFloat(fm.AvgNetworkLatency),
			formatFloat(fm.SystemHealthy),
			formatFloat(fm.BusinessLoad),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
