package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-fleetsim/internal/extractors"
	"github.com/miradorstack/mirador-fleetsim/internal/metrics"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/patterns"
)

var tracer = otel.Tracer("fleetsim.engine")

// Hypothesis kinds produced outside the pattern detectors.
const (
	KindMetricAnomaly      = "metric_anomaly"
	KindPeriodicFailure    = "periodic_failure"
	KindUpstreamDependency = "upstream_dependency"
)

const (
	defaultWindow        = 30 * time.Minute
	defaultMaxHypotheses = 10
)

// EventSource provides the bounded history an analysis reads.
type EventSource interface {
	Events(rng time.Duration) []models.Event
	MetricSeries(rng time.Duration) []models.FleetMetrics
}

// Topology lists the applications whose dependencies are checked for causality.
type Topology interface {
	Applications() []models.Application
}

// AnalyzerConfig tunes an Analyzer.
type AnalyzerConfig struct {
	Window           time.Duration
	MaxHypotheses    int
	AnomalyThreshold float64
	Detectors        []patterns.Detector
	Clock            func() time.Time
	Logger           *slog.Logger
}

// Analyzer turns the recent event stream into ranked root-cause hypotheses.
type Analyzer struct {
	logger      *slog.Logger
	source      EventSource
	topology    Topology
	detectors   []patterns.Detector
	metrics     *extractors.MetricExtractor
	periodicity *extractors.PeriodicityDetector
	rules       *RuleEngine
	causality   *CausalityEngine
	window      time.Duration
	max         int
	clock       func() time.Time
}

// NewAnalyzer constructs an Analyzer. topology, rules and causality may be
// nil; detectors default to the built-in set.
func NewAnalyzer(source EventSource, topology Topology, rules *RuleEngine, causality *CausalityEngine, cfg AnalyzerConfig) *Analyzer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxHypotheses <= 0 {
		cfg.MaxHypotheses = defaultMaxHypotheses
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Detectors == nil {
		cfg.Detectors = patterns.Builtin()
	}
	return &Analyzer{
		logger:      logger,
		source:      source,
		topology:    topology,
		detectors:   cfg.Detectors,
		metrics:     extractors.NewMetricExtractor(cfg.AnomalyThreshold),
		periodicity: extractors.NewPeriodicityDetector(),
		rules:       rules,
		causality:   causality,
		window:      cfg.Window,
		max:         cfg.MaxHypotheses,
		clock:       cfg.Clock,
	}
}

// Window returns the default analysis window.
func (a *Analyzer) Window() time.Duration {
	return a.window
}

// Analyze inspects the last window of history. A non-positive window selects
// the configured default.
func (a *Analyzer) Analyze(ctx context.Context, window time.Duration) (models.RCAReport, error) {
	if window <= 0 {
		window = a.window
	}
	ctx, span := tracer.Start(ctx, "rca.analyze", trace.WithAttributes(
		attribute.String("rca.window", window.String()),
	))
	defer span.End()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis cancelled")
		metrics.ObserveAnalysis(time.Since(start), metrics.OutcomeError, nil)
		return models.RCAReport{}, fmt.Errorf("analyze: %w", err)
	}
	if a.source == nil {
		err := fmt.Errorf("analyze: no event source configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveAnalysis(time.Since(start), metrics.OutcomeError, nil)
		return models.RCAReport{}, err
	}

	now := a.clock()
	events := a.source.Events(window)
	series := a.source.MetricSeries(window)

	var hypotheses []models.Hypothesis
	for _, f := range patterns.Run(events, now, a.detectors...) {
		hypotheses = append(hypotheses, models.Hypothesis{
			Type:          models.HypothesisPattern,
			Kind:          f.Kind,
			Title:         f.Title,
			Confidence:    f.Confidence,
			Severity:      f.Severity,
			Evidence:      f.Evidence,
			AffectedNodes: f.Nodes,
			Services:      f.Services,
		})
	}

	anomalies := a.metrics.DetectFleet(series)
	for _, anomaly := range anomalies {
		hypotheses = append(hypotheses, anomalyHypothesis(anomaly, a.metrics.Threshold()))
	}
	if h, ok := a.periodicHypothesis(events); ok {
		hypotheses = append(hypotheses, h)
	}
	hypotheses = append(hypotheses, a.causalHypotheses(events)...)

	for i := range hypotheses {
		h := &hypotheses[i]
		h.ID = uuid.NewString()
		h.CreatedAt = now
		h.Confidence = clamp(h.Confidence, 0, 1)
		h.Score = h.Confidence * severityWeight(h.Severity)
		h.Remediation = a.rules.Recommend(*h)
	}
	rank(hypotheses)
	if len(hypotheses) > a.max {
		hypotheses = hypotheses[:a.max]
	}

	report := models.RCAReport{
		ID:          uuid.NewString(),
		Window:      window,
		EventCount:  len(events),
		Hypotheses:  hypotheses,
		Anomalies:   anomalies,
		GeneratedAt: now,
		Duration:    time.Since(start),
	}
	if report.Hypotheses == nil {
		report.Hypotheses = []models.Hypothesis{}
	}

	span.SetAttributes(
		attribute.Int("rca.events", len(events)),
		attribute.Int("rca.hypotheses", len(report.Hypotheses)),
	)
	metrics.ObserveAnalysis(report.Duration, metrics.OutcomeSuccess, report.Hypotheses)
	a.logger.Debug("analysis complete",
		slog.String("report_id", report.ID),
		slog.Int("events", report.EventCount),
		slog.Int("hypotheses", len(report.Hypotheses)),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func anomalyHypothesis(anomaly models.Anomaly, threshold float64) models.Hypothesis {
	z := math.Abs(anomaly.ZScore)
	direction := "spike"
	if anomaly.ZScore < 0 {
		direction = "drop"
	}
	return models.Hypothesis{
		Type:       models.HypothesisAnomaly,
		Kind:       KindMetricAnomaly,
		Title:      fmt.Sprintf("Fleet %s %s", anomaly.Metric, direction),
		Confidence: math.Min(0.95, 0.5+0.1*(z-threshold)),
		Severity:   severityFromScore(z),
		Evidence: []string{
			fmt.Sprintf("%s at %.2f against trailing mean %.2f (z=%.1f)", anomaly.Metric, anomaly.Value, anomaly.Mean, anomaly.ZScore),
		},
	}
}

func (a *Analyzer) periodicHypothesis(events []models.Event) (models.Hypothesis, bool) {
	var stamps []time.Time
	nodes := make(map[string]struct{})
	var affected []string
	for _, ev := range events {
		if !ev.IsFailure() {
			continue
		}
		stamps = append(stamps, ev.Timestamp)
		if _, seen := nodes[ev.NodeID]; ev.NodeID != "" && !seen {
			nodes[ev.NodeID] = struct{}{}
			affected = append(affected, ev.NodeID)
		}
	}
	p, ok := a.periodicity.Detect(stamps)
	if !ok {
		return models.Hypothesis{}, false
	}
	return models.Hypothesis{
		Type:       models.HypothesisPattern,
		Kind:       KindPeriodicFailure,
		Title:      fmt.Sprintf("Failures recur every %s, likely a scheduled job", p.Interval.Round(time.Second)),
		Confidence: p.Confidence,
		Severity:   models.SeverityMedium,
		Evidence: []string{
			fmt.Sprintf("%.0f%% of %d intervals fall near %s", p.Share*100, p.Intervals, p.Interval.Round(time.Second)),
		},
		AffectedNodes: affected,
	}, true
}

func (a *Analyzer) causalHypotheses(events []models.Event) []models.Hypothesis {
	if a.causality == nil || a.topology == nil {
		return nil
	}
	failures := FirstFailures(events)
	if len(failures) < 2 {
		return nil
	}
	var out []models.Hypothesis
	for _, app := range a.topology.Applications() {
		res := a.causality.Evaluate(app, failures)
		if res.SuggestedService == "" {
			continue
		}
		out = append(out, models.Hypothesis{
			Type:       models.HypothesisCorrelation,
			Kind:       KindUpstreamDependency,
			Title:      fmt.Sprintf("%s failure precedes %s degradation", res.SuggestedService, app.Name),
			Confidence: res.Score,
			Severity:   criticalitySeverity(app.Criticality),
			Evidence:   res.Notes,
			Services:   []string{res.SuggestedService, app.Name},
		})
	}
	return out
}

// rank orders hypotheses by confidence x severity weight and assigns
// priorities starting at 1.
func rank(hypotheses []models.Hypothesis) {
	sort.SliceStable(hypotheses, func(i, j int) bool {
		if hypotheses[i].Score != hypotheses[j].Score {
			return hypotheses[i].Score > hypotheses[j].Score
		}
		return hypotheses[i].Confidence > hypotheses[j].Confidence
	})
	for i := range hypotheses {
		hypotheses[i].Priority = i + 1
	}
}

func severityWeight(s models.Severity) float64 {
	switch s {
	case models.SeverityCritical:
		return 1.0
	case models.SeverityHigh:
		return 0.8
	case models.SeverityMedium:
		return 0.6
	default:
		return 0.4
	}
}

func severityFromScore(score float64) models.Severity {
	switch {
	case score >= 5:
		return models.SeverityCritical
	case score >= 4:
		return models.SeverityHigh
	case score >= 3:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func criticalitySeverity(c models.Criticality) models.Severity {
	switch c {
	case models.CriticalityCritical:
		return models.SeverityCritical
	case models.CriticalityHigh:
		return models.SeverityHigh
	case models.CriticalityLow:
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}
