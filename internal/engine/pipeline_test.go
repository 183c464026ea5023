package engine

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/patterns"
)

type fakeSource struct {
	events  []models.Event
	series  []models.FleetMetrics
	windows []time.Duration
}

func (f *fakeSource) Events(rng time.Duration) []models.Event {
	f.windows = append(f.windows, rng)
	return f.events
}

func (f *fakeSource) MetricSeries(time.Duration) []models.FleetMetrics {
	return f.series
}

type fakeTopology []models.Application

func (f fakeTopology) Applications() []models.Application { return f }

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func incidentEvents(now time.Time) []models.Event {
	fail := func(at time.Duration, node, service, zone string, typ models.EventType) models.Event {
		return models.Event{Timestamp: now.Add(at), Type: typ, NodeID: node, Service: service, Zone: zone,
			ToStatus: models.StatusCritical, Severity: models.SeverityHigh}
	}
	return []models.Event{
		fail(-4*time.Minute, "db-01", "payments-db", "us-east-1", models.EventStatusChange),
		fail(-3*time.Minute, "app-01", "payment-api", "us-east-1", models.EventStatusChange),
		fail(-2*time.Minute, "gw-01", "api-gateway", "us-east-1", models.EventStatusChange),
		fail(-1*time.Minute, "web-01", "web-frontend", "us-east-1", models.EventStatusChange),
		fail(-30*time.Second, "mq-01", "message-queue", "eu-central-1", models.EventConnectivity),
		fail(-20*time.Second, "web-02", "web-frontend", "us-west-2", models.EventConnectivity),
		fail(0, "app-01", "payment-service", "us-east-1", models.EventTimeout),
	}
}

func TestAnalyzerRanksHypotheses(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	series := make([]models.FleetMetrics, 0, 12)
	for i := 0; i < 12; i++ {
		cpu := 40.0 + float64(i%2)
		if i == 11 {
			cpu = 95
		}
		series = append(series, models.FleetMetrics{Timestamp: now.Add(time.Duration(i-11) * 5 * time.Second), AvgCPU: cpu})
	}
	source := &fakeSource{events: incidentEvents(now), series: series}
	topo := fakeTopology{{Name: "payment-service", Criticality: models.CriticalityCritical,
		Dependencies: []string{"payment-api", "payments-db", "message-queue"}}}

	analyzer := NewAnalyzer(source, topo, nil, NewCausalityEngine(nil), AnalyzerConfig{
		Clock: func() time.Time { return now },
	})
	report, err := analyzer.Analyze(context.Background(), 0)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if source.windows[0] != defaultWindow {
		t.Fatalf("expected default window, got %v", source.windows[0])
	}
	if report.EventCount != 7 {
		t.Fatalf("expected 7 events, got %d", report.EventCount)
	}
	if len(report.Anomalies) != 1 || report.Anomalies[0].Metric != "cpu" {
		t.Fatalf("expected a cpu anomaly, got %+v", report.Anomalies)
	}

	kinds := make([]string, 0, len(report.Hypotheses))
	for i, h := range report.Hypotheses {
		kinds = append(kinds, h.Kind)
		if h.Priority != i+1 {
			t.Fatalf("priority %d at position %d", h.Priority, i)
		}
		if h.ID == "" || h.Remediation.Empty() {
			t.Fatalf("hypothesis missing id or remediation: %+v", h)
		}
		if i > 0 && h.Score > report.Hypotheses[i-1].Score {
			t.Fatalf("hypotheses not ranked by score: %v", kinds)
		}
		if h.Score != h.Confidence*severityWeight(h.Severity) {
			t.Fatalf("score mismatch for %s", h.Kind)
		}
	}
	for _, want := range []string{patterns.KindCascadingFailure, patterns.KindNetworkPartition, KindMetricAnomaly, KindUpstreamDependency} {
		if !contains(kinds, want) {
			t.Fatalf("expected %s in %v", want, kinds)
		}
	}
}

func TestAnalyzerCapsHypotheses(t *testing.T) {
	now := time.Now()
	source := &fakeSource{events: incidentEvents(now)}
	analyzer := NewAnalyzer(source, nil, nil, nil, AnalyzerConfig{MaxHypotheses: 1, Clock: func() time.Time { return now }})
	report, err := analyzer.Analyze(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(report.Hypotheses) != 1 {
		t.Fatalf("expected one hypothesis, got %d", len(report.Hypotheses))
	}
	if report.Window != time.Minute {
		t.Fatalf("window not honoured")
	}
}

func TestAnalyzerPeriodicFailures(t *testing.T) {
	now := time.Now()
	var events []models.Event
	for i := 0; i < 6; i++ {
		events = append(events, models.Event{Timestamp: now.Add(time.Duration(i) * 2 * time.Minute),
			Type: models.EventStatusChange, NodeID: "worker-02", ToStatus: models.StatusWarning})
	}
	analyzer := NewAnalyzer(&fakeSource{events: events}, nil, nil, nil, AnalyzerConfig{})
	report, err := analyzer.Analyze(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(report.Hypotheses) != 1 || report.Hypotheses[0].Kind != KindPeriodicFailure {
		t.Fatalf("expected a periodic hypothesis, got %+v", report.Hypotheses)
	}
}

func TestAnalyzerEmptyAndCancelled(t *testing.T) {
	analyzer := NewAnalyzer(&fakeSource{}, nil, nil, nil, AnalyzerConfig{})
	report, err := analyzer.Analyze(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Hypotheses == nil || len(report.Hypotheses) != 0 {
		t.Fatalf("expected empty, non-nil hypotheses")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := analyzer.Analyze(ctx, time.Minute); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if _, err := NewAnalyzer(nil, nil, nil, nil, AnalyzerConfig{}).Analyze(context.Background(), 0); err == nil {
		t.Fatalf("expected error without a source")
	}
}
