package engine

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

func TestCausalityEngineEvaluate(t *testing.T) {
	engine := NewCausalityEngine(nil)
	now := time.Now()
	events := []models.Event{
		{Service: "payments-db", Type: models.EventStatusChange, ToStatus: models.StatusCritical, Timestamp: now.Add(-2 * time.Minute)},
		{Service: "payment-service", Type: models.EventTimeout, Timestamp: now},
		{Service: "message-queue", Type: models.EventStatusChange, ToStatus: models.StatusOnline, Timestamp: now.Add(-time.Hour)},
	}
	app := models.Application{Name: "payment-service", Dependencies: []string{"payment-api", "payments-db", "message-queue"}}

	res := engine.Evaluate(app, FirstFailures(events))
	if res.Score != 1 {
		t.Fatalf("expected full score for the only failing dependency, got %f", res.Score)
	}
	if res.SuggestedService != "payments-db" {
		t.Fatalf("expected payments-db suggested, got %q", res.SuggestedService)
	}
	if len(res.Notes) != 1 {
		t.Fatalf("expected one note, got %v", res.Notes)
	}
}

func TestCausalityEngineUsesLatestDependencyWithoutDirectSymptom(t *testing.T) {
	engine := NewCausalityEngine(nil)
	now := time.Now()
	failures := map[string]time.Time{
		"payment-api": now,
		"payments-db": now.Add(-time.Minute),
	}
	app := models.Application{Name: "payment-service", Dependencies: []string{"payment-api", "payments-db"}}

	res := engine.Evaluate(app, failures)
	if res.SuggestedService != "payments-db" {
		t.Fatalf("expected payments-db, got %q", res.SuggestedService)
	}
	if res.Score <= 0.4 || res.Score >= 1 {
		t.Fatalf("expected partial support, got %f", res.Score)
	}
}

func TestCausalityEngineNoEvidence(t *testing.T) {
	engine := NewCausalityEngine(nil)
	res := engine.Evaluate(models.Application{Name: "checkout"}, nil)
	if res.Score != 0 {
		t.Fatalf("expected zero score without data")
	}

	single := map[string]time.Time{"payments-db": time.Now()}
	res = engine.Evaluate(models.Application{Name: "payment-service", Dependencies: []string{"payments-db"}}, single)
	if res.Score != 0 || res.SuggestedService != "" {
		t.Fatalf("a lone failing dependency cannot precede itself: %+v", res)
	}
}
