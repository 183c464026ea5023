package engine

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// CausalityEngine checks whether a dependency failed before the application
// that depends on it.
type CausalityEngine struct {
	logger *slog.Logger
}

// CausalityResult captures the outcome of a causality evaluation.
type CausalityResult struct {
	Score            float64
	Notes            []string
	SuggestedService string
	SuggestedAt      time.Time
}

// NewCausalityEngine constructs a CausalityEngine.
func NewCausalityEngine(logger *slog.Logger) *CausalityEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CausalityEngine{logger: logger}
}

// FirstFailures maps each lower-cased service name to its earliest failure.
func FirstFailures(events []models.Event) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, ev := range events {
		if ev.Service == "" || !ev.IsFailure() {
			continue
		}
		key := strings.ToLower(ev.Service)
		if t, ok := out[key]; !ok || ev.Timestamp.Before(t) {
			out[key] = ev.Timestamp
		}
	}
	return out
}

// Evaluate scores how strongly the failing dependencies of app precede its
// own symptom. The symptom is the earliest failure tagged with the
// application name, or else the latest first failure among its dependencies.
// Score lies in [0,1] and is zero without evidence.
func (e *CausalityEngine) Evaluate(app models.Application, failures map[string]time.Time) CausalityResult {
	result := CausalityResult{}
	if app.Name == "" || len(app.Dependencies) == 0 || len(failures) == 0 {
		return result
	}

	type failed struct {
		name string
		at   time.Time
	}
	var deps []failed
	for _, dep := range app.Dependencies {
		if t, ok := failures[strings.ToLower(dep)]; ok {
			deps = append(deps, failed{name: dep, at: t})
		}
	}
	if len(deps) == 0 {
		return result
	}
	sort.SliceStable(deps, func(i, j int) bool { return deps[i].at.Before(deps[j].at) })

	rootTime, direct := failures[strings.ToLower(app.Name)]
	if !direct {
		rootTime = deps[len(deps)-1].at
	}

	supporting := 0
	for _, dep := range deps {
		if dep.at.Before(rootTime) {
			supporting++
			result.Notes = append(result.Notes, dep.name+" precedes "+app.Name+" by "+rootTime.Sub(dep.at).Round(time.Second).String())
			if result.SuggestedService == "" {
				result.SuggestedService = dep.name
				result.SuggestedAt = dep.at
			}
		} else if direct {
			result.Notes = append(result.Notes, dep.name+" occurs after "+app.Name+" degraded")
		}
	}
	if supporting == 0 {
		return result
	}

	score := float64(supporting) / float64(len(deps))
	result.Score = clamp(0.4+0.6*score, 0, 1)
	e.logger.Debug("causality evaluated",
		slog.String("application", app.Name),
		slog.String("suggested", result.SuggestedService),
		slog.Float64("score", result.Score))
	return result
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
