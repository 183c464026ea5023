package models

import "time"

// HealthThresholds are the score floors below which an application degrades.
type HealthThresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
	Failure  float64 `json:"failure"`
}

// ThresholdsFor maps a criticality to its health thresholds. Unknown values get
// the medium profile.
func ThresholdsFor(c Criticality) HealthThresholds {
	switch c {
	case CriticalityCritical:
		return HealthThresholds{Warning: 90, Critical: 75, Failure: 50}
	case CriticalityHigh:
		return HealthThresholds{Warning: 85, Critical: 70, Failure: 45}
	case CriticalityLow:
		return HealthThresholds{Warning: 70, Critical: 50, Failure: 30}
	default:
		return HealthThresholds{Warning: 80, Critical: 60, Failure: 40}
	}
}

// HealthStatus is the classified health of an application.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthFailure  HealthStatus = "failure"
	// HealthUnknown means no node could be resolved; it is distinct from failure.
	HealthUnknown HealthStatus = "unknown"
)

// Classify buckets a score against the thresholds.
func (t HealthThresholds) Classify(score float64) HealthStatus {
	switch {
	case score >= t.Warning:
		return HealthHealthy
	case score >= t.Critical:
		return HealthWarning
	case score >= t.Failure:
		return HealthCritical
	default:
		return HealthFailure
	}
}

// Application is a named service with ordered dependencies.
type Application struct {
	Name         string      `json:"name"`
	Criticality  Criticality `json:"criticality"`
	Dependencies []string    `json:"dependencies"`
}

// Thresholds returns the thresholds derived from the application's criticality.
func (a Application) Thresholds() HealthThresholds {
	return ThresholdsFor(a.Criticality)
}

// HealthRecord is one entry of an application's bounded health history.
type HealthRecord struct {
	Timestamp         time.Time    `json:"timestamp"`
	Score             float64      `json:"score"`
	Status            HealthStatus `json:"status"`
	NodeCount         int          `json:"nodeCount"`
	AvgNodeHealth     float64      `json:"avgNodeHealth"`
	DependencyPenalty float64      `json:"dependencyPenalty"`
}

// NodeHealthDetail is the per-node contribution to an application score.
type NodeHealthDetail struct {
	NodeID     string     `json:"nodeId"`
	Name       string     `json:"name"`
	Dependency string     `json:"dependency"`
	Status     NodeStatus `json:"status"`
	Score      float64    `json:"score"`
	Virtual    bool       `json:"virtual"`
}

// DependencyKind says whether a dependency resolved to nodes or to an application.
type DependencyKind string

const (
	DependencyNodes       DependencyKind = "nodes"
	DependencyApplication DependencyKind = "application"
)

// DependencyHealth summarises one declared dependency.
type DependencyHealth struct {
	Name      string         `json:"name"`
	Kind      DependencyKind `json:"kind"`
	Score     float64        `json:"score"`
	Penalty   float64        `json:"penalty"`
	NodeCount int            `json:"nodeCount"`
	Cycle     bool           `json:"cycle,omitempty"`
}

// HealthResult is the output of an application health computation.
type HealthResult struct {
	Application       string             `json:"application"`
	Score             float64            `json:"score"`
	Status            HealthStatus       `json:"status"`
	Reason            string             `json:"reason"`
	AvgNodeHealth     float64            `json:"avgNodeHealth"`
	DependencyPenalty float64            `json:"dependencyPenalty"`
	NodeDetails       []NodeHealthDetail `json:"nodeDetails"`
	Dependencies      []DependencyHealth `json:"dependencies"`
	ResolvedNodeRefs  []string           `json:"resolvedNodeRefs"`
	Timestamp         time.Time          `json:"timestamp"`
}
