package api

import (
	"fmt"
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// InjectIncidentRequest starts a scenario on a node.
type InjectIncidentRequest struct {
	NodeID   string `json:"nodeId" validate:"required"`
	Scenario string `json:"scenario" validate:"required"`
	Duration string `json:"duration,omitempty"`
	Severity string `json:"severity,omitempty" validate:"omitempty,oneof=high low"`
}

// Options converts the request into injection options.
func (r InjectIncidentRequest) Options() (models.InjectOptions, error) {
	d, err := ParseWindow(r.Duration, 0)
	if err != nil {
		return models.InjectOptions{}, err
	}
	return models.InjectOptions{Duration: d, Severity: r.Severity}, nil
}

// CancelIncidentRequest aborts an active incident.
type CancelIncidentRequest struct {
	IncidentID string `json:"incidentId" validate:"required"`
}

// ListIncidentsRequest filters the incident listing.
type ListIncidentsRequest struct {
	ActiveOnly bool `json:"activeOnly,omitempty"`
}

// ApplicationHealthRequest asks for one application, or all when Application is empty.
type ApplicationHealthRequest struct {
	Application    string `json:"application,omitempty"`
	IncludeHistory bool   `json:"includeHistory,omitempty"`
}

// FleetHealthRequest optionally includes per-node state.
type FleetHealthRequest struct {
	IncludeNodes bool `json:"includeNodes,omitempty"`
}

// TrendRequest selects a fleet metric over a look-back range.
type TrendRequest struct {
	Metric string `json:"metric" validate:"required"`
	Range  string `json:"range,omitempty"`
}

// TimelineRequest selects the look-back range of the event timeline.
type TimelineRequest struct {
	Range string `json:"range,omitempty"`
}

// ExportRequest chooses the export format.
type ExportRequest struct {
	Format string `json:"format,omitempty" validate:"omitempty,oneof=json csv"`
}

// AnalyzeRequest runs root-cause analysis over Window. Refresh bypasses the cache.
type AnalyzeRequest struct {
	Window  string `json:"window,omitempty"`
	Refresh bool   `json:"refresh,omitempty"`
}

// DeploymentRequest records a deployment marker.
type DeploymentRequest struct {
	Service string `json:"service" validate:"required"`
	Version string `json:"version,omitempty"`
	NodeID  string `json:"nodeId,omitempty"`
}

// RegisterRuleRequest adds or replaces a discovery rule.
type RegisterRuleRequest struct {
	Rule models.DiscoveryRule `json:"rule"`
}

// WatchRequest configures a WatchTicks stream.
type WatchRequest struct {
	IncludeNodes bool `json:"includeNodes,omitempty"`
}

// ParseWindow parses a Go duration string, returning fallback when empty.
func ParseWindow(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return d, nil
}
