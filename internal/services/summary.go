package services

import (
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// TickSummary is the compact view of a frame pushed to watchers and the cache.
type TickSummary struct {
	Tick         uint64                           `json:"tick"`
	Timestamp    time.Time                        `json:"timestamp"`
	Fleet        models.FleetHealth               `json:"fleet"`
	Applications map[string]models.AppHealthPoint `json:"applications"`
	Incidents    []models.IncidentInstance        `json:"incidents"`
	Alerts       []models.Alert                   `json:"alerts"`
	Anomalies    []models.Anomaly                 `json:"anomalies"`
	Events       []models.Event                   `json:"events"`
	Nodes        []*models.Node                   `json:"nodes,omitempty"`
}

// Summarise reduces a frame to its summary. Nodes are only carried when asked for.
func Summarise(frame models.Frame, includeNodes bool) TickSummary {
	apps := make(map[string]models.AppHealthPoint, len(frame.Applications))
	for name, res := range frame.Applications {
		apps[name] = models.AppHealthPoint{Score: res.Score, Status: res.Status}
	}
	out := TickSummary{
		Tick:         frame.Tick,
		Timestamp:    frame.Timestamp,
		Fleet:        frame.Fleet,
		Applications: apps,
		Incidents:    nonNil(frame.Extra.Incidents),
		Alerts:       nonNil(frame.Extra.Alerts),
		Anomalies:    nonNil(frame.Extra.Anomalies),
		Events:       nonNil(frame.Extra.Events),
	}
	if includeNodes {
		out.Nodes = frame.Nodes
	}
	return out
}
