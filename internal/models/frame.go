package models

import "time"

// FleetHealth summarises node status percentages for one tick.
type FleetHealth struct {
	HealthyPct     float64   `json:"healthyPct"`
	WarningPct     float64   `json:"warningPct"`
	CriticalPct    float64   `json:"criticalPct"`
	OfflinePct     float64   `json:"offlinePct"`
	MaintenancePct float64   `json:"maintenancePct"`
	TotalServers   int       `json:"totalServers"`
	Timestamp      time.Time `json:"timestamp"`
}

// FrameExtra carries the side channels delivered with each tick.
type FrameExtra struct {
	Incidents   []IncidentInstance `json:"incidents"`
	Predictions []Prediction       `json:"predictions"`
	Anomalies   []Anomaly          `json:"anomalies"`
	Alerts      []Alert            `json:"alerts"`
	Events      []Event            `json:"events"`
}

// Frame is the consistent (nodes, health, delta) triple handed to the tick callback.
type Frame struct {
	Tick         uint64                  `json:"tick"`
	Timestamp    time.Time               `json:"timestamp"`
	Nodes        []*Node                 `json:"nodes"`
	Fleet        FleetHealth             `json:"fleet"`
	Applications map[string]HealthResult `json:"applications"`
	Extra        FrameExtra              `json:"extra"`
}
