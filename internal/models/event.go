package models

import "time"

// EventType categorises entries of the simulation event stream.
type EventType string

const (
	EventStatusChange      EventType = "status_change"
	EventThresholdAlert    EventType = "threshold_alert"
	EventAutoHeal          EventType = "auto_heal"
	EventIncidentInjected  EventType = "incident_injected"
	EventIncidentPhase     EventType = "incident_phase"
	EventIncidentCompleted EventType = "incident_completed"
	EventIncidentCancelled EventType = "incident_cancelled"
	EventDeployment        EventType = "deployment"
	EventConnectivity      EventType = "connectivity"
	EventTimeout           EventType = "timeout"
)

// Resource names used across events and alerts.
const (
	ResourceCPU     = "cpu"
	ResourceMemory  = "memory"
	ResourceDisk    = "disk"
	ResourceNetwork = "network"
	ResourceStorage = "storage"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one entry of the stream consumed by root-cause analysis.
type Event struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Type        EventType  `json:"type"`
	NodeID      string     `json:"nodeId,omitempty"`
	Service     string     `json:"service,omitempty"`
	Category    string     `json:"category,omitempty"`
	Zone        string     `json:"zone,omitempty"`
	Resource    string     `json:"resource,omitempty"`
	Value       float64    `json:"value,omitempty"`
	Severity    Severity   `json:"severity"`
	FromStatus  NodeStatus `json:"fromStatus,omitempty"`
	ToStatus    NodeStatus `json:"toStatus,omitempty"`
	Message     string     `json:"message"`
	Remediation []string   `json:"remediation,omitempty"`
}

// IsFailure reports whether the event signals degradation rather than recovery.
func (e Event) IsFailure() bool {
	switch e.Type {
	case EventStatusChange:
		return e.ToStatus == StatusWarning || e.ToStatus == StatusCritical || e.ToStatus == StatusOffline
	case EventIncidentPhase, EventIncidentInjected:
		return e.ToStatus != StatusOnline
	case EventThresholdAlert, EventTimeout, EventConnectivity:
		return true
	}
	return false
}

// Alert is an edge-triggered threshold crossing.
type Alert struct {
	NodeID    string    `json:"nodeId"`
	NodeName  string    `json:"nodeName"`
	Metric    string    `json:"metric"`
	Level     Severity  `json:"level"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}
