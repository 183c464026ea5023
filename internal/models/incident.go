package models

import "time"

// Phase is one step of a scripted incident arc.
type Phase struct {
	Status      NodeStatus    `json:"status" yaml:"status"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Description string        `json:"description" yaml:"description"`
	// Effects are metric floors applied while the phase is active.
	Effects NodeMetrics `json:"effects" yaml:"effects"`
}

// IncidentScenario is a named, ordered list of phases.
type IncidentScenario struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Resource    string  `json:"resource" yaml:"resource"`
	Phases      []Phase `json:"phases" yaml:"phases"`
}

// TotalDuration sums the phase durations.
func (s IncidentScenario) TotalDuration() time.Duration {
	var total time.Duration
	for _, p := range s.Phases {
		total += p.Duration
	}
	return total
}

// IncidentState tracks the lifecycle of an injected incident.
type IncidentState string

const (
	IncidentActive    IncidentState = "active"
	IncidentCancelled IncidentState = "cancelled"
	IncidentCompleted IncidentState = "completed"
)

// IncidentInstance is the record of one injection.
type IncidentInstance struct {
	ID                string        `json:"id"`
	NodeID            string        `json:"nodeId"`
	Scenario          string        `json:"scenario"`
	Severity          string        `json:"severity,omitempty"`
	Phases            []Phase       `json:"phases"`
	PhaseIndex        int           `json:"phaseIndex"`
	PhaseStarted      time.Time     `json:"phaseStarted"`
	StartTime         time.Time     `json:"startTime"`
	EndTime           time.Time     `json:"endTime,omitempty"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	Injected          bool          `json:"injected"`
	Status            IncidentState `json:"status"`
}

// CurrentPhase returns the active phase, or false once the arc is exhausted.
func (i *IncidentInstance) CurrentPhase() (Phase, bool) {
	if i.PhaseIndex < 0 || i.PhaseIndex >= len(i.Phases) {
		return Phase{}, false
	}
	return i.Phases[i.PhaseIndex], true
}

// IncidentRef is the view of an incident carried on a node.
type IncidentRef struct {
	ID          string    `json:"id"`
	Scenario    string    `json:"scenario"`
	PhaseIndex  int       `json:"phaseIndex"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"startTime"`
}

// Severity options accepted on injection.
const (
	SeverityOptionHigh = "high"
	SeverityOptionLow  = "low"
)

// InjectOptions tune a scenario at injection time.
type InjectOptions struct {
	Duration time.Duration `json:"duration,omitempty"`
	Severity string        `json:"severity,omitempty"`
}

// InjectResult is returned by a successful injection.
type InjectResult struct {
	IncidentID        string        `json:"incidentId"`
	Message           string        `json:"message"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
}
