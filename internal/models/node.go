package models

import "time"

// NodeStatus is the operational state of a simulated node.
type NodeStatus string

const (
	StatusOnline      NodeStatus = "online"
	StatusWarning     NodeStatus = "warning"
	StatusCritical    NodeStatus = "critical"
	StatusOffline     NodeStatus = "offline"
	StatusMaintenance NodeStatus = "maintenance"
	// StatusUnknown is only ever carried by virtual nodes.
	StatusUnknown NodeStatus = "unknown"
)

// Valid reports whether s is one of the organic node states.
func (s NodeStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusWarning, StatusCritical, StatusOffline, StatusMaintenance:
		return true
	}
	return false
}

// Environment is the deployment environment a node runs in.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
	EnvDR          Environment = "dr"
)

// Criticality ranks nodes and applications by business impact.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

// Valid reports whether c is a known criticality.
func (c Criticality) Valid() bool {
	switch c {
	case CriticalityCritical, CriticalityHigh, CriticalityMedium, CriticalityLow:
		return true
	}
	return false
}

// NodeMetrics is the resource telemetry of a node. Percentages are in [0,100],
// latency is in milliseconds and storage IO in MB/s.
type NodeMetrics struct {
	CPU            float64 `json:"cpu" yaml:"cpu"`
	Memory         float64 `json:"mem" yaml:"mem"`
	NetworkLatency float64 `json:"networkLatency" yaml:"networkLatency"`
	StorageIO      float64 `json:"storageIO" yaml:"storageIO"`
	DiskUsage      float64 `json:"diskUsage" yaml:"diskUsage"`
}

// Personality tunes how a node behaves under the evolution engine.
type Personality struct {
	Volatility        float64 `json:"volatility" yaml:"volatility"`
	DegradationRate   float64 `json:"degradationRate" yaml:"degradationRate"`
	RecoveryRate      float64 `json:"recoveryRate" yaml:"recoveryRate"`
	IncidentProneness float64 `json:"incidentProneness" yaml:"incidentProneness"`
	LoadSensitivity   float64 `json:"loadSensitivity" yaml:"loadSensitivity"`
}

// Prediction is the advisory failure forecast derived on every tick.
type Prediction struct {
	NodeID        string        `json:"nodeId"`
	Risk          float64       `json:"risk"`
	Confidence    float64       `json:"confidence"`
	TimeToFailure time.Duration `json:"timeToFailure"`
	Factors       []string      `json:"factors,omitempty"`
}

// Node is a simulated infrastructure unit.
type Node struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            string            `json:"type"`
	Datacenter      string            `json:"datacenter"`
	Tier            string            `json:"tier"`
	Environment     Environment       `json:"environment"`
	Criticality     Criticality       `json:"criticality"`
	Services        []string          `json:"services,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
	Status          NodeStatus        `json:"status"`
	Metrics         NodeMetrics       `json:"metrics"`
	Baseline        NodeMetrics       `json:"-"`
	Virtual         bool              `json:"virtual"`
	CurrentIncident *IncidentRef      `json:"currentIncident,omitempty"`
	LastHealed      time.Time         `json:"lastHealed,omitempty"`
	Personality     Personality       `json:"personality"`
	Prediction      *Prediction       `json:"prediction,omitempty"`
}

// Clone returns a deep copy safe to hand to readers outside the tick.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Services != nil {
		c.Services = append([]string(nil), n.Services...)
	}
	if n.Tags != nil {
		c.Tags = make(map[string]string, len(n.Tags))
		for k, v := range n.Tags {
			c.Tags[k] = v
		}
	}
	if n.CurrentIncident != nil {
		ref := *n.CurrentIncident
		c.CurrentIncident = &ref
	}
	if n.Prediction != nil {
		p := *n.Prediction
		p.Factors = append([]string(nil), n.Prediction.Factors...)
		c.Prediction = &p
	}
	return &c
}

// PrimaryService returns the first hosted service, falling back to the node type.
func (n *Node) PrimaryService() string {
	if len(n.Services) > 0 && n.Services[0] != "" {
		return n.Services[0]
	}
	return n.Type
}

// CloneNodes deep-copies a node slice.
func CloneNodes(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Clone())
	}
	return out
}

// Metric thresholds shared by seed classification and the evolution engine.
const (
	WarningUtilisation  = 75.0
	CriticalUtilisation = 90.0
	WarningLatencyMs    = 100.0
	CriticalLatencyMs   = 200.0
)

// ClassifyMetrics derives an organic status from resource metrics alone.
func ClassifyMetrics(m NodeMetrics) NodeStatus {
	switch {
	case m.CPU > CriticalUtilisation || m.Memory > CriticalUtilisation ||
		m.DiskUsage > CriticalUtilisation || m.NetworkLatency > CriticalLatencyMs:
		return StatusCritical
	case m.CPU > WarningUtilisation || m.Memory > WarningUtilisation ||
		m.DiskUsage > WarningUtilisation || m.NetworkLatency > WarningLatencyMs:
		return StatusWarning
	default:
		return StatusOnline
	}
}
