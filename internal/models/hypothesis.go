package models

import "time"

// HypothesisType is the family a hypothesis belongs to.
type HypothesisType string

const (
	HypothesisPattern     HypothesisType = "pattern"
	HypothesisAnomaly     HypothesisType = "anomaly"
	HypothesisCorrelation HypothesisType = "correlation"
)

// Remediation is staged guidance attached to a hypothesis.
type Remediation struct {
	Immediate []string `json:"immediate" yaml:"immediate"`
	ShortTerm []string `json:"shortTerm" yaml:"shortTerm"`
	LongTerm  []string `json:"longTerm" yaml:"longTerm"`
}

// Empty reports whether no guidance is present.
func (r Remediation) Empty() bool {
	return len(r.Immediate) == 0 && len(r.ShortTerm) == 0 && len(r.LongTerm) == 0
}

// Hypothesis is a ranked root-cause candidate.
type Hypothesis struct {
	ID            string         `json:"id"`
	Type          HypothesisType `json:"type"`
	Kind          string         `json:"kind"`
	Title         string         `json:"title"`
	Confidence    float64        `json:"confidence"`
	Severity      Severity       `json:"severity"`
	Score         float64        `json:"score"`
	Evidence      []string       `json:"evidence"`
	Remediation   Remediation    `json:"remediation"`
	Priority      int            `json:"priority"`
	AffectedNodes []string       `json:"affectedNodes,omitempty"`
	Services      []string       `json:"services,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Anomaly is a statistical outlier on a fleet metric.
type Anomaly struct {
	Metric    string    `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"stdDev"`
	ZScore    float64   `json:"zScore"`
}

// RCAReport is the output of one root-cause analysis pass.
type RCAReport struct {
	ID          string        `json:"id"`
	Window      time.Duration `json:"window"`
	EventCount  int           `json:"eventCount"`
	Hypotheses  []Hypothesis  `json:"hypotheses"`
	Anomalies   []Anomaly     `json:"anomalies"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Duration    time.Duration `json:"duration"`
}
