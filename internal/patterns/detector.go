package patterns

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// Detector kinds. They double as remediation rule keys.
const (
	KindCascadingFailure   = "cascading_failure"
	KindResourceExhaustion = "resource_exhaustion"
	KindDeployment         = "deployment_related"
	KindNetworkPartition   = "network_partition"
	KindDatabaseBottleneck = "database_bottleneck"
	KindThunderingHerd     = "thundering_herd"
)

// Finding is what a detector reports when its pattern matches.
type Finding struct {
	Kind       string
	Title      string
	Confidence float64
	Severity   models.Severity
	Evidence   []string
	Nodes      []string
	Services   []string
}

// Detector inspects a time-ordered event window.
type Detector interface {
	Kind() string
	Detect(events []models.Event, now time.Time) (Finding, bool)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc struct {
	Name string
	Fn   func(events []models.Event, now time.Time) (Finding, bool)
}

// Kind implements Detector.
func (d DetectorFunc) Kind() string { return d.Name }

// Detect implements Detector.
func (d DetectorFunc) Detect(events []models.Event, now time.Time) (Finding, bool) {
	f, ok := d.Fn(events, now)
	if ok && f.Kind == "" {
		f.Kind = d.Name
	}
	return f, ok
}

// Builtin returns the six stock detectors in a stable order.
func Builtin() []Detector {
	return []Detector{
		DetectorFunc{Name: KindCascadingFailure, Fn: DetectCascadingFailure},
		DetectorFunc{Name: KindResourceExhaustion, Fn: DetectResourceExhaustion},
		DetectorFunc{Name: KindDeployment, Fn: DetectDeploymentRelated},
		DetectorFunc{Name: KindNetworkPartition, Fn: DetectNetworkPartition},
		DetectorFunc{Name: KindDatabaseBottleneck, Fn: DetectDatabaseBottleneck},
		DetectorFunc{Name: KindThunderingHerd, Fn: DetectThunderingHerd},
	}
}

// Run sorts a copy of events by time and applies every detector to it.
func Run(events []models.Event, now time.Time, detectors ...Detector) []Finding {
	if len(events) == 0 {
		return nil
	}
	ordered := append([]models.Event(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var out []Finding
	for _, d := range detectors {
		if f, ok := d.Detect(ordered, now); ok {
			f.Confidence = clamp(f.Confidence, 0, 1)
			out = append(out, f)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// tally counts distinct non-empty keys in first-seen order.
type tally struct {
	order  []string
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) add(key string) {
	if key == "" {
		return
	}
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key]++
}

func (t *tally) keys() []string {
	return append([]string(nil), t.order...)
}

func (t *tally) len() int {
	return len(t.order)
}
