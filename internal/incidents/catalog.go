package incidents

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// Catalog holds the scenarios available for injection, keyed by name.
type Catalog struct {
	scenarios map[string]models.IncidentScenario
}

// NewCatalog returns a catalog seeded with the built-in scenarios plus extra.
// Invalid extras are reported but do not prevent the rest from loading.
func NewCatalog(extra ...models.IncidentScenario) (*Catalog, error) {
	c := &Catalog{scenarios: make(map[string]models.IncidentScenario)}
	for _, s := range BuiltinScenarios() {
		c.scenarios[s.Name] = s
	}
	var errs []error
	for _, s := range extra {
		if err := c.Add(s); err != nil {
			errs = append(errs, err)
		}
	}
	return c, errors.Join(errs...)
}

// Add validates and registers a scenario, replacing any with the same name.
func (c *Catalog) Add(s models.IncidentScenario) error {
	if err := ValidateScenario(s); err != nil {
		return err
	}
	s.Phases = append([]models.Phase(nil), s.Phases...)
	c.scenarios[strings.ToLower(s.Name)] = s
	return nil
}

// Get looks a scenario up by name.
func (c *Catalog) Get(name string) (models.IncidentScenario, bool) {
	s, ok := c.scenarios[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Scenarios lists every scenario sorted by name.
func (c *Catalog) Scenarios() []models.IncidentScenario {
	out := make([]models.IncidentScenario, 0, len(c.scenarios))
	for _, s := range c.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateScenario rejects scenarios the director cannot play.
func ValidateScenario(s models.IncidentScenario) error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("scenario name is required")
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("scenario %s: %w", s.Name, ErrNoPhases)
	}
	for i, p := range s.Phases {
		if !p.Status.Valid() {
			return fmt.Errorf("scenario %s phase %d: invalid status %q", s.Name, i, p.Status)
		}
		if p.Duration <= 0 {
			return fmt.Errorf("scenario %s phase %d: duration must be positive", s.Name, i)
		}
	}
	return nil
}

// BuiltinScenarios returns the stock incident arcs.
func BuiltinScenarios() []models.IncidentScenario {
	return []models.IncidentScenario{
		{
			Name:        "memory_exhaustion",
			Description: "Heap growth until the process is OOM-killed and restarted",
			Resource:    models.ResourceMemory,
			Phases: []models.Phase{
				{Status: models.StatusWarning, Duration: 30 * time.Second, Description: "Memory usage climbing", Effects: models.NodeMetrics{Memory: 85}},
				{Status: models.StatusCritical, Duration: 45 * time.Second, Description: "Memory exhausted, swapping heavily", Effects: models.NodeMetrics{Memory: 97, CPU: 75, NetworkLatency: 250}},
				{Status: models.StatusOffline, Duration: 20 * time.Second, Description: "Process killed by OOM killer"},
				{Status: models.StatusWarning, Duration: 25 * time.Second, Description: "Service restarting, caches cold", Effects: models.NodeMetrics{CPU: 60}},
			},
		},
		{
			Name:        "cpu_spike",
			Description: "Runaway computation saturating CPU",
			Resource:    models.ResourceCPU,
			Phases: []models.Phase{
				{Status: models.StatusWarning, Duration: 20 * time.Second, Description: "CPU load rising", Effects: models.NodeMetrics{CPU: 80}},
				{Status: models.StatusCritical, Duration: 40 * time.Second, Description: "CPU saturated, requests queueing", Effects: models.NodeMetrics{CPU: 98, NetworkLatency: 300}},
				{Status: models.StatusWarning, Duration: 20 * time.Second, Description: "Load shedding in effect", Effects: models.NodeMetrics{CPU: 78}},
			},
		},
		{
			Name:        "disk_full",
			Description: "Log volume fills the data disk",
			Resource:    models.ResourceDisk,
			Phases: []models.Phase{
				{Status: models.StatusWarning, Duration: 40 * time.Second, Description: "Disk usage above 85%", Effects: models.NodeMetrics{DiskUsage: 88, StorageIO: 180}},
				{Status: models.StatusCritical, Duration: 40 * time.Second, Description: "Disk full, writes failing", Effects: models.NodeMetrics{DiskUsage: 99, StorageIO: 250}},
				{Status: models.StatusOffline, Duration: 20 * time.Second, Description: "Service halted on write errors"},
			},
		},
		{
			Name:        "network_partition",
			Description: "Node loses connectivity to its peers",
			Resource:    models.ResourceNetwork,
			Phases: []models.Phase{
				{Status: models.StatusWarning, Duration: 15 * time.Second, Description: "Packet loss detected", Effects: models.NodeMetrics{NetworkLatency: 180}},
				{Status: models.StatusOffline, Duration: 45 * time.Second, Description: "Node unreachable"},
				{Status: models.StatusWarning, Duration: 20 * time.Second, Description: "Connectivity restored, resyncing", Effects: models.NodeMetrics{NetworkLatency: 150}},
			},
		},
		{
			Name:        "database_slowdown",
			Description: "Lock contention slows every query",
			Resource:    models.ResourceStorage,
			Phases: []models.Phase{
				{Status: models.StatusWarning, Duration: 30 * time.Second, Description: "Query latency increasing", Effects: models.NodeMetrics{NetworkLatency: 150, StorageIO: 200}},
				{Status: models.StatusCritical, Duration: 60 * time.Second, Description: "Connection pool exhausted", Effects: models.NodeMetrics{NetworkLatency: 450, CPU: 85, StorageIO: 320}},
				{Status: models.StatusWarning, Duration: 30 * time.Second, Description: "Slow queries draining", Effects: models.NodeMetrics{NetworkLatency: 120}},
			},
		},
		{
			Name:        "cascading_failure",
			Description: "Upstream failure spreads to dependents",
			Resource:    models.ResourceCPU,
			Phases: []models.Phase{
				{Status: models.StatusWarning, Duration: 20 * time.Second, Description: "Upstream errors observed", Effects: models.NodeMetrics{NetworkLatency: 220}},
				{Status: models.StatusCritical, Duration: 30 * time.Second, Description: "Retry storm amplifying load", Effects: models.NodeMetrics{CPU: 92, Memory: 88, NetworkLatency: 500}},
				{Status: models.StatusOffline, Duration: 30 * time.Second, Description: "Circuit open, node removed from pool"},
				{Status: models.StatusWarning, Duration: 30 * time.Second, Description: "Gradual traffic restoration", Effects: models.NodeMetrics{CPU: 70}},
			},
		},
		{
			Name:        "deployment_regression",
			Description: "A bad release degrades the service",
			Resource:    models.ResourceCPU,
			Phases: []models.Phase{
				{Status: models.StatusMaintenance, Duration: 15 * time.Second, Description: "Rolling out new release"},
				{Status: models.StatusWarning, Duration: 30 * time.Second, Description: "Error rate elevated after deploy", Effects: models.NodeMetrics{CPU: 78, NetworkLatency: 160}},
				{Status: models.StatusCritical, Duration: 30 * time.Second, Description: "Regression confirmed", Effects: models.NodeMetrics{CPU: 93, NetworkLatency: 350}},
				{Status: models.StatusMaintenance, Duration: 20 * time.Second, Description: "Rolling back"},
			},
		},
	}
}
