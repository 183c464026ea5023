package world

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-fleetsim/internal/discovery"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
)

var worldValidate *validator.Validate

func init() {
	worldValidate = validator.New()
	_ = worldValidate.RegisterValidation("nodestatus", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || models.NodeStatus(s).Valid()
	})
}

// Document is the YAML shape of a world fixture.
type Document struct {
	Applications   []ApplicationSeed         `yaml:"applications"`
	Nodes          []NodeSeed                `yaml:"nodes"`
	DiscoveryRules []models.DiscoveryRule    `yaml:"discoveryRules"`
	Scenarios      []models.IncidentScenario `yaml:"scenarios"`
}

// ApplicationSeed declares an application and its ordered dependencies.
type ApplicationSeed struct {
	Name         string   `yaml:"name" validate:"required"`
	Criticality  string   `yaml:"criticality" validate:"omitempty,oneof=critical high medium low"`
	Dependencies []string `yaml:"dependencies" validate:"dive,required"`
}

// NodeSeed declares one node. Missing status is derived from metrics.
type NodeSeed struct {
	ID          string             `yaml:"id" validate:"required"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type" validate:"required"`
	Datacenter  string             `yaml:"datacenter"`
	Tier        string             `yaml:"tier"`
	Environment string             `yaml:"environment" validate:"omitempty,oneof=production staging development dr"`
	Criticality string             `yaml:"criticality" validate:"omitempty,oneof=critical high medium low"`
	Services    []string           `yaml:"services"`
	Tags        map[string]string  `yaml:"tags"`
	Status      string             `yaml:"status" validate:"nodestatus"`
	Metrics     models.NodeMetrics `yaml:"metrics"`
	Personality models.Personality `yaml:"personality"`
}

// World is the validated simulation input.
type World struct {
	Applications   []models.Application
	Nodes          []*models.Node
	DiscoveryRules []models.DiscoveryRule
	Scenarios      []models.IncidentScenario
}

// Load reads a world fixture. An empty path yields the built-in world.
func Load(path string, logger *slog.Logger) (*World, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.NewPathError("load world", path, "read fixture", err)
	}
	return Parse(data, logger), nil
}

// Parse decodes and validates a world fixture. It never fails: malformed
// sections fall back to built-in defaults with a warning.
func Parse(data []byte, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		logger.Warn("world config malformed, using built-in world", slog.Any("error", err))
		return Default()
	}
	return Build(doc, logger)
}

// Build converts a decoded document into a World.
func Build(doc Document, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	w := &World{}

	apps, err := buildApplications(doc.Applications)
	if err != nil {
		logger.Warn("application config invalid, using built-in applications", slog.Any("error", err))
		apps = DefaultApplications()
	}
	w.Applications = apps

	seen := make(map[string]struct{})
	for i, seed := range doc.Nodes {
		if err := worldValidate.Struct(seed); err != nil {
			logger.Warn("skipping invalid node seed", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		if _, dup := seen[seed.ID]; dup {
			logger.Warn("skipping duplicate node seed", slog.String("id", seed.ID))
			continue
		}
		seen[seed.ID] = struct{}{}
		w.Nodes = append(w.Nodes, NewNode(seed))
	}
	if len(w.Nodes) == 0 {
		if len(doc.Nodes) > 0 {
			logger.Warn("no valid node seeds, using built-in fleet")
		}
		w.Nodes = DefaultNodes()
	}

	for i, rule := range doc.DiscoveryRules {
		if err := discovery.ValidateRule(rule); err != nil {
			logger.Warn("skipping invalid discovery rule", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		w.DiscoveryRules = append(w.DiscoveryRules, rule)
	}
	if len(doc.DiscoveryRules) == 0 && len(doc.Nodes) == 0 {
		w.DiscoveryRules = DefaultRules()
	}
	w.Scenarios = doc.Scenarios
	return w
}

func buildApplications(seeds []ApplicationSeed) ([]models.Application, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no applications declared")
	}
	apps := make([]models.Application, 0, len(seeds))
	names := make(map[string]struct{}, len(seeds))
	for i, seed := range seeds {
		if err := worldValidate.Struct(seed); err != nil {
			return nil, fmt.Errorf("application %d: %w", i, err)
		}
		key := strings.ToLower(seed.Name)
		if _, dup := names[key]; dup {
			return nil, fmt.Errorf("application %q declared twice", seed.Name)
		}
		names[key] = struct{}{}
		crit := models.Criticality(seed.Criticality)
		if crit == "" {
			crit = models.CriticalityMedium
		}
		apps = append(apps, models.Application{
			Name:         seed.Name,
			Criticality:  crit,
			Dependencies: append([]string(nil), seed.Dependencies...),
		})
	}
	return apps, nil
}

// NewNode turns a seed into a live node, filling defaults and classifying
// the status from metrics when none is given.
func NewNode(seed NodeSeed) *models.Node {
	n := &models.Node{
		ID:          seed.ID,
		Name:        seed.Name,
		Type:        seed.Type,
		Datacenter:  seed.Datacenter,
		Tier:        seed.Tier,
		Environment: models.Environment(seed.Environment),
		Criticality: models.Criticality(seed.Criticality),
		Services:    append([]string(nil), seed.Services...),
		Metrics:     sanitise(seed.Metrics),
		Personality: seed.Personality,
		Status:      models.NodeStatus(seed.Status),
	}
	if n.Name == "" {
		n.Name = n.ID
	}
	if len(seed.Tags) > 0 {
		n.Tags = make(map[string]string, len(seed.Tags))
		for k, v := range seed.Tags {
			n.Tags[k] = v
		}
	}
	if n.Environment == "" {
		n.Environment = models.EnvProduction
	}
	if n.Criticality == "" {
		n.Criticality = models.CriticalityMedium
	}
	if n.Personality == (models.Personality{}) {
		n.Personality = DefaultPersonality(n.Criticality)
	}
	if n.Status == "" {
		n.Status = models.ClassifyMetrics(n.Metrics)
	}
	n.Baseline = n.Metrics
	return n
}

// DefaultPersonality derives behaviour from criticality: critical nodes are
// steadier and recover faster.
func DefaultPersonality(c models.Criticality) models.Personality {
	p := models.Personality{
		Volatility:        1.0,
		DegradationRate:   0.3,
		RecoveryRate:      1.0,
		IncidentProneness: 0.1,
		LoadSensitivity:   1.0,
	}
	switch c {
	case models.CriticalityCritical:
		p.Volatility, p.RecoveryRate, p.IncidentProneness = 0.7, 1.3, 0.05
	case models.CriticalityHigh:
		p.Volatility, p.RecoveryRate = 0.85, 1.15
	case models.CriticalityLow:
		p.Volatility, p.DegradationRate, p.IncidentProneness = 1.2, 0.4, 0.15
	}
	return p
}

func sanitise(m models.NodeMetrics) models.NodeMetrics {
	m.CPU = clampPct(m.CPU)
	m.Memory = clampPct(m.Memory)
	m.DiskUsage = clampPct(m.DiskUsage)
	if m.NetworkLatency < 0 || m.NetworkLatency != m.NetworkLatency {
		m.NetworkLatency = 0
	}
	if m.StorageIO < 0 || m.StorageIO != m.StorageIO {
		m.StorageIO = 0
	}
	return m
}

func clampPct(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
