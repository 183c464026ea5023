package main

import (
	"log/slog"

	"github.com/miradorstack/mirador-fleetsim/internal/config"
	"github.com/miradorstack/mirador-fleetsim/internal/discovery"
	"github.com/miradorstack/mirador-fleetsim/internal/incidents"
	"github.com/miradorstack/mirador-fleetsim/internal/world"
)

// loadWorld reads the world fixture and layers the optional discovery rule
// and scenario files on top of it.
func loadWorld(cfg *config.Config, logger *slog.Logger) (*world.World, error) {
	w, err := world.Load(cfg.World.Path, logger)
	if err != nil {
		return nil, err
	}

	if cfg.World.RulesPath != "" {
		rules, err := discovery.LoadRules(cfg.World.RulesPath)
		if err != nil && len(rules) == 0 {
			return nil, err
		}
		if err != nil {
			logger.Warn("some discovery rules were rejected", slog.Any("error", err))
		}
		w.DiscoveryRules = append(w.DiscoveryRules, rules...)
	}

	if cfg.Incidents.ScenarioPath != "" {
		scenarios, err := incidents.LoadScenarios(cfg.Incidents.ScenarioPath)
		if err != nil {
			return nil, err
		}
		w.Scenarios = append(w.Scenarios, scenarios...)
	}
	return w, nil
}
