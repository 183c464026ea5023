package discovery

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// RuleFile is the YAML root of a discovery rule file.
type RuleFile struct {
	Rules []models.DiscoveryRule `yaml:"rules"`
}

// LoadRules reads discovery rules from a YAML file.
func LoadRules(path string) ([]models.DiscoveryRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read discovery rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a rule document.
func ParseRules(data []byte) ([]models.DiscoveryRule, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse discovery rules: %w", err)
	}
	var errs []error
	rules := make([]models.DiscoveryRule, 0, len(file.Rules))
	for i, rule := range file.Rules {
		if err := ValidateRule(rule); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errors.Join(errs...)
}

// ValidateRule checks the tagged variants of a rule.
func ValidateRule(rule models.DiscoveryRule) error {
	if strings.TrimSpace(rule.Service) == "" {
		return errors.New("service name is required")
	}
	switch rule.Matcher.Kind {
	case models.MatchNodeType, models.MatchNamePrefix, models.MatchNameContains,
		models.MatchService, models.MatchDatacenter:
	case models.MatchTag:
		if rule.Matcher.Key == "" {
			return fmt.Errorf("%s: tag matcher requires a key", rule.Service)
		}
	default:
		return fmt.Errorf("%s: unknown matcher kind %q", rule.Service, rule.Matcher.Kind)
	}
	switch rule.Fallback.Strategy {
	case "", models.FallbackNone, models.FallbackAnyOnline, models.FallbackLeastLoaded:
	case models.FallbackNodeType:
		if len(rule.Fallback.NodeTypes) == 0 {
			return fmt.Errorf("%s: node_type fallback requires nodeTypes", rule.Service)
		}
	default:
		return fmt.Errorf("%s: unknown fallback strategy %q", rule.Service, rule.Fallback.Strategy)
	}
	return nil
}
