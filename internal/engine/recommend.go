package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/patterns"
)

// RuleEngine attaches remediation guidance to hypotheses from a YAML rule pack.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single remediation rule.
type Rule struct {
	ID          string             `yaml:"id"`
	Match       RuleMatch          `yaml:"match"`
	Remediation models.Remediation `yaml:"remediation"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match
// everything.
type RuleMatch struct {
	Kind          string `yaml:"kind"`
	Service       string `yaml:"service"`
	Severity      string `yaml:"severity"`
	TitleContains string `yaml:"title_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. An empty path or a
// missing file yields a nil engine, which only serves built-in guidance.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ParseRuleEngine(data, logger)
}

// ParseRuleEngine builds an engine from an in-memory rule pack.
func ParseRuleEngine(data []byte, logger *slog.Logger) (*RuleEngine, error) {
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse remediation rules: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, rule := range cfg.Rules {
		if rule.Remediation.Empty() {
			logger.Warn("remediation rule carries no guidance", slog.String("rule", rule.ID))
		}
	}
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Len reports how many rules are loaded.
func (e *RuleEngine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Recommend merges the guidance of every matching rule, falling back to the
// built-in text for the hypothesis kind when nothing matches.
func (e *RuleEngine) Recommend(h models.Hypothesis) models.Remediation {
	var merged models.Remediation
	if e != nil {
		for _, rule := range e.rules {
			if !rule.matches(h) {
				continue
			}
			merged.Immediate = appendUnique(merged.Immediate, rule.Remediation.Immediate...)
			merged.ShortTerm = appendUnique(merged.ShortTerm, rule.Remediation.ShortTerm...)
			merged.LongTerm = appendUnique(merged.LongTerm, rule.Remediation.LongTerm...)
		}
	}
	if merged.Empty() {
		return builtinRemediation(h.Kind)
	}
	return merged
}

func (r Rule) matches(h models.Hypothesis) bool {
	if r.Match.Kind != "" && !strings.EqualFold(r.Match.Kind, h.Kind) {
		return false
	}
	if r.Match.Severity != "" && !strings.EqualFold(r.Match.Severity, string(h.Severity)) {
		return false
	}
	if r.Match.Service != "" && !serviceMatches(r.Match.Service, h.Services) {
		return false
	}
	if r.Match.TitleContains != "" && !strings.Contains(strings.ToLower(h.Title), strings.ToLower(r.Match.TitleContains)) {
		return false
	}
	return true
}

func serviceMatches(service string, services []string) bool {
	for _, s := range services {
		if strings.EqualFold(service, s) {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}

func builtinRemediation(kind string) models.Remediation {
	switch kind {
	case patterns.KindCascadingFailure:
		return models.Remediation{
			Immediate: []string{"Isolate the originating service", "Enable circuit breakers on its callers"},
			ShortTerm: []string{"Add bulkheads between dependent services", "Tune retry budgets and backoff"},
			LongTerm:  []string{"Design for graceful degradation across the dependency chain"},
		}
	case patterns.KindResourceExhaustion:
		return models.Remediation{
			Immediate: []string{"Restart or drain the exhausted node", "Shed non-critical load"},
			ShortTerm: []string{"Raise resource limits and alert earlier on the trend"},
			LongTerm:  []string{"Capacity-plan from historical growth", "Fix the leaking workload"},
		}
	case patterns.KindDeployment:
		return models.Remediation{
			Immediate: []string{"Roll back the latest deployment"},
			ShortTerm: []string{"Compare the release diff against the failing signals", "Gate rollouts on health checks"},
			LongTerm:  []string{"Adopt canary or progressive delivery"},
		}
	case patterns.KindNetworkPartition:
		return models.Remediation{
			Immediate: []string{"Fail traffic over to a healthy zone", "Check inter-zone links and security groups"},
			ShortTerm: []string{"Verify quorum and replication state after the partition heals"},
			LongTerm:  []string{"Add redundant network paths between zones"},
		}
	case patterns.KindDatabaseBottleneck:
		return models.Remediation{
			Immediate: []string{"Kill long-running queries", "Raise connection pool limits cautiously"},
			ShortTerm: []string{"Add missing indexes", "Route reads to replicas"},
			LongTerm:  []string{"Introduce caching or shard hot tables"},
		}
	case patterns.KindThunderingHerd:
		return models.Remediation{
			Immediate: []string{"Rate-limit the burst source"},
			ShortTerm: []string{"Add jitter to retries and scheduled jobs", "Coalesce duplicate requests"},
			LongTerm:  []string{"Queue bursty work instead of fanning out synchronously"},
		}
	case KindMetricAnomaly:
		return models.Remediation{
			Immediate: []string{"Correlate the anomalous metric with recent fleet events"},
			ShortTerm: []string{"Review alert thresholds for the metric"},
			LongTerm:  []string{"Baseline the metric per time of day"},
		}
	case KindPeriodicFailure:
		return models.Remediation{
			Immediate: []string{"Identify scheduled jobs running at the detected interval"},
			ShortTerm: []string{"Reschedule or throttle the job"},
			LongTerm:  []string{"Move batch work off the serving fleet"},
		}
	case KindUpstreamDependency:
		return models.Remediation{
			Immediate: []string{"Stabilise the upstream dependency first"},
			ShortTerm: []string{"Add timeouts and fallbacks on the dependent application"},
			LongTerm:  []string{"Reduce coupling to the dependency"},
		}
	}
	return models.Remediation{
		Immediate: []string{"Review recent deployments for regressions"},
		ShortTerm: []string{"Check upstream dependencies for correlated errors"},
	}
}
