package discovery

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// Registry resolves logical dependency names onto physical nodes. Each
// simulation world owns its own Registry.
type Registry struct {
	mu      sync.RWMutex
	rules   map[string]models.DiscoveryRule
	seen    map[string]struct{}
	virtual map[string]*models.Node
	logger  *slog.Logger
}

// NewRegistry constructs a Registry preloaded with rules.
func NewRegistry(logger *slog.Logger, rules ...models.DiscoveryRule) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		rules:   make(map[string]models.DiscoveryRule),
		seen:    make(map[string]struct{}),
		virtual: make(map[string]*models.Node),
		logger:  logger,
	}
	r.RegisterAll(rules)
	return r
}

// Register adds or replaces a rule. Safe to call while the simulation runs.
func (r *Registry) Register(rule models.DiscoveryRule) {
	key := normalise(rule.Service)
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[key] = rule
	// A placeholder synthesized before the rule existed is stale now.
	delete(r.virtual, key)
	delete(r.seen, key)
}

// RegisterAll registers every rule.
func (r *Registry) RegisterAll(rules []models.DiscoveryRule) {
	for _, rule := range rules {
		r.Register(rule)
	}
}

// Lookup returns the exact rule for a service name.
func (r *Registry) Lookup(service string) (models.DiscoveryRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[normalise(service)]
	return rule, ok
}

// Rules returns the registered rules sorted by service name.
func (r *Registry) Rules() []models.DiscoveryRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.DiscoveryRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Resolve maps serviceName onto candidate nodes. It never returns an empty
// set when metadata is known, and it never fails.
func (r *Registry) Resolve(serviceName string, candidates []*models.Node) []*models.Node {
	rule := r.ruleFor(serviceName)

	matched := applyMatcher(rule.Matcher, candidates)
	if len(matched) > 0 {
		return matched
	}
	matched = applyFallback(rule.Fallback, candidates)
	if len(matched) > 0 {
		return matched
	}
	if rule.Metadata.IsZero() {
		return nil
	}
	return []*models.Node{r.virtualNode(serviceName, rule.Metadata).Clone()}
}

// Category returns the heuristic category of a service name, or "" if none.
func (r *Registry) Category(serviceName string) string {
	if rule, ok := r.Lookup(serviceName); ok {
		return rule.Metadata.Category
	}
	return categorise(serviceName)
}

func (r *Registry) ruleFor(serviceName string) models.DiscoveryRule {
	if rule, ok := r.Lookup(serviceName); ok {
		return rule
	}

	r.noteUnknown(serviceName)
	if category := categorise(serviceName); category != "" {
		return categoryRule(serviceName, category)
	}
	return defaultRule(serviceName)
}

func (r *Registry) noteUnknown(serviceName string) {
	key := normalise(serviceName)
	r.mu.Lock()
	_, seen := r.seen[key]
	if !seen {
		r.seen[key] = struct{}{}
	}
	r.mu.Unlock()
	if !seen {
		r.logger.Debug("no discovery rule for dependency, using heuristics",
			slog.String("service", serviceName),
			slog.String("category", categorise(serviceName)))
	}
}

func (r *Registry) virtualNode(serviceName string, meta models.ServiceMetadata) *models.Node {
	key := normalise(serviceName)
	r.mu.Lock()
	defer r.mu.Unlock()
	if node, ok := r.virtual[key]; ok {
		return node
	}
	node := &models.Node{
		ID:       "virtual-" + key,
		Name:     serviceName,
		Type:     meta.Kind,
		Tier:     "virtual",
		Services: []string{serviceName},
		Tags: map[string]string{
			"category": meta.Category,
			"protocol": meta.Protocol,
		},
		Status:  models.StatusUnknown,
		Virtual: true,
	}
	r.virtual[key] = node
	return node
}

func normalise(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
