package discovery

import (
	"sort"
	"strings"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

func applyMatcher(m models.Matcher, candidates []*models.Node) []*models.Node {
	if len(m.Values) == 0 {
		return nil
	}
	out := make([]*models.Node, 0)
	for _, node := range candidates {
		if node == nil || node.Virtual {
			continue
		}
		if matches(m, node) {
			out = append(out, node)
		}
	}
	return out
}

func matches(m models.Matcher, node *models.Node) bool {
	for _, raw := range m.Values {
		value := strings.ToLower(raw)
		if value == "" {
			continue
		}
		switch m.Kind {
		case models.MatchNodeType:
			if strings.EqualFold(node.Type, value) {
				return true
			}
		case models.MatchNamePrefix:
			if strings.HasPrefix(strings.ToLower(node.Name), value) || strings.HasPrefix(strings.ToLower(node.ID), value) {
				return true
			}
		case models.MatchNameContains:
			if strings.Contains(strings.ToLower(node.Name), value) || strings.Contains(strings.ToLower(node.ID), value) {
				return true
			}
		case models.MatchService:
			for _, svc := range node.Services {
				if strings.EqualFold(svc, value) {
					return true
				}
			}
		case models.MatchTag:
			if v, ok := node.Tags[m.Key]; ok && strings.EqualFold(v, value) {
				return true
			}
		case models.MatchDatacenter:
			if strings.EqualFold(node.Datacenter, value) {
				return true
			}
		}
	}
	return false
}

func applyFallback(f models.Fallback, candidates []*models.Node) []*models.Node {
	var out []*models.Node
	switch f.Strategy {
	case models.FallbackNodeType:
		out = applyMatcher(models.Matcher{Kind: models.MatchNodeType, Values: f.NodeTypes}, candidates)
	case models.FallbackAnyOnline:
		for _, node := range candidates {
			if node != nil && !node.Virtual && node.Status == models.StatusOnline {
				out = append(out, node)
			}
		}
	case models.FallbackLeastLoaded:
		pool := make([]*models.Node, 0, len(candidates))
		for _, node := range candidates {
			if node != nil && !node.Virtual && node.Status != models.StatusOffline {
				pool = append(pool, node)
			}
		}
		sort.SliceStable(pool, func(i, j int) bool {
			return pool[i].Metrics.CPU+pool[i].Metrics.Memory < pool[j].Metrics.CPU+pool[j].Metrics.Memory
		})
		limit := f.Limit
		if limit <= 0 {
			limit = 1
		}
		if len(pool) > limit {
			pool = pool[:limit]
		}
		return pool
	default:
		return nil
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// categoryTokens maps name tokens onto heuristic categories, checked in order.
var categoryTokens = []struct {
	category string
	tokens   []string
}{
	{"db", []string{"db", "database", "postgres", "postgresql", "mysql", "sql", "mongo", "mongodb", "cassandra"}},
	{"cache", []string{"cache", "redis", "memcached", "valkey"}},
	{"queue", []string{"queue", "mq", "kafka", "rabbitmq", "rabbit", "sqs", "nats", "broker"}},
	{"gateway", []string{"gateway", "gw", "proxy", "lb", "ingress", "edge"}},
	{"worker", []string{"worker", "workers", "job", "jobs", "batch", "cron"}},
	{"notification", []string{"notification", "notifications", "notify", "email", "sms", "push"}},
	{"analytics", []string{"analytics", "reporting", "metrics", "bi", "warehouse"}},
	{"search", []string{"search", "elastic", "elasticsearch", "solr", "opensearch"}},
	{"storage", []string{"storage", "s3", "blob", "files", "object", "nfs"}},
}

type categoryProfile struct {
	nodeTypes []string
	meta      models.ServiceMetadata
}

var categoryProfiles = map[string]categoryProfile{
	"db":           {[]string{"database", "db"}, models.ServiceMetadata{Kind: "database", Port: 5432, Protocol: "tcp", Engine: "postgresql", Category: "db"}},
	"cache":        {[]string{"cache"}, models.ServiceMetadata{Kind: "cache", Port: 6379, Protocol: "resp", Engine: "redis", Category: "cache"}},
	"queue":        {[]string{"queue", "broker"}, models.ServiceMetadata{Kind: "queue", Port: 9092, Protocol: "kafka", Engine: "kafka", Category: "queue"}},
	"gateway":      {[]string{"gateway", "loadbalancer", "proxy"}, models.ServiceMetadata{Kind: "gateway", Port: 443, Protocol: "https", Category: "gateway"}},
	"worker":       {[]string{"worker", "compute"}, models.ServiceMetadata{Kind: "worker", Port: 0, Protocol: "internal", Category: "worker"}},
	"notification": {[]string{"notification", "worker"}, models.ServiceMetadata{Kind: "notification", Port: 8080, Protocol: "http", Category: "notification"}},
	"analytics":    {[]string{"analytics", "compute"}, models.ServiceMetadata{Kind: "analytics", Port: 8080, Protocol: "http", Category: "analytics"}},
	"search":       {[]string{"search"}, models.ServiceMetadata{Kind: "search", Port: 9200, Protocol: "http", Engine: "elasticsearch", Category: "search"}},
	"storage":      {[]string{"storage"}, models.ServiceMetadata{Kind: "storage", Port: 9000, Protocol: "s3", Category: "storage"}},
}

func tokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		switch r {
		case '-', '_', '.', ' ', '/', ':':
			return true
		}
		return false
	})
}

// CategoryOf returns the heuristic category of a service or node type name,
// or "" when no token matches.
func CategoryOf(name string) string {
	return categorise(name)
}

func categorise(name string) string {
	parts := tokens(name)
	for _, entry := range categoryTokens {
		for _, part := range parts {
			for _, tok := range entry.tokens {
				if part == tok {
					return entry.category
				}
			}
		}
	}
	return ""
}

func categoryRule(serviceName, category string) models.DiscoveryRule {
	profile := categoryProfiles[category]
	return models.DiscoveryRule{
		Service: serviceName,
		Matcher: models.Matcher{Kind: models.MatchService, Values: []string{serviceName}},
		Fallback: models.Fallback{
			Strategy:  models.FallbackNodeType,
			NodeTypes: profile.nodeTypes,
		},
		Metadata: profile.meta,
	}
}

func defaultRule(serviceName string) models.DiscoveryRule {
	return models.DiscoveryRule{
		Service:  serviceName,
		Matcher:  models.Matcher{Kind: models.MatchService, Values: []string{serviceName}},
		Fallback: models.Fallback{Strategy: models.FallbackNone},
		Metadata: models.ServiceMetadata{
			Kind:     "service",
			Port:     8080,
			Protocol: "http",
			Category: "generic",
		},
	}
}
