package world

import (
	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// Default returns the built-in world.
func Default() *World {
	return &World{
		Applications:   DefaultApplications(),
		Nodes:          DefaultNodes(),
		DiscoveryRules: DefaultRules(),
	}
}

// DefaultApplications is the built-in application set.
func DefaultApplications() []models.Application {
	return []models.Application{
		{Name: "ecommerce-platform", Criticality: models.CriticalityCritical,
			Dependencies: []string{"web-frontend", "api-gateway", "payment-service", "inventory-service", "session-cache"}},
		{Name: "payment-service", Criticality: models.CriticalityCritical,
			Dependencies: []string{"payment-api", "payments-db", "message-queue"}},
		{Name: "inventory-service", Criticality: models.CriticalityHigh,
			Dependencies: []string{"inventory-api", "inventory-db", "session-cache"}},
		{Name: "customer-portal", Criticality: models.CriticalityHigh,
			Dependencies: []string{"web-frontend", "api-gateway", "ecommerce-platform"}},
		{Name: "notification-service", Criticality: models.CriticalityMedium,
			Dependencies: []string{"notification-worker", "message-queue"}},
		{Name: "analytics-pipeline", Criticality: models.CriticalityLow,
			Dependencies: []string{"analytics-worker", "object-storage", "search-cluster"}},
	}
}

// DefaultNodes is the built-in fleet.
func DefaultNodes() []*models.Node {
	seeds := []NodeSeed{
		{ID: "web-01", Name: "web-frontend-01", Type: "web", Datacenter: "us-east-1", Tier: "frontend", Criticality: "high",
			Services: []string{"web-frontend"}, Metrics: models.NodeMetrics{CPU: 42, Memory: 55, NetworkLatency: 18, StorageIO: 20, DiskUsage: 38}},
		{ID: "web-02", Name: "web-frontend-02", Type: "web", Datacenter: "us-west-2", Tier: "frontend", Criticality: "high",
			Services: []string{"web-frontend"}, Metrics: models.NodeMetrics{CPU: 38, Memory: 51, NetworkLatency: 22, StorageIO: 18, DiskUsage: 41}},
		{ID: "gw-01", Name: "api-gateway-01", Type: "gateway", Datacenter: "us-east-1", Tier: "edge", Criticality: "critical",
			Services: []string{"api-gateway"}, Metrics: models.NodeMetrics{CPU: 35, Memory: 40, NetworkLatency: 12, StorageIO: 10, DiskUsage: 25}},
		{ID: "app-01", Name: "payment-api-01", Type: "application", Datacenter: "us-east-1", Tier: "backend", Criticality: "critical",
			Services: []string{"payment-api"}, Metrics: models.NodeMetrics{CPU: 48, Memory: 62, NetworkLatency: 30, StorageIO: 25, DiskUsage: 45}},
		{ID: "app-02", Name: "inventory-api-01", Type: "application", Datacenter: "us-west-2", Tier: "backend", Criticality: "high",
			Services: []string{"inventory-api"}, Metrics: models.NodeMetrics{CPU: 44, Memory: 58, NetworkLatency: 28, StorageIO: 22, DiskUsage: 47}},
		{ID: "db-01", Name: "postgres-payments-01", Type: "database", Datacenter: "us-east-1", Tier: "data", Criticality: "critical",
			Services: []string{"payments-db"}, Tags: map[string]string{"engine": "postgresql", "role": "primary"},
			Metrics: models.NodeMetrics{CPU: 55, Memory: 70, NetworkLatency: 8, StorageIO: 140, DiskUsage: 64}},
		{ID: "db-02", Name: "postgres-inventory-01", Type: "database", Datacenter: "us-west-2", Tier: "data", Criticality: "high",
			Services: []string{"inventory-db"}, Tags: map[string]string{"engine": "postgresql", "role": "primary"},
			Metrics: models.NodeMetrics{CPU: 50, Memory: 66, NetworkLatency: 9, StorageIO: 120, DiskUsage: 58}},
		{ID: "cache-01", Name: "redis-session-01", Type: "cache", Datacenter: "us-east-1", Tier: "data", Criticality: "high",
			Services: []string{"session-cache"}, Metrics: models.NodeMetrics{CPU: 25, Memory: 68, NetworkLatency: 3, StorageIO: 5, DiskUsage: 20}},
		{ID: "mq-01", Name: "kafka-broker-01", Type: "queue", Datacenter: "eu-central-1", Tier: "messaging", Criticality: "high",
			Services: []string{"message-queue"}, Metrics: models.NodeMetrics{CPU: 40, Memory: 60, NetworkLatency: 15, StorageIO: 90, DiskUsage: 55}},
		{ID: "worker-01", Name: "notification-worker-01", Type: "worker", Datacenter: "eu-central-1", Tier: "backend", Criticality: "medium",
			Environment: "staging", Services: []string{"notification-worker"},
			Metrics: models.NodeMetrics{CPU: 30, Memory: 45, NetworkLatency: 25, StorageIO: 12, DiskUsage: 35}},
		{ID: "worker-02", Name: "analytics-worker-01", Type: "worker", Datacenter: "us-west-2", Tier: "batch", Criticality: "low",
			Environment: "development", Services: []string{"analytics-worker"},
			Metrics: models.NodeMetrics{CPU: 60, Memory: 58, NetworkLatency: 35, StorageIO: 60, DiskUsage: 52}},
		{ID: "store-01", Name: "object-storage-01", Type: "storage", Datacenter: "eu-central-1", Tier: "data", Criticality: "medium",
			Environment: "dr", Services: []string{"object-storage"},
			Metrics: models.NodeMetrics{CPU: 20, Memory: 35, NetworkLatency: 20, StorageIO: 160, DiskUsage: 71}},
	}
	nodes := make([]*models.Node, 0, len(seeds))
	for _, seed := range seeds {
		nodes = append(nodes, NewNode(seed))
	}
	return nodes
}

// DefaultRules pins the built-in logical names whose hosting is not implied
// by a service label.
func DefaultRules() []models.DiscoveryRule {
	return []models.DiscoveryRule{
		{
			Service:  "web-frontend",
			Matcher:  models.Matcher{Kind: models.MatchNodeType, Values: []string{"web"}},
			Metadata: models.ServiceMetadata{Kind: "web", Port: 443, Protocol: "https", Category: "frontend"},
		},
		{
			Service:  "message-queue",
			Matcher:  models.Matcher{Kind: models.MatchService, Values: []string{"message-queue"}},
			Fallback: models.Fallback{Strategy: models.FallbackNodeType, NodeTypes: []string{"queue"}},
			Metadata: models.ServiceMetadata{Kind: "queue", Port: 9092, Protocol: "tcp", Engine: "kafka", Category: "queue"},
		},
		{
			Service:  "session-cache",
			Matcher:  models.Matcher{Kind: models.MatchNamePrefix, Values: []string{"redis-session"}},
			Fallback: models.Fallback{Strategy: models.FallbackLeastLoaded, Limit: 1},
			Metadata: models.ServiceMetadata{Kind: "cache", Port: 6379, Protocol: "resp", Engine: "redis", Category: "cache"},
		},
	}
}
