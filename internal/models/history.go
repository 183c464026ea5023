package models

import "time"

// DeltaKind labels a sparse node delta.
type DeltaKind string

const (
	DeltaNew           DeltaKind = "new"
	DeltaStatusChange  DeltaKind = "status_change"
	DeltaMetricsChange DeltaKind = "metrics_change"
)

// NodeDelta records what changed for a node between two snapshots.
type NodeDelta struct {
	NodeID     string      `json:"nodeId"`
	Kind       DeltaKind   `json:"kind"`
	FromStatus NodeStatus  `json:"fromStatus,omitempty"`
	Status     NodeStatus  `json:"status"`
	Metrics    NodeMetrics `json:"metrics"`
}

// HistorySnapshot is the sparse per-tick record.
type HistorySnapshot struct {
	Timestamp time.Time   `json:"timestamp"`
	Deltas    []NodeDelta `json:"deltas,omitempty"`
	Events    []Event     `json:"events,omitempty"`
}

// MetricAverages are mean metrics over a group of nodes.
type MetricAverages struct {
	Count          int     `json:"count"`
	CPU            float64 `json:"cpu"`
	Memory         float64 `json:"mem"`
	NetworkLatency float64 `json:"networkLatency"`
	StorageIO      float64 `json:"storageIO"`
	DiskUsage      float64 `json:"diskUsage"`
}

// FleetMetrics is the dense per-tick fleet record.
type FleetMetrics struct {
	Timestamp         time.Time                 `json:"timestamp"`
	AvgCPU            float64                   `json:"avgCpuUsage"`
	AvgMemory         float64                   `json:"avgMemoryUsage"`
	AvgNetworkLatency float64                   `json:"avgNetworkLatency"`
	AvgStorageIO      float64                   `json:"avgStorageIO"`
	AvgDiskUsage      float64                   `json:"avgDiskUsage"`
	SystemHealthy     float64                   `json:"systemHealthy"`
	BusinessLoad      float64                   `json:"businessLoad"`
	ByType            map[string]MetricAverages `json:"byType"`
	ByDatacenter      map[string]MetricAverages `json:"byDatacenter"`
}

// AppHealthSnapshot holds every application's score for one tick.
type AppHealthSnapshot struct {
	Timestamp    time.Time                 `json:"timestamp"`
	Applications map[string]AppHealthPoint `json:"applications"`
}

// AppHealthPoint is a compact application health entry.
type AppHealthPoint struct {
	Score  float64      `json:"score"`
	Status HealthStatus `json:"status"`
}

// TrendPoint is one sample of a historical trend.
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TimelineEntry is one row of the newest-first event timeline.
type TimelineEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	Kind      string     `json:"kind"`
	NodeID    string     `json:"nodeId,omitempty"`
	Status    NodeStatus `json:"status,omitempty"`
	Message   string     `json:"message"`
	Severity  Severity   `json:"severity,omitempty"`
}
