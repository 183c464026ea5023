package extractors

import (
	"math"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

// DefaultZThreshold flags samples more than three standard deviations away
// from the trailing window.
const DefaultZThreshold = 3.0

// minTrailingSamples is the smallest trailing window worth scoring against.
const minTrailingSamples = 5

// MetricExtractor detects anomalies using a trailing z-score.
type MetricExtractor struct {
	threshold float64
}

// NewMetricExtractor creates a metrics anomaly detector. A non-positive
// threshold selects DefaultZThreshold.
func NewMetricExtractor(threshold float64) *MetricExtractor {
	if threshold <= 0 {
		threshold = DefaultZThreshold
	}
	return &MetricExtractor{threshold: threshold}
}

// Threshold returns the configured |z| cut-off.
func (e *MetricExtractor) Threshold() float64 {
	return e.threshold
}

// DetectLatest scores the newest sample of series against the samples before
// it and reports it when |z| exceeds the threshold.
func (e *MetricExtractor) DetectLatest(metric string, series []models.TrendPoint) (models.Anomaly, bool) {
	if len(series) < minTrailingSamples+1 {
		return models.Anomaly{}, false
	}
	latest := series[len(series)-1]
	mean, stdDev := meanStdDev(series[:len(series)-1])
	if stdDev == 0 {
		stdDev = 0.01
	}
	z := (latest.Value - mean) / stdDev
	if math.IsNaN(z) || math.Abs(z) <= e.threshold {
		return models.Anomaly{}, false
	}
	return models.Anomaly{
		Metric:    metric,
		Timestamp: latest.Timestamp,
		Value:     latest.Value,
		Mean:      mean,
		StdDev:    stdDev,
		ZScore:    z,
	}, true
}

// DetectFleet runs DetectLatest over every dense fleet metric.
func (e *MetricExtractor) DetectFleet(series []models.FleetMetrics) []models.Anomaly {
	anomalies := make([]models.Anomaly, 0)
	for _, sel := range fleetSelectors {
		points := make([]models.TrendPoint, 0, len(series))
		for _, fm := range series {
			points = append(points, models.TrendPoint{Timestamp: fm.Timestamp, Value: sel.pick(fm)})
		}
		if anomaly, ok := e.DetectLatest(sel.name, points); ok {
			anomalies = append(anomalies, anomaly)
		}
	}
	return anomalies
}

var fleetSelectors = []struct {
	name string
	pick func(models.FleetMetrics) float64
}{
	{"cpu", func(m models.FleetMetrics) float64 { return m.AvgCPU }},
	{"memory", func(m models.FleetMetrics) float64 { return m.AvgMemory }},
	{"networkLatency", func(m models.FleetMetrics) float64 { return m.AvgNetworkLatency }},
	{"storageIO", func(m models.FleetMetrics) float64 { return m.AvgStorageIO }},
	{"diskUsage", func(m models.FleetMetrics) float64 { return m.AvgDiskUsage }},
}

func meanStdDev(series []models.TrendPoint) (float64, float64) {
	mean := 0.0
	for _, point := range series {
		mean += point.Value
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, point := range series {
		variance += math.Pow(point.Value-mean, 2)
	}
	variance /= float64(len(series))
	return mean, math.Sqrt(variance)
}
