package extractors

import (
	"math"
	"sort"
	"time"
)

const (
	minIntervals      = 4
	dominantShare     = 0.5
	minBucketWidth    = time.Second
	bucketWidthFactor = 0.1
)

// Periodicity describes a dominant recurrence interval in an event stream.
type Periodicity struct {
	Interval   time.Duration
	Share      float64
	Intervals  int
	Confidence float64
}

// PeriodicityDetector spots event streams that recur on a schedule, such as
// cron jobs or batch windows.
type PeriodicityDetector struct{}

// NewPeriodicityDetector constructs a periodicity detector.
func NewPeriodicityDetector() *PeriodicityDetector {
	return &PeriodicityDetector{}
}

// Detect buckets the gaps between consecutive timestamps and reports the
// dominant bucket when it holds at least half of four or more intervals.
func (d *PeriodicityDetector) Detect(timestamps []time.Time) (Periodicity, bool) {
	if len(timestamps) < minIntervals+1 {
		return Periodicity{}, false
	}
	sorted := append([]time.Time(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Sub(sorted[i-1])
		if gap <= 0 {
			continue
		}
		gaps = append(gaps, float64(gap))
	}
	if len(gaps) < minIntervals {
		return Periodicity{}, false
	}

	median := percentile(gaps, 0.5)
	width := math.Max(float64(minBucketWidth), median*bucketWidthFactor)
	buckets := make(map[int64][]float64)
	for _, g := range gaps {
		key := int64(math.Round(g / width))
		buckets[key] = append(buckets[key], g)
	}

	var best []float64
	var bestKey int64
	for key, members := range buckets {
		if len(members) > len(best) || (len(members) == len(best) && key < bestKey) {
			best, bestKey = members, key
		}
	}
	share := float64(len(best)) / float64(len(gaps))
	if share < dominantShare {
		return Periodicity{}, false
	}

	center := percentile(best, 0.5)
	jitter := meanAbsoluteDeviation(gaps, center)
	regularity := 1 - math.Min(1, jitter/center)
	return Periodicity{
		Interval:   time.Duration(center),
		Share:      share,
		Intervals:  len(gaps),
		Confidence: math.Max(0, math.Min(0.95, share*0.6+regularity*0.4)),
	}, true
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
