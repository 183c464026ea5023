package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

const (
	// OutcomeSuccess labels successful analyses.
	OutcomeSuccess = "success"
	// OutcomeError labels failed analyses.
	OutcomeError = "error"
)

var (
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetsim",
			Name:      "ticks_total",
			Help:      "Total number of simulation ticks executed.",
		},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetsim",
			Name:      "tick_seconds",
			Help:      "Time spent computing a simulation tick.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	nodesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetsim",
			Name:      "nodes",
			Help:      "Number of simulated nodes partitioned by status.",
		},
		[]string{"status"},
	)

	applicationHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetsim",
			Name:      "application_health_score",
			Help:      "Latest health score per application.",
		},
		[]string{"application"},
	)

	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsim",
			Name:      "incidents_total",
			Help:      "Incident lifecycle transitions partitioned by scenario and action.",
		},
		[]string{"scenario", "action"},
	)

	hypothesesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsim",
			Name:      "hypotheses_total",
			Help:      "Root-cause hypotheses generated, partitioned by kind.",
		},
		[]string{"kind"},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsim",
			Name:      "analyses_total",
			Help:      "Root-cause analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetsim",
			Name:      "analysis_seconds",
			Help:      "Root-cause analysis latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	framesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetsim",
			Name:      "frames_dropped_total",
			Help:      "Tick frames dropped because a consumer was not keeping up.",
		},
	)

	streamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetsim",
			Name:      "stream_subscribers",
			Help:      "Active WatchTicks subscribers.",
		},
	)

	reportCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetsim",
			Name:      "report_cache_total",
			Help:      "RCA report cache lookups partitioned by result.",
		},
		[]string{"result"},
	)
)

// Register attaches fleetsim collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		tickDurationSeconds,
		nodesByStatus,
		applicationHealth,
		incidentsTotal,
		hypothesesTotal,
		analysesTotal,
		analysisDurationSeconds,
		framesDropped,
		streamSubscribers,
		reportCacheTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records one tick and the node status distribution it produced.
func ObserveTick(duration time.Duration, statusCounts map[models.NodeStatus]int) {
	ticksTotal.Inc()
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
	for _, s := range []models.NodeStatus{
		models.StatusOnline, models.StatusWarning, models.StatusCritical,
		models.StatusOffline, models.StatusMaintenance,
	} {
		nodesByStatus.WithLabelValues(string(s)).Set(float64(statusCounts[s]))
	}
}

// SetApplicationHealth publishes an application's latest score.
func SetApplicationHealth(app string, score float64) {
	applicationHealth.WithLabelValues(app).Set(score)
}

// ObserveIncident counts an incident action such as injected or cancelled.
func ObserveIncident(scenario, action string) {
	incidentsTotal.WithLabelValues(scenario, action).Inc()
}

// ObserveAnalysis records an analysis duration, outcome and hypotheses.
func ObserveAnalysis(duration time.Duration, outcome string, hypotheses []models.Hypothesis) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
	for _, h := range hypotheses {
		hypothesesTotal.WithLabelValues(h.Kind).Inc()
	}
}

// FrameDropped counts a frame that was not delivered.
func FrameDropped() {
	framesDropped.Inc()
}

// SetStreamSubscribers publishes the number of live tick subscribers.
func SetStreamSubscribers(n int) {
	streamSubscribers.Set(float64(n))
}

// ObserveReportCache counts a report cache hit or miss.
func ObserveReportCache(hit bool) {
	if hit {
		reportCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	reportCacheTotal.WithLabelValues("miss").Inc()
}
