package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flightcheck"

// Collector holds the engine's Prometheus instruments. A nil *Collector is a no-op.
type Collector struct {
	evaluations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	gated       *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	running     prometheus.Gauge
}

// NewCollector registers the instruments on reg. A nil reg leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rule",
			Name:      "evaluations_total",
			Help:      "Rule evaluations by terminal state and severity",
		}, []string{"rule", "state", "severity"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rule",
			Name:      "duration_seconds",
			Help:      "Time spent inside rule evaluation",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"rule"}),
		gated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rule",
			Name:      "gated_total",
			Help:      "Rules short-circuited by event availability",
		}, []string{"rule", "availability"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Evaluation runs by outcome",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Wall time of complete evaluation runs",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "running_rules",
			Help:      "Rules currently holding a worker slot",
		}),
	}
}

func (c *Collector) RuleStarted() {
	if c == nil {
		return
	}
	c.running.Inc()
}

func (c *Collector) RuleFinished(ruleID string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.running.Dec()
	c.duration.WithLabelValues(ruleID).Observe(elapsed.Seconds())
}

func (c *Collector) RuleOutcome(ruleID, state, severity string) {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues(ruleID, state, severity).Inc()
}

func (c *Collector) RuleGated(ruleID, availability string) {
	if c == nil {
		return
	}
	c.gated.WithLabelValues(ruleID, availability).Inc()
}

func (c *Collector) RunFinished(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(elapsed.Seconds())
}
