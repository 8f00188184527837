// Package metrics exposes run-loop metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tripwire"

// Collector holds the run-loop metrics.
//
// Metrics:
//   - tripwire_engine_cycles_total: monitor cycles executed
//   - tripwire_engine_cycle_duration_seconds: wall time of a cycle, fan-out to end-of-cycle check
//   - tripwire_engine_actions_completed_total: successful executor invocations
//   - tripwire_engine_action_errors_total: failed executor invocations
//   - tripwire_engine_condition_resolutions_total: observation passes by result (matched, unmatched)
//   - tripwire_engine_condition_errors_total: failed observation passes
//   - tripwire_engine_running: 1 while a run is active
//
// All methods are safe on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	actions       prometheus.Counter
	actionErrors  prometheus.Counter
	resolutions   *prometheus.CounterVec
	condErrors    prometheus.Counter
	running       prometheus.Gauge
}

// NewCollector creates and registers the metrics. A nil registry gets a
// fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	const subsystem = "engine"

	c := &Collector{
		registry: registry,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycles_total",
			Help:      "Total number of monitor cycles executed",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a monitor cycle in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		actions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "actions_completed_total",
			Help:      "Total number of successful action executions",
		}),
		actionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "action_errors_total",
			Help:      "Total number of failed action executions",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "condition_resolutions_total",
			Help:      "Total number of condition resolutions by result",
		}, []string{"result"}),
		condErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "condition_errors_total",
			Help:      "Total number of failed condition observations",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "running",
			Help:      "1 while a run is active",
		}),
	}

	registry.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.actions,
		c.actionErrors,
		c.resolutions,
		c.condErrors,
		c.running,
	)
	return c
}

// RecordCycle records one completed cycle.
func (c *Collector) RecordCycle(d time.Duration) {
	if c == nil {
		return
	}
	c.cycles.Inc()
	c.cycleDuration.Observe(d.Seconds())
}

// RecordAction records an executor invocation.
func (c *Collector) RecordAction(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.actionErrors.Inc()
		return
	}
	c.actions.Inc()
}

// RecordResolution records a condition resolving matched or unmatched.
func (c *Collector) RecordResolution(matched bool) {
	if c == nil {
		return
	}
	result := "unmatched"
	if matched {
		result = "matched"
	}
	c.resolutions.WithLabelValues(result).Inc()
}

// RecordConditionError records a failed observation.
func (c *Collector) RecordConditionError() {
	if c == nil {
		return
	}
	c.condErrors.Inc()
}

// SetRunning flips the running gauge.
func (c *Collector) SetRunning(running bool) {
	if c == nil {
		return
	}
	if running {
		c.running.Set(1)
		return
	}
	c.running.Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
