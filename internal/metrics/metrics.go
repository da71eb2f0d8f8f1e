// Package metrics exposes Prometheus counters and gauges for the goal
// engine, following the shape of the ChuLiYu-raft-recovery collector: one
// struct of pre-registered metrics with small Record* methods, served over
// /metrics via promhttp.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the engine reports.
type Collector struct {
	goalsScheduled   prometheus.Counter
	goalsDispatched  prometheus.Counter
	goalsAchieved    prometheus.Counter
	goalsRetried     prometheus.Counter
	goalsGivenUp     prometheus.Counter
	goalsCorrupted   prometheus.Counter
	goalsBlocked     prometheus.Counter
	handlerLatency   prometheus.Histogram
	killerActivated  prometheus.Counter
	retentionDeleted prometheus.Counter
}

// NewCollector builds and registers every metric against the default
// registry. Call once per process.
func NewCollector() *Collector {
	c := &Collector{
		goalsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goals_scheduled_total",
			Help: "Total number of goals scheduled.",
		}),
		goalsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goals_dispatched_total",
			Help: "Total number of goals handed to a handler.",
		}),
		goalsAchieved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goals_achieved_total",
			Help: "Total number of goals that reached ACHIEVED.",
		}),
		goalsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goals_retried_total",
			Help: "Total number of RetryMeLater results.",
		}),
		goalsGivenUp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goals_given_up_total",
			Help: "Total number of goals that reached GIVEN_UP.",
		}),
		goalsCorrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goals_corrupted_total",
			Help: "Total number of goals that reached CORRUPTED.",
		}),
		goalsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goals_blocked_total",
			Help: "Total number of goals administratively blocked.",
		}),
		handlerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "goals_handler_latency_seconds",
			Help:    "Wall-clock duration of a single handler invocation.",
			Buckets: prometheus.DefBuckets,
		}),
		killerActivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goals_killer_guard_total",
			Help: "Total number of goals marked CORRUPTED by the killer guard.",
		}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goals_retention_deleted_total",
			Help: "Total number of ACHIEVED goals deleted by the retention sweeper.",
		}),
	}

	prometheus.MustRegister(
		c.goalsScheduled, c.goalsDispatched, c.goalsAchieved, c.goalsRetried,
		c.goalsGivenUp, c.goalsCorrupted, c.goalsBlocked, c.handlerLatency,
		c.killerActivated, c.retentionDeleted,
	)

	return c
}

func (c *Collector) RecordScheduled()          { c.goalsScheduled.Inc() }
func (c *Collector) RecordDispatched()         { c.goalsDispatched.Inc() }
func (c *Collector) RecordAchieved()           { c.goalsAchieved.Inc() }
func (c *Collector) RecordRetried()            { c.goalsRetried.Inc() }
func (c *Collector) RecordGivenUp()            { c.goalsGivenUp.Inc() }
func (c *Collector) RecordCorrupted()          { c.goalsCorrupted.Inc() }
func (c *Collector) RecordBlocked()            { c.goalsBlocked.Inc() }
func (c *Collector) RecordKillerActivated()    { c.killerActivated.Inc() }
func (c *Collector) RecordRetentionDeleted(n int) {
	c.retentionDeleted.Add(float64(n))
}
func (c *Collector) ObserveHandlerLatency(seconds float64) { c.handlerLatency.Observe(seconds) }

// StartServer serves /metrics on port, blocking until the listener fails
// (spec.md §10, ambient observability). It has no shutdown hook; the server
// runs for the life of the process.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
