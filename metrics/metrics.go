// Package metrics exposes pool counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utkarsh5026/fiberpool/pool"
)

const subsystem = "pool"

// Collector is a prometheus.Collector for one pool. Counters are fed by
// pool events, gauges are read from Stats at scrape time.
type Collector struct {
	pool *pool.Pool
	subs []*pool.Subscription

	ended     prometheus.Counter
	succeeded prometheus.Counter
	failed    prometheus.Counter
	admitted  prometheus.Counter

	inFlight *prometheus.Desc
	queued   *prometheus.Desc
	capacity *prometheus.Desc
}

// NewCollector subscribes to p and returns its collector. poolName is the
// value of the pool label; it defaults to p.Name().
func NewCollector(p *pool.Pool, namespace, poolName string) *Collector {
	if poolName == "" {
		poolName = p.Name()
	}
	labels := prometheus.Labels{"pool": poolName}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, labels)
	}

	c := &Collector{
		pool:      p,
		ended:     counter("tasks_ended_total", "Tasks that settled, successfully or not."),
		succeeded: counter("tasks_succeeded_total", "Tasks that returned without error."),
		failed:    counter("tasks_failed_total", "Tasks that returned an error or panicked."),
		admitted:  counter("tasks_admitted_total", "Tasks moved from the queue to in-flight."),
		inFlight:  gauge("tasks_in_flight", "Tasks currently running."),
		queued:    gauge("tasks_queued", "Tasks waiting for admission."),
		capacity:  gauge("capacity", "Maximum number of in-flight tasks."),
	}

	c.subs = []*pool.Subscription{
		p.Subscribe(pool.EventTaskEnded, func(pool.Event) { c.ended.Inc() }),
		p.Subscribe(pool.EventTaskSucceeded, func(pool.Event) { c.succeeded.Inc() }),
		p.Subscribe(pool.EventTaskFailed, func(pool.Event) { c.failed.Inc() }),
		p.Subscribe(pool.EventTaskAdmitted, func(pool.Event) { c.admitted.Inc() }),
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.ended.Describe(ch)
	c.succeeded.Describe(ch)
	c.failed.Describe(ch)
	c.admitted.Describe(ch)
	ch <- c.inFlight
	ch <- c.queued
	ch <- c.capacity
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.ended.Collect(ch)
	c.succeeded.Collect(ch)
	c.failed.Collect(ch)
	c.admitted.Collect(ch)

	stats := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(stats.InFlight))
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(stats.Queued))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(stats.Capacity))
}

// Register registers the collector with reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	return reg.Register(c)
}

// Close detaches the collector from the pool's events. Counters keep
// their last values.
func (c *Collector) Close() {
	for _, s := range c.subs {
		s.Unsubscribe()
	}
}

// NewRegistry returns a registry with the Go runtime and process
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the metrics gathered by reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
