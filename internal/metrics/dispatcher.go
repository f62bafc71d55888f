// Package metrics wraps github.com/prometheus/client_golang collectors for
// the dispatcher and the background task pools. Every type here is
// nil-safe: a nil *Dispatcher or *Pool is a valid "metrics disabled"
// value, so callers never need to guard every call site with an if.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatcher tracks the connection-level admission controller: how many
// connections are waiting/running against the shared capacity, and how the
// four schedalg policies are behaving under saturation.
type Dispatcher struct {
	waiting   prometheus.Gauge
	running   prometheus.Gauge
	admitted  prometheus.Counter
	rejected  *prometheus.CounterVec
	evicted   *prometheus.CounterVec
	dispatch  prometheus.Histogram
}

// NewDispatcher registers and returns a Dispatcher metrics bundle. Pass a
// nil registerer to use the default global registry, or nil *Dispatcher
// (by not calling NewDispatcher at all) to disable metrics entirely.
func NewDispatcher(reg prometheus.Registerer) *Dispatcher {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Dispatcher{
		waiting: registerOrReuse[prometheus.Gauge](reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "waiting_count",
			Help:      "Connections currently held in the ring buffer.",
		})),
		running: registerOrReuse[prometheus.Gauge](reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "running_count",
			Help:      "Connections currently being served by a worker.",
		})),
		admitted: registerOrReuse[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "admitted_total",
			Help:      "Connections admitted into the ring buffer.",
		})),
		rejected: registerOrReuse[*prometheus.CounterVec](reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "rejected_total",
			Help:      "Arriving connections closed immediately under saturation, by schedalg.",
		}, []string{"schedalg"})),
		evicted: registerOrReuse[*prometheus.CounterVec](reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "evicted_total",
			Help:      "Already-waiting connections closed to admit an arrival, by schedalg.",
		}, []string{"schedalg"})),
		dispatch: registerOrReuse[prometheus.Histogram](reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatcher",
			Name:      "dispatch_latency_seconds",
			Help:      "Time a connection spent in the ring buffer before a worker picked it up.",
			Buckets:   prometheus.DefBuckets,
		})),
	}
}

func (d *Dispatcher) SetWaiting(n int) {
	if d == nil {
		return
	}
	d.waiting.Set(float64(n))
}

func (d *Dispatcher) SetRunning(n int) {
	if d == nil {
		return
	}
	d.running.Set(float64(n))
}

func (d *Dispatcher) IncAdmitted() {
	if d == nil {
		return
	}
	d.admitted.Inc()
}

func (d *Dispatcher) IncRejected(schedalg string) {
	if d == nil {
		return
	}
	d.rejected.WithLabelValues(schedalg).Inc()
}

func (d *Dispatcher) AddEvicted(schedalg string, n int) {
	if d == nil || n <= 0 {
		return
	}
	d.evicted.WithLabelValues(schedalg).Add(float64(n))
}

func (d *Dispatcher) ObserveDispatch(latency time.Duration) {
	if d == nil {
		return
	}
	d.dispatch.Observe(latency.Seconds())
}
