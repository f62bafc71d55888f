package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOrReuse registers c against reg, returning whichever collector of
// type T ends up owning that metric name+labels. Pools can be rebuilt
// under the same name across a process's lifetime (tests exercise this
// directly), and a plain promauto registration would panic the second time;
// recovering the already-registered collector instead keeps NewPool callable
// any number of times for the same name.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// Pool wraps the Prometheus collectors for one internal/sched.Pool. Every
// method is nil-receiver-safe so a Pool can run with metrics disabled.
type Pool struct {
	busy       prometheus.Gauge
	queueLen   prometheus.Gauge
	submitted  prometheus.Counter
	completed  prometheus.Counter
	rejected   prometheus.Counter
	waitMillis prometheus.Histogram
	runMillis  prometheus.Histogram
}

// NewPool registers a Pool's collectors under reg, labeled by name so
// multiple pools can share one registry.
func NewPool(reg prometheus.Registerer, name string) *Pool {
	labels := prometheus.Labels{"pool": name}
	return &Pool{
		busy: registerOrReuse[prometheus.Gauge](reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sched_pool_busy_workers",
			Help:        "Workers currently executing a task.",
			ConstLabels: labels,
		})),
		queueLen: registerOrReuse[prometheus.Gauge](reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sched_pool_queue_length",
			Help:        "Tasks currently queued across all priority lanes.",
			ConstLabels: labels,
		})),
		submitted: registerOrReuse[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "sched_pool_submitted_total",
			Help:        "Tasks successfully enqueued.",
			ConstLabels: labels,
		})),
		completed: registerOrReuse[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "sched_pool_completed_total",
			Help:        "Tasks that finished executing.",
			ConstLabels: labels,
		})),
		rejected: registerOrReuse[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "sched_pool_rejected_total",
			Help:        "Tasks rejected due to queue backpressure.",
			ConstLabels: labels,
		})),
		waitMillis: registerOrReuse[prometheus.Histogram](reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "sched_pool_wait_milliseconds",
			Help:        "Time a task spent queued before execution started.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		})),
		runMillis: registerOrReuse[prometheus.Histogram](reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "sched_pool_run_milliseconds",
			Help:        "Task execution duration.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 14),
		})),
	}
}

func (p *Pool) SetBusy(n int) {
	if p == nil {
		return
	}
	p.busy.Set(float64(n))
}

func (p *Pool) SetQueueLen(n int) {
	if p == nil {
		return
	}
	p.queueLen.Set(float64(n))
}

func (p *Pool) IncSubmitted() {
	if p == nil {
		return
	}
	p.submitted.Inc()
}

func (p *Pool) IncCompleted() {
	if p == nil {
		return
	}
	p.completed.Inc()
}

func (p *Pool) IncRejected() {
	if p == nil {
		return
	}
	p.rejected.Inc()
}

func (p *Pool) ObserveWait(d time.Duration) {
	if p == nil {
		return
	}
	p.waitMillis.Observe(float64(d) / float64(time.Millisecond))
}

func (p *Pool) ObserveRun(d time.Duration) {
	if p == nil {
		return
	}
	p.runMillis.Observe(float64(d) / float64(time.Millisecond))
}
