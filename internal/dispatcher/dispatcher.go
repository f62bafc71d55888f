// Package dispatcher implements the shared mutable state that synchronizes
// the single accept-loop producer with the fixed worker pool: the ring
// buffer, the waiting/running counters, and the two condition variables
// that mediate between them.
//
// There is deliberately no package-level dispatcher value. The source this
// is modeled on used a single global jobs_manager_t; every caller here
// constructs its own *Dispatcher and threads it explicitly, so tests can
// run many independent dispatchers in parallel.
package dispatcher

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"so-http10-demo/internal/connrecord"
	"so-http10-demo/internal/diag"
	"so-http10-demo/internal/metrics"
	"so-http10-demo/internal/ring"
	"so-http10-demo/internal/schedalg"
)

// Dispatcher enforces 0 <= waiting+running <= capacity at every critical
// section exit, and hands arriving connections to one of the four schedalg
// policies once that invariant would otherwise be violated.
type Dispatcher struct {
	mu         sync.Mutex
	produceCV  *sync.Cond
	consumeCV  *sync.Cond
	buf        *ring.Buffer[connrecord.Record]
	waiting    int
	running    int
	capacity   int
	alg        schedalg.Alg
	rng        *mathrand.Rand
	met        *metrics.Dispatcher
	log        zerolog.Logger
	trail      *diag.Trail
}

// Option configures optional collaborators on a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics attaches a metrics.Dispatcher. Passing nil (the default)
// disables metrics.
func WithMetrics(m *metrics.Dispatcher) Option {
	return func(d *Dispatcher) { d.met = m }
}

// WithDiag attaches a diag.Trail recording recent admission decisions for
// /status. Passing nil (the default) disables trail recording.
func WithDiag(t *diag.Trail) Option {
	return func(d *Dispatcher) { d.trail = t }
}

// WithLogger attaches a logger for admission decisions. Defaults to a
// no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// New builds a Dispatcher with the given capacity (max_accepted_count) and
// admission policy. capacity must be >= 1.
func New(capacity int, alg schedalg.Alg, opts ...Option) *Dispatcher {
	if capacity < 1 {
		capacity = 1
	}
	d := &Dispatcher{
		buf:      ring.New[connrecord.Record](capacity),
		capacity: capacity,
		alg:      alg,
		rng:      mathrand.New(mathrand.NewSource(seed())),
		log:      zerolog.Nop(),
	}
	d.produceCV = sync.NewCond(&d.mu)
	d.consumeCV = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// seed reads entropy once from crypto/rand to seed the package's PRNG.
// Seeding once at construction (rather than on every DROP_RANDOM decision)
// avoids correlated coin flips across calls made within the same wall-clock
// second — a real bug in the source this core is modeled on.
func seed() int64 {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// Capacity returns max_accepted_count.
func (d *Dispatcher) Capacity() int { return d.capacity }

// Alg returns the configured schedalg, immutable after construction.
func (d *Dispatcher) Alg() schedalg.Alg { return d.alg }

// RecentDecisions returns the buffered admission-eviction trail, or nil if
// no diag.Trail was attached via WithDiag.
func (d *Dispatcher) RecentDecisions() []diag.Decision {
	if d.trail == nil {
		return nil
	}
	return d.trail.Snapshot()
}

// Waiting returns the current waiting_count.
func (d *Dispatcher) Waiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiting
}

// Running returns the current running_count.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// AddRequest is the admission controller. It blocks, drops the arrival, or
// evicts already-waiting connections according to the configured schedalg,
// then enqueues the arrival once the capacity invariant allows it.
func (d *Dispatcher) AddRequest(r connrecord.Record) {
	d.mu.Lock()

	var evicted []connrecord.Record
	admitted := true

admission:
	for d.waiting+d.running == d.capacity {
		switch d.alg {
		case schedalg.Block:
			d.produceCV.Wait() // re-checks the loop condition on wake; spurious wakeups are fine

		case schedalg.DropTail:
			admitted = false
			break admission

		case schedalg.DropHead:
			if d.waiting == 0 {
				// Every slot is held by running workers; there is nothing
				// queued to evict. Spinning here would busy-loop forever
				// (spec.md open question #1), so fall back to waiting for
				// a worker to finish, same as BLOCK.
				d.produceCV.Wait()
				continue
			}
			victim, _ := d.buf.Dequeue(ring.Head)
			d.waiting--
			evicted = append(evicted, victim)

		case schedalg.DropRandom:
			if d.waiting == 0 {
				admitted = false
				break admission
			}
			evicted = append(evicted, d.dropRandomHalfLocked()...)
		}
	}

	if admitted {
		if err := d.buf.Enqueue(r); err != nil {
			// Unreachable: the loop above guarantees waiting+running < capacity
			// at this point, so the buffer (sized to capacity) always has room.
			d.log.Error().Err(err).Msg("dispatcher: enqueue failed despite capacity check")
			admitted = false
		} else {
			d.waiting++
			d.met.IncAdmitted()
			d.consumeCV.Signal()
		}
	}

	rejectedArrival := !admitted
	if rejectedArrival {
		evicted = append(evicted, r)
		d.met.IncRejected(d.alg.String())
	} else {
		d.met.AddEvicted(d.alg.String(), len(evicted))
	}
	d.met.SetWaiting(d.waiting)
	d.met.SetRunning(d.running)

	if len(evicted) > 0 {
		d.log.Info().
			Str("schedalg", d.alg.String()).
			Int("evicted", len(evicted)).
			Bool("rejected_arrival", rejectedArrival).
			Msg("dispatcher: admission eviction")

		if d.trail != nil {
			d.trail.Push(diag.Decision{
				At:              time.Now(),
				Schedalg:        d.alg.String(),
				Evicted:         len(evicted),
				RejectedArrival: rejectedArrival,
			})
		}
	}

	d.mu.Unlock()

	// Closing is socket I/O; it's hoisted out here so it never happens
	// while the mutex is held (spec.md §9 design notes).
	for _, victim := range evicted {
		_ = victim.Close()
	}
}

// dropRandomHalfLocked implements DROP_RANDOM's eviction rule. Must be
// called with d.mu held. When exactly one connection is waiting, it is
// removed. Otherwise floor(waiting/2) connections are removed, each by an
// independent coin flip between HEAD and TAIL.
func (d *Dispatcher) dropRandomHalfLocked() []connrecord.Record {
	if d.waiting == 1 {
		victim, _ := d.buf.Dequeue(ring.Head)
		d.waiting = 0
		return []connrecord.Record{victim}
	}

	n := d.waiting / 2
	victims := make([]connrecord.Record, 0, n)
	for i := 0; i < n; i++ {
		end := ring.Head
		if d.rng.Intn(2) == 1 {
			end = ring.Tail
		}
		victim, _ := d.buf.Dequeue(end)
		victims = append(victims, victim)
	}
	d.waiting -= len(victims)
	return victims
}

// GetRequest is called by each worker before serving. It blocks until a
// connection is waiting, then moves capacity accounting from waiting to
// running. It never signals produceCV: dispatch doesn't change
// waiting+running, so the producer gains no new capacity here.
func (d *Dispatcher) GetRequest() connrecord.Record {
	d.mu.Lock()
	for d.waiting == 0 {
		d.consumeCV.Wait()
	}
	r, _ := d.buf.Dequeue(ring.Head)
	d.waiting--
	d.running++
	d.met.SetWaiting(d.waiting)
	d.met.SetRunning(d.running)
	d.mu.Unlock()
	d.met.ObserveDispatch(time.Since(r.ArrivalTime))
	return r
}

// NotifyDone is called by a worker after serve returns and the connection
// is closed. It always signals produceCV (never broadcasts): there is
// exactly one accept-loop producer, so at most one waiter can exist.
func (d *Dispatcher) NotifyDone() {
	d.mu.Lock()
	d.running--
	d.met.SetRunning(d.running)
	d.produceCV.Signal()
	d.mu.Unlock()
}
