// Package workerpool runs the fixed set of long-lived worker goroutines
// that pull connections off the dispatcher and hand them to an opaque
// Serve callback.
package workerpool

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"so-http10-demo/internal/dispatcher"
)

// Stats is handed to Serve for every connection. DispatchTime is a delta
// (time spent waiting), not a timestamp, and is captured before Serve runs.
type Stats struct {
	ThreadID     int
	ArrivalTime  time.Time
	DispatchTime time.Duration
}

// Serve reads a request off conn and writes a response. It must close no
// fds itself; the worker closes conn once Serve returns. Serve is the
// core's only opaque external collaborator — workerpool knows nothing
// about HTTP.
type Serve func(conn net.Conn, stats Stats)

// Pool owns N worker goroutines, indexed 0..N-1. Workers never exit and are
// never joined, matching the lifecycle in spec.md §3.
type Pool struct {
	n    int
	d    *dispatcher.Dispatcher
	serve Serve
	log  zerolog.Logger
}

// Option configures optional collaborators on a Pool.
type Option func(*Pool)

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// New creates a pool of n workers pulling from d and invoking serve.
func New(n int, d *dispatcher.Dispatcher, serve Serve, opts ...Option) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{n: n, d: d, serve: serve, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the n worker goroutines. It returns immediately; workers
// run for the lifetime of the process.
func (p *Pool) Start() {
	for id := 0; id < p.n; id++ {
		go p.run(id)
	}
}

func (p *Pool) run(threadID int) {
	for {
		record := p.d.GetRequest()

		now := time.Now()
		stats := Stats{
			ThreadID:     threadID,
			ArrivalTime:  record.ArrivalTime,
			DispatchTime: now.Sub(record.ArrivalTime),
		}

		p.log.Debug().
			Int("thread_id", threadID).
			Dur("dispatch_time", stats.DispatchTime).
			Msg("workerpool: dispatching connection")

		p.serve(record.Conn, stats)
		_ = record.Conn.Close()
		p.d.NotifyDone()
	}
}
