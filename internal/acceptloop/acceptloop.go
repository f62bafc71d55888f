// Package acceptloop runs the single producer: it blocks on accept, stamps
// the arrival time, and submits the connection to the admission
// controller. Modeled on the accept-loop/handler split common across the
// retrieved corpus (see other_examples' acceptloop package), generalized
// so the "handler" here is always the dispatcher's AddRequest.
package acceptloop

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"so-http10-demo/internal/connrecord"
	"so-http10-demo/internal/dispatcher"
)

// Loop is the single-threaded accept producer for one listener.
type Loop struct {
	listener net.Listener
	d        *dispatcher.Dispatcher
	log      zerolog.Logger
}

// Option configures optional collaborators on a Loop.
type Option func(*Loop)

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(al *Loop) { al.log = l }
}

// New creates a Loop that accepts on l and submits arrivals to d.
func New(l net.Listener, d *dispatcher.Dispatcher, opts ...Option) *Loop {
	al := &Loop{listener: l, d: d, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(al)
	}
	return al
}

// Run blocks accepting connections until ctx is canceled or the listener is
// closed out from under it. A transient accept error (anything other than
// the loop's own shutdown) is logged and the loop continues, per spec.md
// §7's "accept failure: log and continue".
func (al *Loop) Run(ctx context.Context) error {
	for {
		conn, err := al.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			al.log.Warn().Err(err).Msg("acceptloop: transient accept error")
			continue
		}

		record := connrecord.Record{
			Conn:        conn,
			ArrivalTime: time.Now(),
		}
		al.d.AddRequest(record)
	}
}

// Stop closes the listener, unblocking a pending Accept in Run.
func (al *Loop) Stop() error {
	return al.listener.Close()
}
