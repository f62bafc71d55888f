// Package connrecord defines the unit of work that flows from the accept
// loop, through the ring buffer, to a worker.
package connrecord

import (
	"net"
	"time"
)

// Record represents one accepted connection awaiting or undergoing service.
// It has exactly one live owner at any moment: the accept loop (pre-submit),
// the ring buffer (waiting), a worker (running), or no one (after Close).
// A Record whose Conn has been closed must not be referenced again.
type Record struct {
	Conn        net.Conn
	ArrivalTime time.Time
}

// Close releases the underlying socket. Safe to call even if Conn is nil,
// which happens only for zero-value Records used in tests.
func (r Record) Close() error {
	if r.Conn == nil {
		return nil
	}
	return r.Conn.Close()
}
