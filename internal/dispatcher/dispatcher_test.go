package dispatcher

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"so-http10-demo/internal/connrecord"
	"so-http10-demo/internal/schedalg"
)

// fakeConn is a minimal net.Conn that only tracks whether Close was called,
// so tests can assert eviction/rejection without real sockets.
type fakeConn struct {
	id     int
	closed int32
}

func (c *fakeConn) Read(b []byte) (int, error)         { return 0, net.ErrClosed }
func (c *fakeConn) Write(b []byte) (int, error)        { return len(b), nil }
func (c *fakeConn) Close() error                       { atomic.StoreInt32(&c.closed, 1); return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return nil }
func (c *fakeConn) RemoteAddr() net.Addr               { return nil }
func (c *fakeConn) SetDeadline(time.Time) error        { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error    { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error   { return nil }
func (c *fakeConn) isClosed() bool                     { return atomic.LoadInt32(&c.closed) == 1 }

func rec(id int) (connrecord.Record, *fakeConn) {
	c := &fakeConn{id: id}
	return connrecord.Record{Conn: c, ArrivalTime: time.Now()}, c
}

func TestFIFO_NoDrops(t *testing.T) {
	d := New(4, schedalg.Block)

	_, ca := rec(1)
	_, cb := rec(2)
	_, cc := rec(3)
	ra, _ := rec(1)
	rb, _ := rec(2)
	rc, _ := rec(3)
	_ = ca
	_ = cb
	_ = cc

	d.AddRequest(ra)
	d.AddRequest(rb)
	d.AddRequest(rc)
	assert.Equal(t, 3, d.Waiting())

	got1 := d.GetRequest()
	got2 := d.GetRequest()
	got3 := d.GetRequest()

	assert.Same(t, ra.Conn, got1.Conn)
	assert.Same(t, rb.Conn, got2.Conn)
	assert.Same(t, rc.Conn, got3.Conn)
	assert.Equal(t, 3, d.Running())
}

func TestBlock_AddRequestWaitsForCompletion(t *testing.T) {
	d := New(2, schedalg.Block)

	r1, _ := rec(1)
	r2, _ := rec(2)
	d.AddRequest(r1)
	d.AddRequest(r2)
	assert.Equal(t, 2, d.Waiting())

	// Drain both into "running".
	got1 := d.GetRequest()
	got2 := d.GetRequest()
	_ = got1
	_ = got2
	assert.Equal(t, 0, d.Waiting())
	assert.Equal(t, 2, d.Running())

	// Capacity is now fully consumed by running workers. A third arrival
	// must block until NotifyDone frees a slot.
	r3, _ := rec(3)
	admitted := make(chan struct{})
	go func() {
		d.AddRequest(r3)
		close(admitted)
	}()

	select {
	case <-admitted:
		t.Fatal("AddRequest returned before any slot freed up")
	case <-time.After(50 * time.Millisecond):
	}

	d.NotifyDone()

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("AddRequest never unblocked after NotifyDone")
	}
	assert.Equal(t, 1, d.Waiting())
	assert.Equal(t, 1, d.Running())
}

func TestDropTail_ClosesArrival(t *testing.T) {
	d := New(1, schedalg.DropTail)

	rq, _ := rec(1)
	d.AddRequest(rq) // fills the single slot

	rn, cn := rec(2)
	d.AddRequest(rn)

	assert.True(t, cn.isClosed(), "arriving connection under DROP_TAIL should be closed immediately")
	assert.Equal(t, 1, d.Waiting())
	got := d.GetRequest()
	assert.Same(t, rq.Conn, got.Conn)
}

func TestDropHead_EvictsOldest(t *testing.T) {
	d := New(3, schedalg.DropHead)

	// One worker "running" leaves capacity 2 for the queue.
	busy, _ := rec(0)
	d.AddRequest(busy)
	_ = d.GetRequest() // busy -> running, frees a waiting slot

	ra, ca := rec(1)
	rb, _ := rec(2)
	d.AddRequest(ra)
	d.AddRequest(rb)
	assert.Equal(t, 2, d.Waiting())

	rc, _ := rec(3)
	d.AddRequest(rc)

	assert.True(t, ca.isClosed(), "oldest waiting connection should be evicted")
	assert.Equal(t, 2, d.Waiting())

	got := d.GetRequest()
	assert.Same(t, rb.Conn, got.Conn, "survivor B should now be head")
	got2 := d.GetRequest()
	assert.Same(t, rc.Conn, got2.Conn)
}

func TestDropHead_WaitingZeroFallsBackToBlock(t *testing.T) {
	d := New(1, schedalg.DropHead)

	busy, _ := rec(0)
	d.AddRequest(busy)
	_ = d.GetRequest() // running=1, waiting=0, capacity=1: saturated with nothing queued

	arrival, ac := rec(1)
	admitted := make(chan struct{})
	go func() {
		d.AddRequest(arrival)
		close(admitted)
	}()

	select {
	case <-admitted:
		t.Fatal("DROP_HEAD with waiting==0 must not admit/spin; it should block")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, ac.isClosed())

	d.NotifyDone()

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("DROP_HEAD fallback never unblocked after NotifyDone")
	}
	assert.Equal(t, 1, d.Waiting())
}

func TestDropRandom_WaitingZero_RejectsArrival(t *testing.T) {
	d := New(1, schedalg.DropRandom)

	busy, _ := rec(0)
	d.AddRequest(busy)
	_ = d.GetRequest() // running=1, waiting=0

	arrival, ac := rec(1)
	d.AddRequest(arrival)

	assert.True(t, ac.isClosed())
	assert.Equal(t, 0, d.Waiting())
}

func TestDropRandom_EvictsHalf(t *testing.T) {
	d := New(5, schedalg.DropRandom)

	busy, _ := rec(0)
	d.AddRequest(busy)
	_ = d.GetRequest() // running=1, capacity for queue = 4

	conns := make([]*fakeConn, 4)
	for i := 0; i < 4; i++ {
		r, c := rec(i + 1)
		conns[i] = c
		d.AddRequest(r)
	}
	require.Equal(t, 4, d.Waiting())

	arrival, ac := rec(99)
	d.AddRequest(arrival)

	assert.False(t, ac.isClosed(), "the arrival itself is admitted, not dropped")
	assert.Equal(t, 3, d.Waiting(), "waiting should drop by exactly floor(4/2)=2 then gain 1 for the admitted arrival")

	closedCount := 0
	for _, c := range conns {
		if c.isClosed() {
			closedCount++
		}
	}
	assert.Equal(t, 2, closedCount, "exactly floor(waiting/2) victims should be evicted")
}

func TestDropRandom_SingleWaitingElement_DropsIt(t *testing.T) {
	d := New(2, schedalg.DropRandom)

	busy, _ := rec(0)
	d.AddRequest(busy)
	_ = d.GetRequest() // running=1, capacity for queue = 1

	only, oc := rec(1)
	d.AddRequest(only)
	require.Equal(t, 1, d.Waiting())

	arrival, ac := rec(2)
	d.AddRequest(arrival)

	assert.True(t, oc.isClosed())
	assert.False(t, ac.isClosed())
	assert.Equal(t, 1, d.Waiting())
}

func TestInvariant_NeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	d := New(capacity, schedalg.Block)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, _ := rec(i)
			d.AddRequest(r)
		}(i)
	}

	// Drain concurrently so blocked producers make progress, checking the
	// invariant after every step.
	drained := 0
	for drained < 20 {
		got := d.GetRequest()
		assert.LessOrEqual(t, d.Waiting()+d.Running(), capacity)
		_ = got.Close()
		d.NotifyDone()
		drained++
		assert.LessOrEqual(t, d.Waiting()+d.Running(), capacity)
	}
	wg.Wait()
}
