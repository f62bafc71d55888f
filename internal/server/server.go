package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync/atomic"
	"time"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"so-http10-demo/internal/acceptloop"
	"so-http10-demo/internal/diag"
	"so-http10-demo/internal/dispatcher"
	"so-http10-demo/internal/http10"
	"so-http10-demo/internal/metrics"
	"so-http10-demo/internal/router"
	"so-http10-demo/internal/schedalg"
	"so-http10-demo/internal/util"
	"so-http10-demo/internal/workerpool"
)

var (
	startedAt = time.Now()
	connCount uint64
)

func pid() int              { return os.Getpid() }           // importa "os"
func uptime() time.Duration { return time.Since(startedAt) }
func conns() uint64         { return atomic.LoadUint64(&connCount) }

// HandleConn serves one HTTP/1.0 connection with no dispatch-time trace
// info attached, closing c once served. Used directly by callers with no
// admission-control layer in front of them.
func HandleConn(c net.Conn) {
	defer c.Close()
	handleConn(c, nil)
}

// HandleConnWithStats serves one connection the same way, additionally
// stamping X-Worker-Id and X-Dispatch-Time-Ms trace headers from the
// workerpool.Stats a dispatcher-backed Pool computed before invoking this
// as its Serve callback. It does not close c: per spec.md, serve closes no
// fds of its own when called from the dispatcher path — the worker pool
// closes the connection once this returns (internal/workerpool).
func HandleConnWithStats(c net.Conn, stats workerpool.Stats) {
	handleConn(c, &stats)
}

func handleConn(c net.Conn, stats *workerpool.Stats) {
	trace := map[string]string{
		"X-Request-Id": util.NewReqID(),
		"X-Worker-Pid": strconv.Itoa(pid()),
		"Connection":   "close",
	}
	if stats != nil {
		trace["X-Worker-Id"] = strconv.Itoa(stats.ThreadID)
		trace["X-Dispatch-Time-Ms"] = strconv.FormatInt(stats.DispatchTime.Milliseconds(), 10)
	}

	// Parseo HTTP/1.0
	r := bufio.NewReader(c)
	req, err := http10.ParseRequest(r)
	if err != nil {
		http10.WriteErrorJSON(c, 400, "bad_request", err.Error(), trace)
		return
	}

	// Intercepta /status aquí (evita importar server en router)
	if req.Method == "GET" {
		path, _ := http10.SplitTarget(req.Target)
		if path == "/status" {
			out := map[string]any{
				"pid":         pid(),
				"uptime_ms":   uptime().Milliseconds(),
				"started_at":  startedAt.UTC().Format(time.RFC3339Nano),
				"connections": conns(),
				"pools":       router.PoolsSummary(), // <- viene del router
			}
			if ds := router.DispatcherStatus(); ds != nil {
				out["dispatcher"] = ds
			}
			b, _ := json.Marshal(out)
			http10.WriteJSONH(c, 200, string(b), trace)
			return
		}
	}

	// Resto de rutas
	res := router.Dispatch(req.Method, req.Target)

	// Mezcla headers de trazabilidad con los del Result (si tienes ese campo)
	hdrs := map[string]string{}
	for k, v := range trace {
		hdrs[k] = v
	}
	if res.Headers != nil {
		for k, v := range res.Headers {
			hdrs[k] = v
		}
	}

	if res.JSON {
		if res.Err != nil {
			http10.WriteErrorJSON(c, res.Status, res.Err.Code, res.Err.Detail, hdrs)
		} else {
			http10.WriteJSONH(c, res.Status, res.Body, hdrs)
		}
	} else {
		http10.WritePlainH(c, res.Status, res.Body, hdrs)
	}
}

// ListenAndServe serves addr with no admission control: every accepted
// connection gets its own goroutine immediately. Kept for callers (and
// tests) that want the unbounded teacher-style behavior.
func ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		atomic.AddUint64(&connCount, 1) // cuenta conexiones aceptadas
		go HandleConn(conn)
	}
}

// DispatchedServer wires the admission-controlled core (acceptloop,
// dispatcher, workerpool) in front of HandleConnWithStats. This is the
// entrypoint cmd/server uses; ListenAndServe above remains the simpler,
// uncontrolled teacher path.
type DispatchedServer struct {
	listener net.Listener
	disp     *dispatcher.Dispatcher
	pool     *workerpool.Pool
	loop     *acceptloop.Loop
}

// NewDispatchedServer binds addr and builds the three-stage pipeline:
// accept loop -> admission-controlled dispatcher -> fixed worker pool.
// threads is the worker pool size; capacity is max_accepted_count; alg is
// the eviction policy applied once the pool is saturated.
func NewDispatchedServer(addr string, threads, capacity int, alg schedalg.Alg, log zerolog.Logger) (*DispatchedServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	disp := dispatcher.New(capacity, alg,
		dispatcher.WithLogger(log),
		dispatcher.WithMetrics(metrics.NewDispatcher(prometheus.DefaultRegisterer)),
		dispatcher.WithDiag(diag.NewTrail(64)),
	)
	router.SetDispatcher(disp)

	pool := workerpool.New(threads, disp, func(c net.Conn, stats workerpool.Stats) {
		atomic.AddUint64(&connCount, 1)
		HandleConnWithStats(c, stats)
	}, workerpool.WithLogger(log))

	loop := acceptloop.New(ln, disp, acceptloop.WithLogger(log))

	return &DispatchedServer{listener: ln, disp: disp, pool: pool, loop: loop}, nil
}

// Dispatcher exposes the underlying admission-control core, mainly for
// tests and metrics wiring.
func (s *DispatchedServer) Dispatcher() *dispatcher.Dispatcher { return s.disp }

// Addr reports the bound listener address, useful when addr was ":0".
func (s *DispatchedServer) Addr() net.Addr { return s.listener.Addr() }

// Serve starts the worker pool and runs the accept loop until ctx is
// canceled or Stop is called. It blocks.
func (s *DispatchedServer) Serve(ctx context.Context) error {
	s.pool.Start()
	return s.loop.Run(ctx)
}

// Stop closes the listener, unblocking Serve. Matches the teacher's
// abrupt-shutdown model: in-flight connections are not drained.
func (s *DispatchedServer) Stop() error {
	return s.loop.Stop()
}
