package router

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"so-http10-demo/internal/dispatcher"
	"so-http10-demo/internal/handlers"
	"so-http10-demo/internal/http10"
	"so-http10-demo/internal/jobs"
	"so-http10-demo/internal/metrics"
	"so-http10-demo/internal/resp"
	"so-http10-demo/internal/sched"
)

// poolMetrics is the registry new pools register their Prometheus
// collectors against. SetMetricsRegistry swaps it before InitPools runs;
// left at its default it uses prometheus.DefaultRegisterer.
var poolMetrics prometheus.Registerer = prometheus.DefaultRegisterer

// SetMetricsRegistry overrides the registry used for per-pool metrics.
// Must be called before InitPools.
func SetMetricsRegistry(reg prometheus.Registerer) {
	poolMetrics = reg
}

func registerPool(name string, p *sched.Pool) {
	p.WithMetrics(metrics.NewPool(poolMetrics, name))
	_ = manager.Register(name, p)
}

// Timeouts are ambient, reloadable settings (see internal/config); they
// default to values matching the teacher's env-var defaults and are
// updated atomically by SetTimeouts, never touching pool sizing or the
// connection-level dispatcher's capacity.
var (
	cpuTimeout atomic.Int64 // nanoseconds
	ioTimeout  atomic.Int64
	connDispatcher atomic.Pointer[dispatcher.Dispatcher]
)

func init() {
	cpuTimeout.Store(int64(60 * time.Second))
	ioTimeout.Store(int64(120 * time.Second))
}

// SetTimeouts updates the ambient CPU/IO handler timeouts. Safe to call
// concurrently with in-flight requests; it never resizes any pool or queue.
func SetTimeouts(cpu, io time.Duration) {
	if cpu > 0 {
		cpuTimeout.Store(int64(cpu))
	}
	if io > 0 {
		ioTimeout.Store(int64(io))
	}
}

// SetDispatcher attaches the connection-level admission-control dispatcher
// so /status can report its waiting/running/schedalg. The router has no
// other relationship with it: admission happens before a request ever
// reaches Dispatch.
func SetDispatcher(d *dispatcher.Dispatcher) {
	connDispatcher.Store(d)
}

// DispatcherStatus reports the connection-level dispatcher's state, or nil
// if none was attached (e.g. when router is driven directly by the
// teacher-style ListenAndServe with no admission control in front of it).
func DispatcherStatus() map[string]any {
	d := connDispatcher.Load()
	if d == nil {
		return nil
	}
	out := map[string]any{
		"waiting":  d.Waiting(),
		"running":  d.Running(),
		"capacity": d.Capacity(),
		"schedalg": d.Alg().String(),
	}
	if recent := d.RecentDecisions(); len(recent) > 0 {
		out["recent_decisions"] = recent
	}
	return out
}

func cpuTO() time.Duration { return time.Duration(cpuTimeout.Load()) }
func ioTO() time.Duration  { return time.Duration(ioTimeout.Load()) }

// Manager global para pools.
var manager = sched.NewManager()

var jobman = jobs.NewManager(manager, 10*time.Minute)

// InitPools registra pools con configuración.
func InitPools(cfg map[string]int) {
	wSleep := cfg["workers.sleep"]
	qSleep := cfg["queue.sleep"]
	wSpin := cfg["workers.spin"]
	qSpin := cfg["queue.spin"]

	// Pools básicos (sleep/spin) que llaman a handlers.* con TaskFunc
	registerPool("sleep", sched.NewPool("sleep",
		func(_ context.Context, p map[string]string) resp.Result { return handlers.SleepTask(p) },
		wSleep, qSleep))

	registerPool("spin", sched.NewPool("spin",
		func(_ context.Context, p map[string]string) resp.Result { return handlers.SpinTask(p) },
		wSpin, qSpin))

	// CPU
	registerPool("isprime", sched.NewPool("isprime",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.IsPrimeJSONCtx(ctx, p) },
		cfg["workers.isprime"], cfg["queue.isprime"]))

	registerPool("factor", sched.NewPool("factor",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.FactorJSONCtx(ctx, p) },
		cfg["workers.factor"], cfg["queue.factor"]))

	registerPool("pi", sched.NewPool("pi",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.PiJSONCtx(ctx, p) },
		cfg["workers.pi"], cfg["queue.pi"]))

	registerPool("mandelbrot", sched.NewPool("mandelbrot",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.MandelbrotJSONCtx(ctx, p) },
		cfg["workers.mandelbrot"], cfg["queue.mandelbrot"]))

	registerPool("matrixmul", sched.NewPool("matrixmul",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.MatrixMulHashCtx(ctx, p) },
		cfg["workers.matrixmul"], cfg["queue.matrixmul"]))

	// IO
	registerPool("wordcount", sched.NewPool("wordcount",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.WordCountJSONCtx(ctx, p) },
		cfg["workers.wordcount"], cfg["queue.wordcount"]))

	registerPool("grep", sched.NewPool("grep",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.GrepJSONCtx(ctx, p) },
		cfg["workers.grep"], cfg["queue.grep"]))

	registerPool("hashfile", sched.NewPool("hashfile",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.HashFileJSONCtx(ctx, p) },
		cfg["workers.hashfile"], cfg["queue.hashfile"]))

	registerPool("sortfile", sched.NewPool("sortfile",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.SortFileJSONCtx(ctx, p) },
		cfg["workers.sortfile"], cfg["queue.sortfile"]))

	registerPool("compress", sched.NewPool("compress",
		func(ctx context.Context, p map[string]string) resp.Result { return handlers.CompressJSONCtx(ctx, p) },
		cfg["workers.compress"], cfg["queue.compress"]))
}

// Dispatch resuelve rutas sobre HTTP/1.0 (GET).
func Dispatch(method, target string) resp.Result {
	if method != "GET" {
		return resp.BadReq("method", "only GET")
	}

	path, q := http10.SplitTarget(target)
	args := http10.ParseQuery(q)

	switch path {
	// Básicas
	case "/":
		return resp.PlainOK("hola mundo\n")
	case "/help":
		return handlers.Help()
	case "/timestamp":
		return handlers.Timestamp(nil)
	case "/reverse":
		return handlers.Reverse(args)
	case "/toupper":
		return handlers.ToUpper(args)
	case "/hash":
		return handlers.Hash(args)
	case "/random":
		return handlers.Random(args)
	case "/fibonacci":
		return handlers.Fibonacci(args)

	// Archivos
	case "/createfile":
		return handlers.CreateFile(args)
	case "/deletefile":
		return handlers.DeleteFile(args)

	// Pools / simulación
	case "/sleep":
		r, _ := submitSync("sleep", args, ioTO())
		return r
	case "/simulate":
		task := args["task"]
		if task != "sleep" && task != "spin" {
			return resp.BadReq("task", "use task=sleep|spin")
		}
		// sleep → IO timeout, spin → CPU timeout
		tout := cpuTO()
		if task == "sleep" {
			tout = ioTO()
		}
		r, _ := submitSync(task, args, tout)
		return r
	case "/loadtest":
		n, errN := strconv.Atoi(args["tasks"])
		s, errS := strconv.Atoi(args["sleep"])
		if errN != nil || n <= 0 {
			return resp.BadReq("tasks", "must be integer > 0")
		}
		if errS != nil || s < 0 {
			return resp.BadReq("sleep", "must be integer >= 0")
		}
		ok := 0
		for i := 0; i < n; i++ {
			if r, enq := submitSync("sleep",
				map[string]string{"seconds": strconv.Itoa(s)},
				ioTO()); enq && r.Status == 200 {
				ok++
			}
		}
		return resp.PlainOK("ok " + strconv.Itoa(ok) + "/" + strconv.Itoa(n) + "\n")

	// Métricas
	case "/metrics":
		return resp.JSONOK(manager.MetricsJSON())

	// CPU-bound (todos usan cpuTO())
	case "/isprime":
		r, _ := submitSync("isprime", args, cpuTO()); return r
	case "/factor":
		r, _ := submitSync("factor", args, cpuTO()); return r
	case "/pi":
		r, _ := submitSync("pi", args, cpuTO()); return r
	case "/mandelbrot":
		r, _ := submitSync("mandelbrot", args, cpuTO()); return r
	case "/matrixmul":
		r, _ := submitSync("matrixmul", args, cpuTO()); return r

	// IO-bound (todos usan ioTO())
	case "/wordcount":
		r, _ := submitSync("wordcount", args, ioTO()); return r
	case "/grep":
		r, _ := submitSync("grep", args, ioTO()); return r
	case "/hashfile":
		r, _ := submitSync("hashfile", args, ioTO()); return r
	case "/sortfile":
		r, _ := submitSync("sortfile", args, ioTO()); return r
	case "/compress":
		r, _ := submitSync("compress", args, ioTO()); return r

	// Jobs
	case "/jobs/submit":
		task := args["task"]
		if task == "" {
			return resp.BadReq("task", "task=<pool_name> required")
		}
		// el timeout lo maneja el Job Manager internamente; aquí sólo encolamos
		params := make(map[string]string, len(args))
		for k, v := range args {
			if k == "task" {
				continue
			}
			params[k] = v
		}
		id := jobman.Submit(task, params, cpuTO())
		if id == "" {
			return resp.NotFound("no_pool", "pool not found")
		}
		out := map[string]any{"job_id": id, "status": "queued"}
		b, _ := json.Marshal(out)
		return resp.JSONOK(string(b))

	case "/jobs/status":
		id := args["id"]
		if id == "" {
			return resp.BadReq("id", "id required")
		}
		if js, ok := jobman.SnapshotJSON(id); ok {
			return resp.JSONOK(js)
		}
		return resp.NotFound("not_found", "job not found")

	case "/jobs/result":
		id := args["id"]
		if id == "" {
			return resp.BadReq("id", "id required")
		}
		body, ok, err := jobman.ResultJSON(id)
		if !ok {
			return resp.NotFound("not_found", "job not found")
		}
		if err != nil {
			return resp.BadReq("not_ready", "job not finished yet")
		}
		return resp.JSONOK(body)

	case "/jobs/cancel":
		id := args["id"]
		if id == "" {
			return resp.BadReq("id", "id required")
		}
		st, ok := jobman.Cancel(id)
		if !ok {
			return resp.NotFound("not_found", "job not found")
		}
		out := map[string]any{"status": st}
		b, _ := json.Marshal(out)
		return resp.JSONOK(string(b))

	case "/jobs/list":
		return resp.JSONOK(jobman.ListJSON())
	}

	return resp.NotFound("not_found", "route")
}

// submitSync encola con timeout y espera resultado/timeout de ejecución.
// Devuelve (resultado, encolado?). Si encolado=false → backpressure (503).
func submitSync(name string, args map[string]string, timeout time.Duration) (resp.Result, bool) {
	p, ok := manager.Pool(name)
	if !ok {
		return resp.IntErr("no_pool", "pool not found"), true
	}
	return p.SubmitAndWait(args, timeout)
}

// Close cierra recursos del router (Job Manager).
func Close() {
	if jobman != nil {
		jobman.Close()
	}
}

// PoolsSummary devuelve un mapa resumido por pool para /status (sin ciclo).
func PoolsSummary() map[string]any {
	var raw map[string]any
	_ = json.Unmarshal([]byte(manager.MetricsJSON()), &raw)

	pools := make(map[string]any, len(raw))
	for name, v := range raw {
		m := v.(map[string]any)
		w := m["workers"].(map[string]any)
		pools[name] = map[string]any{
			"workers": map[string]any{
				"total": w["total"],
				"busy":  w["busy"],
				"idle":  w["idle"],
			},
			"queue_len": m["queue_len"],
			"queue_cap": m["queue_cap"],
		}
	}
	return pools
}
