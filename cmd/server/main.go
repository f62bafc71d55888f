package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"so-http10-demo/internal/config"
	"so-http10-demo/internal/logging"
	"so-http10-demo/internal/router"
	"so-http10-demo/internal/schedalg"
	"so-http10-demo/internal/server"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "server <port> <threads> <queue_size> <schedalg>",
		Short: "HTTP/1.0 server with connection-level admission control",
		Args:  cobra.ExactArgs(4),
		RunE:  run,
	}
	root.Flags().StringVar(&configFile, "config", "", "optional ambient config file (yaml/json/toml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 {
		return fmt.Errorf("invalid port %q: must be a positive integer", args[0])
	}
	threads, err := strconv.Atoi(args[1])
	if err != nil || threads <= 0 {
		return fmt.Errorf("invalid threads %q: must be a positive integer", args[1])
	}
	queueSize, err := strconv.Atoi(args[2])
	if err != nil || queueSize <= 0 {
		return fmt.Errorf("invalid queue_size %q: must be a positive integer", args[2])
	}
	alg, err := schedalg.Parse(args[3])
	if err != nil {
		return fmt.Errorf("invalid schedalg %q: %w", args[3], err)
	}

	cfgStore, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading ambient config: %w", err)
	}
	ambient := cfgStore.Snapshot()
	router.SetTimeouts(ambient.CPUTimeout, ambient.IOTimeout)

	log := logging.New(logging.Options{Level: ambient.LogLevel, Console: ambient.LogConsole})
	cfgStore.WatchAndReload(func(a config.Ambient) {
		router.SetTimeouts(a.CPUTimeout, a.IOTimeout)
		log.Info().
			Dur("cpu_timeout", a.CPUTimeout).
			Dur("io_timeout", a.IOTimeout).
			Msg("ambient config reloaded")
	})

	router.InitPools(map[string]int{
		"workers.sleep": 2, "queue.sleep": 8,
		"workers.spin": 2, "queue.spin": 8,

		"workers.isprime": 2, "queue.isprime": 64,
		"workers.factor": 2, "queue.factor": 64,
		"workers.pi": 1, "queue.pi": 8,
		"workers.mandelbrot": 1, "queue.mandelbrot": 4,
		"workers.matrixmul": 1, "queue.matrixmul": 8,

		"workers.wordcount": 2, "queue.wordcount": 64,
		"workers.grep": 2, "queue.grep": 64,
		"workers.hashfile": 2, "queue.hashfile": 64,
		"workers.sortfile": 1, "queue.sortfile": 4,
		"workers.compress": 1, "queue.compress": 4,
	})

	addr := fmt.Sprintf(":%d", port)
	srv, err := server.NewDispatchedServer(addr, threads, queueSize, alg, log)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	go serveMetrics(ambient.MetricsAddr, log)

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutdown signal received")
		cancel()
		_ = srv.Stop()
		router.Close()
		os.Exit(0)
	}()

	log.Info().
		Int("port", port).
		Int("threads", threads).
		Int("queue_size", queueSize).
		Str("schedalg", alg.String()).
		Msg("server starting")

	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// serveMetrics exposes the default Prometheus registry on its own listener,
// kept separate from the admission-controlled application listener so
// scraping survives even while that listener is saturated.
func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("metrics listener stopped")
	}
}
