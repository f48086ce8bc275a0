// Command graphd is the processor-graph daemon: it loads configuration,
// registers the built-in processor types and schemas, and brings up a
// runtime.Engine along with its diagnostic surfaces (a Prometheus /metrics
// endpoint and a WebSocket event bridge). Grounded on the teacher's
// cmd/server/main.go flat sequential wiring style (numbered steps, direct
// constructor calls, fail fast on irrecoverable setup errors) with slog
// structured logging in place of the teacher's bare log.Println, matching
// the convention already used by cmd/api, cmd/interceptor and cmd/probe
// elsewhere in the corpus.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fluxcore/streamgraph/internal/api"
	"github.com/fluxcore/streamgraph/internal/builtins"
	"github.com/fluxcore/streamgraph/internal/clock"
	"github.com/fluxcore/streamgraph/internal/compiler"
	"github.com/fluxcore/streamgraph/internal/config"
	"github.com/fluxcore/streamgraph/internal/graph"
	"github.com/fluxcore/streamgraph/internal/message"
	"github.com/fluxcore/streamgraph/internal/metrics"
	"github.com/fluxcore/streamgraph/internal/processor"
	"github.com/fluxcore/streamgraph/internal/pubsub"
	"github.com/fluxcore/streamgraph/internal/pubsub/wsbridge"
	"github.com/fluxcore/streamgraph/internal/runtime"
	"github.com/fluxcore/streamgraph/internal/snapshotio"
	"github.com/fluxcore/streamgraph/pkg/registry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults baked in if omitted)")
	graphID := flag.String("graph-id", "default", "identifier this graph is persisted under")
	flag.Parse()

	slog.Info("starting graphd")

	// 1. Configuration
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	slog.Info("config loaded", "env", cfg.Server.Env)

	// 2. Processor type registry — built-in types only; a richer deployment
	// registers additional factories here before Compile is ever called.
	reg := registry.New()
	if err := reg.Register(builtins.SourceTypeTag, builtins.NewSource, builtins.SourceDescriptor); err != nil {
		slog.Error("failed to register source processor", "error", err)
		os.Exit(1)
	}
	if err := reg.Register(builtins.SinkTypeTag, builtins.NewSink, builtins.SinkDescriptor); err != nil {
		slog.Error("failed to register sink processor", "error", err)
		os.Exit(1)
	}
	slog.Info("processor registry populated", "types", reg.List())

	// 3. Schema registry — resolves the bare schema names a PortSpec carries
	// into the full contracts the compiler's WIRE phase checks compatibility
	// against.
	schemas := message.NewSchemaRegistry()
	schemas.Register(builtins.IntSchema)

	// 4. Metrics
	rec := metrics.NewRecorder()

	// 5. Pub/sub control-plane bus
	bus := pubsub.NewBus()

	// 6. Clock domains for Continuous processors
	sched := clock.NewScheduler()

	// 7. Optional Redis-backed snapshot persistence; opt-in only.
	var store *snapshotio.Store
	if cfg.Snapshot.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Snapshot.RedisAddr})
		adapter := &snapshotio.GoRedisAdapter{Client: client}
		store = snapshotio.NewStore(adapter, cfg.Snapshot.KeyPrefix, 0)
		slog.Info("snapshot persistence enabled", "redis_addr", cfg.Snapshot.RedisAddr)
	} else {
		slog.Info("snapshot persistence disabled (no redis_addr configured)")
	}

	// 8. Graph + compiler + engine
	g := graph.New()
	linkCapacity := func(cat message.Category) int {
		switch cat {
		case message.Video:
			return cfg.Links.VideoCapacity
		case message.Audio:
			return cfg.Links.AudioCapacity
		default:
			return cfg.Links.DataCapacity
		}
	}
	ctxFn := func(id string, tok *processor.ShutdownToken) processor.Context {
		return processor.Context{ID: id, ShutdownTok: tok, PubSub: bus}
	}
	comp := compiler.New(g, reg, schemas, bus, rec, sched, ctxFn, cfg.JoinTimeout(), cfg.Worker.WakeupCapacity, linkCapacity)
	eng := runtime.New(g, comp, bus, sched, store, *graphID)

	// 9. Diagnostic surfaces: Prometheus metrics + WebSocket event bridge
	bridge := wsbridge.New()
	bridge.Attach(bus)
	go bridge.Run()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.Metrics.BindAddr, Handler: metricsMux}
	go func() {
		slog.Info("metrics server listening", "addr", cfg.Metrics.BindAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	// 10. Control surface: graph edit / lifecycle HTTP API (graphctl's
	// target) plus the diagnostic WebSocket bridge, on one address.
	apiHandler := api.NewHandler(eng)
	apiRouter := apiHandler.Router()
	apiRouter.HandleFunc("/ws", bridge.HandleWebSocket)
	controlServer := &http.Server{Addr: cfg.Server.WebSocketAddr, Handler: apiRouter}
	go func() {
		slog.Info("control API listening", "addr", cfg.Server.WebSocketAddr)
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control API server failed", "error", err)
		}
	}()

	// 11. Start the engine
	if err := eng.Start(); err != nil {
		slog.Error("engine failed to start", "error", err)
		os.Exit(1)
	}
	slog.Info("engine running", "graph_id", *graphID, "state", eng.State().String())

	// 12. Wait for termination, then drain and shut down in reverse order.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutdown signal received, stopping engine")
	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second

	if err := eng.Stop(); err != nil {
		slog.Error("engine stop returned an error", "error", err)
	}
	if err := eng.PersistSnapshot(context.Background()); err != nil {
		slog.Warn("snapshot persistence on shutdown failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := controlServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("control API server did not shut down cleanly", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server did not shut down cleanly", "error", err)
	}

	slog.Info("graphd stopped")
}
