package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"worldhost.ai/internal/config"
	"worldhost.ai/internal/events"
	"worldhost.ai/internal/logging"
	"worldhost.ai/internal/persistence/indexdb"
	persistlog "worldhost.ai/internal/persistence/log"
	"worldhost.ai/internal/persistence/worldstore"
	"worldhost.ai/internal/sim/dimension"
	"worldhost.ai/internal/sim/lifecycle"
	"worldhost.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to server.yaml or server.toml (default: $WORLDHOST_CONFIG)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(*dataDir); v != "" {
		cfg.Server.DataDir = v
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	spec, err := cfg.Bootstrap()
	if err != nil {
		return err
	}
	spec.Progress = func(msg string) { logger.Info("bootstrap", zap.String("progress", msg)) }
	if _, err := rt.mgr.Bootstrap(ctx, spec); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.Int("worlds", len(rt.mgr.ListLoaded())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// runtime owns everything the server wires together.
type runtime struct {
	cfg config.Config
	log *zap.Logger

	store  worldstore.Store
	engine *logEngine
	mgr    *lifecycle.Manager

	hub    *events.Hub
	index  *indexdb.SQLiteIndex
	audit  *persistlog.EventLogger
	nats   *events.NATSSink
	stream *ws.Server

	reg   *prometheus.Registry
	admin *adminAPI
}

func newRuntime(cfg config.Config, logger *zap.Logger) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, log: logger, hub: events.NewHub()}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	worldsDir := filepath.Join(cfg.Server.DataDir, "worlds")
	switch cfg.Store.Backend {
	case "badger":
		rt.store, err = worldstore.OpenBadger(filepath.Join(cfg.Server.DataDir, "badger"))
	default:
		rt.store, err = worldstore.NewFileStore(worldsDir)
	}
	if err != nil {
		return rt, fmt.Errorf("open store: %w", err)
	}

	sinks := []events.Sink{rt.hub}
	if cfg.Index.Backend == "sqlite" {
		rt.index, err = indexdb.OpenSQLite(filepath.Join(cfg.Server.DataDir, "index", "lifecycle.sqlite"))
		if err != nil {
			return rt, fmt.Errorf("open index: %w", err)
		}
		sinks = append(sinks, rt.index)
	}
	if cfg.Notify.AuditLog {
		rt.audit = persistlog.NewEventLogger(cfg.Server.DataDir, logger)
		sinks = append(sinks, rt.audit)
	}
	if url := strings.TrimSpace(cfg.Notify.NATSURL); url != "" {
		rt.nats, err = events.DialNATS(url, cfg.Notify.NATSSubject, logger)
		if err != nil {
			return rt, fmt.Errorf("connect nats: %w", err)
		}
		sinks = append(sinks, rt.nats)
	}

	rt.reg = prometheus.NewRegistry()
	rt.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.registerSinkMetrics()

	rt.engine = newLogEngine(logger)
	rt.mgr, err = lifecycle.NewManager(lifecycle.Options{
		Root:            worldsDir,
		Store:           rt.store,
		Allocator:       dimension.New(cfg.Allocator()),
		Engine:          rt.engine,
		Sink:            events.Join(sinks...),
		Logger:          logger,
		Metrics:         lifecycle.NewMetrics(rt.reg),
		SingleInstance:  cfg.Server.SingleInstance,
		HostIdentity:    cfg.Server.HostIdentity,
		PersistDebounce: cfg.PersistDebounce(),
	})
	if err != nil {
		return rt, err
	}

	rt.stream = ws.NewServer(rt.hub, logger)
	rt.admin, err = newAdminAPI(rt.mgr, logger)
	if err != nil {
		return rt, err
	}
	return rt, nil
}

func (rt *runtime) registerSinkMetrics() {
	rt.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "worldhost_event_hub_dropped_total",
			Help: "Lifecycle events dropped because a stream subscriber was full.",
		}, func() float64 { return float64(rt.hub.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "worldhost_event_stream_connections",
			Help: "Open lifecycle event websocket streams.",
		}, func() float64 {
			if rt.stream == nil {
				return 0
			}
			return float64(rt.stream.Connections())
		}),
	)
	if rt.index != nil {
		rt.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "worldhost_index_queue_depth",
				Help: "Events waiting for the sqlite index writer.",
			}, func() float64 { return float64(rt.index.Stats().QueueDepth) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "worldhost_index_dropped_total",
				Help: "Events the sqlite index dropped because its queue was full.",
			}, func() float64 { return float64(rt.index.Stats().DropEventTotal) }),
		)
	}
	if rt.nats != nil {
		rt.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "worldhost_nats_publish_failures_total",
			Help: "Lifecycle events that failed to publish to NATS.",
		}, func() float64 {
			_, failed := rt.nats.Stats()
			return float64(failed)
		}))
	}
}

func (rt *runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		if rt.mgr.Overworld() == nil {
			http.Error(rw, "overworld not loaded", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(rt.reg, promhttp.HandlerOpts{}))
	mux.Handle("GET /v1/events", rt.stream.Handler())

	if envBool("WORLDHOST_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		rt.admin.register(mux)
	} else {
		rt.log.Info("admin endpoints disabled", zap.String("env", "WORLDHOST_ENABLE_ADMIN_HTTP"))
	}
	if envBool("WORLDHOST_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Close flushes dirty records and then shuts the sinks down. The hub goes
// last so stream clients see every final event.
func (rt *runtime) Close() {
	if rt.mgr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.mgr.FlushState(ctx); err != nil {
			rt.log.Warn("final flush", zap.Error(err))
		}
		cancel()
		rt.mgr.Close()
	}
	if rt.index != nil {
		_ = rt.index.Close()
	}
	if rt.audit != nil {
		_ = rt.audit.Close()
	}
	if rt.nats != nil {
		_ = rt.nats.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Warn("close store", zap.Error(err))
		}
	}
	rt.hub.Close()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
