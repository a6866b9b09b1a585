// Command endpointerd serves the speech endpointer to streaming clients over
// WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugochiquito/clementine/internal/config"
	"github.com/hugochiquito/clementine/internal/health"
	"github.com/hugochiquito/clementine/internal/observe"
	"github.com/hugochiquito/clementine/internal/server"
	"github.com/hugochiquito/clementine/internal/sessionlog"
	"github.com/hugochiquito/clementine/internal/sessionlog/postgres"
	"github.com/hugochiquito/clementine/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "endpointerd.yaml", "path to the YAML configuration file")
	watchInterval := flag.Duration("watch", 5*time.Second, "config file polling interval (0 disables hot reload)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	level := new(slog.LevelVar)
	var srv *server.Server
	onChange := func(old, new *config.Config, d config.ConfigDiff) {
		applyChange(srv, level, new, d)
	}
	if *watchInterval > 0 {
		watcher, err = config.NewWatcher(*configPath, onChange, config.WithInterval(*watchInterval))
		if err == nil {
			cfg = watcher.Current()
		}
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "endpointerd: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "endpointerd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("endpointerd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"sample_rate", cfg.Audio.SampleRate,
		"session_log", cfg.SessionLog.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(prov.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Session log ───────────────────────────────────────────────────────────
	store, err := openSessionLog(ctx, cfg.SessionLog)
	if err != nil {
		slog.Error("failed to open session log", "backend", cfg.SessionLog.Backend, "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("session log close error", "err", err)
		}
	}()

	// ── Streaming server ──────────────────────────────────────────────────────
	srv, err = server.New(server.SettingsFromConfig(cfg),
		server.WithStore(store),
		server.WithMetrics(metrics),
		server.WithLogger(slog.Default()),
	)
	if err != nil {
		slog.Error("invalid server settings", "err", err)
		return 1
	}

	checks := []health.Checker{{
		Name: "classifier",
		Check: func(ctx context.Context) error {
			s := srv.Settings()
			return health.ClassifierCheck(s.Classifier, s.SampleRate).Check(ctx)
		},
	}}
	if p, ok := store.(sessionlog.Pinger); ok {
		checks = append(checks, health.Checker{Name: "session_log", Check: p.Ping})
	}
	hc := health.New(checks...)

	mux := http.NewServeMux()
	srv.Register(mux)
	hc.Register(mux)
	mux.Handle("GET /metrics", prov.MetricsHandler())

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()

		// ── Graceful shutdown ─────────────────────────────────────────────────
		slog.Info("shutdown signal received, draining…")
		hc.SetDraining(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var errs []error
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := prov.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		slog.Error("endpointerd stopped with error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyChange pushes hot-reloadable settings from a reloaded config to the
// running server. Restart-only sections are reported by the watcher itself.
func applyChange(srv *server.Server, level *slog.LevelVar, cfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if srv == nil || !(d.EndpointerChanged || d.ClassifierChanged || d.StatusIntervalChanged || d.AutoEndChanged) {
		return
	}
	next := srv.Settings()
	next.Endpointer = cfg.Endpointer
	next.Classifier = energy.NewEngine(cfg.Classifier)
	next.StatusInterval = cfg.Server.StatusInterval
	next.AutoEnd = cfg.Server.AutoEnd
	if err := srv.Apply(next); err != nil {
		slog.Error("reloaded settings rejected", "err", err)
	}
}

// ── Session log ───────────────────────────────────────────────────────────────

// openSessionLog builds the configured store. Persistent backends are
// guarded so that an outage does not stall every session end.
func openSessionLog(ctx context.Context, cfg config.SessionLogConfig) (sessionlog.Store, error) {
	switch cfg.Backend {
	case config.SessionLogNone:
		return sessionlog.Discard{}, nil
	case config.SessionLogMemory:
		return sessionlog.NewMemStore(cfg.RecentLimit), nil
	case config.SessionLogFile:
		return sessionlog.Guard(sessionlog.NewFileStore(cfg.Path), sessionlog.GuardOptions{}), nil
	case config.SessionLogPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		st, err := postgres.NewStore(connectCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return sessionlog.Guard(st, sessionlog.GuardOptions{}), nil
	default:
		return nil, fmt.Errorf("unknown session log backend %q", cfg.Backend)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
