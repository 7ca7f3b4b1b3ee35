// Package main implements the opcbridge entry point. The bridge provisions
// an OPC UA address space from a CSV of point definitions, exports the
// alias→identifier map for consumers, serves the endpoint until interrupted
// and forwards data-change events to NATS when configured.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/opcbridge/config"
	"github.com/c360/opcbridge/metric"
	"github.com/c360/opcbridge/notify"
	"github.com/c360/opcbridge/opcua"
	"github.com/c360/opcbridge/point"
	"github.com/c360/opcbridge/server"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "opcbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFile != "" {
		cfg.Logging.File = cliCfg.LogFile
	}

	logger, closeLog, err := setupLogger(cfg.Logging, cliCfg.LogFormat)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("Starting opcbridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"endpoint", cfg.Server.Endpoint)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	registry := metric.NewRegistry()
	metrics := server.NewMetrics(registry.Prometheus())

	// The endpoint outlives the factory call so the change-event hook can be
	// attached to it before provisioning begins.
	endpoint := opcua.NewServer()

	publisher, closeNATS, err := setupPublisher(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer closeNATS()
	if publisher.Enabled() {
		publisher.Attach(endpoint)
	}

	mgr, err := server.NewManager(server.Config{
		Endpoint:   cfg.Server.Endpoint,
		Namespace:  cfg.Server.Namespace,
		FilesDir:   cfg.Server.FilesDir,
		InputFile:  cfg.Server.InputFile,
		OutputFile: cfg.Server.OutputFile,
		RootFolder: cfg.Server.RootFolder,
		Retries:    cfg.Server.Retries,
		Backoff:    cfg.Server.Backoff(),
		Loader: point.LoaderConfig{
			Delimiter: delimiterRune(cfg.Server.Delimiter),
			Charset:   cfg.Server.Charset,
		},
	}, server.Deps{
		NewEndpoint: func() opcua.ServerEndpoint { return endpoint },
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}

	ctx := context.Background()
	if err := provision(ctx, mgr); err != nil {
		return err
	}

	return serve(ctx, cfg, mgr, registry)
}

// provision runs the startup flow: create, load, resolve, export. Resolve
// leaves the endpoint serving.
func provision(ctx context.Context, mgr *server.Manager) error {
	if err := mgr.Create(); err != nil {
		return err
	}

	loadStats, err := mgr.Load()
	if err != nil {
		return err
	}
	slog.Info("definitions loaded",
		"total", loadStats.TotalRows,
		"loaded", loadStats.Loaded,
		"skipped", loadStats.Skipped,
		"duplicates", loadStats.Duplicates,
		"errors", loadStats.Errors)

	resolveStats, err := mgr.Resolve(ctx)
	if err != nil {
		return err
	}
	slog.Info("nodes resolved",
		"total", resolveStats.TotalRows,
		"resolved", resolveStats.Resolved,
		"duplicates", resolveStats.Duplicates,
		"errors", resolveStats.Errors)

	if err := mgr.Export(); err != nil {
		return err
	}
	return nil
}

// serve blocks until SIGINT/SIGTERM, running the metrics endpoint alongside
// the OPC UA server, then stops everything cleanly.
func serve(ctx context.Context, cfg *config.Config, mgr *server.Manager, registry *metric.Registry) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	var metricsSrv *metric.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		g.Go(metricsSrv.Start)
		slog.Info("metrics serving", "address", metricsSrv.Address())
	}

	g.Go(func() error {
		<-gctx.Done()

		slog.Info("shutting down")
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Stop(shutdownCtx); err != nil {
				slog.Warn("metrics server shutdown failed", "error", err)
			}
		}
		if _, err := mgr.Stop(true); err != nil {
			return err
		}
		return nil
	})

	return g.Wait()
}

// delimiterRune maps the configured delimiter string onto the CSV reader's
// rune, defaulting to comma when unset.
func delimiterRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

// setupPublisher dials NATS when enabled; the returned close func is a no-op
// otherwise.
func setupPublisher(cfg config.NATSConfig, logger *slog.Logger) (*notify.Publisher, func(), error) {
	if !cfg.Enabled {
		return notify.New(notify.Config{}, nil, logger), func() {}, nil
	}

	nc, err := notify.Connect(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("nats connected", "url", cfg.URL)

	p := notify.New(notify.Config{SubjectPrefix: cfg.SubjectPrefix}, nc, logger)
	return p, nc.Close, nil
}
