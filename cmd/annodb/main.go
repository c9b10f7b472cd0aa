// Package main is the entry point for the annodb server.
//
// annodb loads every JSONL dataset of a directory in memory, serves id ranges
// of records to the annotation UI and rewrites the dataset file on each save.
// Configuration is read from CLI flags and an optional YAML file (-config).
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
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/annodb/internal/adapter"
	"github.com/maruel/annodb/internal/config"
	"github.com/maruel/annodb/internal/server"
	"github.com/maruel/annodb/internal/server/ipgeo"
	"github.com/maruel/annodb/internal/server/metrics"
	"github.com/maruel/annodb/internal/server/ratelimit"
	"github.com/maruel/annodb/internal/storage"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "annodb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "", "YAML configuration file (optional); flags given on the command line take precedence")
	httpAddr := flag.String("http", "localhost:8000", "Address to listen on (e.g., localhost:8000, :8000, 0.0.0.0:8000)")
	dataDir := flag.String("data-dir", "./data", "Directory holding the *.jsonl datasets")
	staticDir := flag.String("static-dir", "./static", "Directory holding index.html, annotation.html and the image folders")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	geoDB := flag.String("geo-db", "", "Path to MaxMind MMDB file for IP geolocation in the access log (optional)")
	watch := flag.Bool("watch", false, "Load datasets added to the data directory while running")
	loadWorkers := flag.Int("load-workers", 0, "Datasets parsed concurrently at startup (0 means one per CPU)")
	saveRate := flag.Int("save-rate-per-min", 120, "Saves allowed per client per minute (0 disables rate limiting)")
	saveBurst := flag.Int("save-burst", 20, "Saves a client may send back to back")
	withMetrics := flag.Bool("metrics", true, "Serve Prometheus metrics on /metrics")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if err := cfg.Apply(flag.CommandLine); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	level, err := config.ParseLogLevel(*logLevel)
	if err != nil {
		return err
	}
	ll.Set(level)
	slog.SetDefault(newLogger(ll))

	// Normalize addr: ":8000" becomes "localhost:8000"
	addr := *httpAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	svc := storage.NewDatasetService(*dataDir, storage.NewStore(), adapter.NewRegistry(nil), *loadWorkers)
	start := time.Now()
	names, err := svc.LoadAll(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Datasets loaded", "count", len(names), "dir", *dataDir, "dur", time.Since(start).Round(time.Millisecond))
	if len(names) == 0 {
		slog.WarnContext(ctx, "No dataset found, add *.jsonl files to the data directory", "dir", *dataDir)
	}
	if *watch {
		if err := svc.Watch(ctx, 500*time.Millisecond); err != nil {
			return fmt.Errorf("failed to watch data directory: %w", err)
		}
		slog.InfoContext(ctx, "Watching data directory", "dir", *dataDir)
	}

	if fi, err := os.Stat(*staticDir); err != nil || !fi.IsDir() {
		slog.WarnContext(ctx, "Static directory not found, only the API is served", "dir", *staticDir)
		*staticDir = ""
	}

	// Open IP geolocation database if configured
	var geoChecker *ipgeo.Checker
	if *geoDB != "" {
		geoChecker, err = ipgeo.Open(*geoDB)
		if err != nil {
			return fmt.Errorf("failed to open geo database: %w", err)
		}
		defer func() { _ = geoChecker.Close() }()
		slog.InfoContext(ctx, "IP geolocation enabled", "db", *geoDB)
	}

	limits := ratelimit.NewConfig(*saveRate, *saveBurst)
	defer limits.Close()

	var m *metrics.Metrics
	if *withMetrics {
		m = metrics.New(svc.List)
	}

	buildVersion, _, _, _ := getBuildInfo()
	httpServer := &http.Server{
		Addr: addr,
		Handler: server.NewRouter(svc, server.Options{
			Version:   buildVersion,
			StaticDir: *staticDir,
			Limits:    limits,
			Geo:       geoChecker,
			Metrics:   m,
		}),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	// Wait for either context cancellation or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		// Graceful shutdown; in-flight saves complete before returning.
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// newLogger logs to stderr, in color on a terminal. Zero values are dropped
// and so are timestamps under systemd, which adds its own.
func newLogger(level slog.Leveler) *slog.Logger {
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if isZero(a.Value) {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func isZero(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindString:
		return v.String() == ""
	case slog.KindBool:
		return !v.Bool()
	case slog.KindInt64:
		return v.Int64() == 0
	case slog.KindUint64:
		return v.Uint64() == 0
	case slog.KindFloat64:
		return v.Float64() == 0
	case slog.KindDuration:
		return v.Duration() == 0
	case slog.KindTime:
		return v.Time().IsZero()
	case slog.KindAny:
		return v.Any() == nil
	default:
		return false
	}
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("annodb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
