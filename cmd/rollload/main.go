// Command rollload loads fixed-width appraisal roll exports into a database.
//
// By default it runs one load of every configured file type and exits
// non-zero if any file failed. With -serve it starts the status API and the
// optional load schedule instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/rollload/internal/config"
	"github.com/JonMunkholm/rollload/internal/core"
	"github.com/JonMunkholm/rollload/internal/layout"
	"github.com/JonMunkholm/rollload/internal/logging"
	"github.com/JonMunkholm/rollload/internal/observe"
	"github.com/JonMunkholm/rollload/internal/source"
	"github.com/JonMunkholm/rollload/internal/store"
	"github.com/JonMunkholm/rollload/internal/store/postgres"
	"github.com/JonMunkholm/rollload/internal/store/sqlite"
	"github.com/JonMunkholm/rollload/internal/web"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 2
	}

	fs := flag.NewFlagSet("rollload", flag.ContinueOnError)
	files := fs.String("files", strings.Join(cfg.Load.FileTypes, ","), "comma-separated file types to load (default: all)")
	truncate := fs.Bool("truncate", cfg.Load.Truncate, "empty each table before loading it")
	maxRecords := fs.Int("max-records", cfg.Load.MaxRecords, "cap records read per file, 0 for no cap")
	layoutPath := fs.String("layout", cfg.Load.LayoutPath, "layout document (JSON or YAML)")
	serve := fs.Bool("serve", cfg.Server.Enabled, "serve the status API instead of loading once")
	verify := fs.Bool("verify", false, "print the row count of every table and exit")
	list := fs.Bool("list", false, "list export files found in the source and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return parseExitCode(err)
	}
	if *maxRecords < 0 {
		fmt.Fprintln(os.Stderr, "-max-records must be non-negative")
		return 2
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := layout.LoadFile(*layoutPath)
	if err != nil {
		slog.Error("failed to load layout document", "path", *layoutPath, "error", err)
		return 1
	}
	slog.Info("layouts loaded", "path", *layoutPath, "file_types", len(catalog.Files), "tax_year", catalog.TaxYear)

	st, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		return 1
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		slog.Error("failed to ping store", "driver", cfg.Store.Driver, "error", err)
		return 1
	}

	src, err := newSource(ctx, cfg)
	if err != nil {
		slog.Error("failed to open source", "driver", cfg.Source.Driver, "error", err)
		return 1
	}
	slog.Info("source ready", "driver", cfg.Source.Driver, "location", src.Location())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := core.NewService(catalog, st, src, core.Options{
		BatchSize:     cfg.Load.BatchSize,
		ProgressEvery: cfg.Load.ProgressEvery,
		Parallelism:   cfg.Load.Parallelism,
		SkipHeader:    cfg.Load.SkipHeader,
		MaxLineBytes:  cfg.Load.MaxLineBytes,
		HistorySize:   cfg.Load.HistorySize,
		RunTimeout:    cfg.Load.RunTimeout,
		Reporter:      observe.Multi(observe.NewSlogReporter(nil), observe.NewMetrics(reg)),
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		return 1
	}

	switch {
	case *list:
		avail, err := svc.AvailableFiles(ctx)
		if err != nil {
			slog.Error("failed to list source files", "error", core.FormatUserError(err), "detail", err)
			return 1
		}
		printFiles(os.Stdout, avail)
		return 0

	case *verify:
		counts := svc.Verify(ctx)
		printCounts(os.Stdout, counts)
		for _, c := range counts {
			if c.Rows < 0 {
				return 1
			}
		}
		return 0

	case *serve:
		return serveAPI(ctx, cfg, svc, reg)
	}

	opts := core.LoadOptions{
		FileTypes:  parseFileTypes(*files),
		Truncate:   *truncate,
		MaxRecords: *maxRecords,
		Trigger:    core.TriggerCLI,
	}
	result, err := svc.Load(ctx, opts)
	if err != nil {
		slog.Error("load did not start", "error", err)
		return 1
	}
	printRun(os.Stdout, result)
	if result.State != core.RunCompleted {
		return 1
	}
	return 0
}

// parseExitCode maps a flag parse error to an exit status; -h is not a failure.
func parseExitCode(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 2
}

// serveAPI runs the status API and schedule until ctx is cancelled, then
// waits for an active run before shutting down.
func serveAPI(ctx context.Context, cfg *config.Config, svc *core.Service, reg *prometheus.Registry) int {
	if cfg.Schedule.Cron != "" {
		schedOpts := core.LoadOptions{
			FileTypes:  cfg.Load.FileTypes,
			Truncate:   cfg.Load.Truncate,
			MaxRecords: cfg.Load.MaxRecords,
		}
		if err := svc.StartScheduler(ctx, cfg.Schedule.Cron, schedOpts); err != nil {
			slog.Error("failed to start scheduler", "error", err)
			return 1
		}
	}

	server := web.NewServer(svc, cfg, reg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if status := svc.RunStatus(); status.Active > 0 {
		slog.Info("waiting for load run to complete", "active", status.Active)
		if err := svc.WaitForRuns(shutdownCtx); err != nil {
			slog.Warn("load run did not complete in time, cancelling", "error", err)
			svc.CancelRuns()
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "sqlite":
		return sqlite.New(ctx, cfg.Store.SQLitePath)
	default:
		return postgres.New(ctx, postgres.Config{
			URL:               cfg.Database.ConnString(),
			Schema:            cfg.Database.Schema,
			MaxConns:          cfg.Database.MaxConns,
			MinConns:          cfg.Database.MinConns,
			MaxConnLifetime:   cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
			Mode:              postgres.InsertMode(strings.ToLower(cfg.Database.InsertMode)),
			ReconnectAttempts: cfg.Database.ReconnectAttempts,
			ReconnectBackoff:  cfg.Database.ReconnectBackoff,
			LoadLogTable:      cfg.Database.LoadLogTable,
		})
	}
}

func newSource(ctx context.Context, cfg *config.Config) (source.Source, error) {
	switch strings.ToLower(cfg.Source.Driver) {
	case "s3":
		return source.NewS3(ctx, source.S3Config{
			Region:          cfg.Source.S3Region,
			Bucket:          cfg.Source.S3Bucket,
			Prefix:          cfg.Source.S3Prefix,
			Endpoint:        cfg.Source.S3Endpoint,
			AccessKeyID:     cfg.Source.S3AccessKeyID,
			SecretAccessKey: cfg.Source.S3SecretAccessKey,
			PathStyle:       cfg.Source.S3PathStyle,
		})
	default:
		return source.NewDir(cfg.Source.DataDir)
	}
}
