package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"integration_syncer/internal/api"
	"integration_syncer/internal/config"
	"integration_syncer/internal/domain"
	"integration_syncer/internal/fetch"
	"integration_syncer/internal/metrics"
	"integration_syncer/internal/normalize"
	"integration_syncer/internal/provider"
	"integration_syncer/internal/publisher"
	"integration_syncer/internal/scheduler"
	"integration_syncer/internal/service"
	"integration_syncer/internal/storage/postgres"
	"integration_syncer/migrations"
)

const usage = `usage: syncer [-config path] <command>

commands:
  serve                         run the HTTP API and the sync ticker (default)
  run-once                      sync one batch of due connections and print the report
  migrate up                    apply pending database migrations
  migrate down [-steps n] -yes  revert migrations (all when steps is 0)
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if command == "migrate" {
		if err := runMigrate(cfg, flag.Args()[1:], logger); err != nil {
			logger.Error("command failed", "command", command, "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	switch command {
	case "run-once":
		err = runOnce(ctx, cfg, db, logger)
	case "serve":
		err = serve(ctx, cfg, db, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func runMigrate(cfg *config.Config, args []string, logger *slog.Logger) error {
	direction := "up"
	if len(args) > 0 {
		direction, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("migrate "+direction, flag.ContinueOnError)
	steps := fs.Uint("steps", 0, "number of migrations to revert (0 reverts all)")
	yes := fs.Bool("yes", false, "confirm a down migration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := postgres.NewMigrator(migrations.FS, cfg.Database.URL())
	if err != nil {
		return err
	}
	defer m.Close()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		if !*yes {
			return errors.New("migrate down can destroy data; rerun with -yes")
		}
		err = m.Down(*steps)
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info("migrations complete", "direction", direction, "version", version, "dirty", dirty)
	return nil
}

func runOnce(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *slog.Logger) error {
	sched, cleanup, err := buildScheduler(cfg, db, nil, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := sched.RunScheduledSyncs(ctx, domain.TriggerManual)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func serve(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *slog.Logger) error {
	m := metrics.New()

	sched, cleanup, err := buildScheduler(cfg, db, m, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	router := api.NewServer(sched, logger,
		api.WithMiddlewares(m.Middleware),
		api.WithRequestLogging(),
		api.WithTriggerToken(cfg.API.TriggerToken),
		api.WithMetricsHandler(m.Handler()),
		api.WithReadiness(db),
	)
	srv := &http.Server{Addr: cfg.API.Addr, Handler: router}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.API.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	if !cfg.Scheduler.DisableTicker {
		g.Go(func() error {
			return sched.Start(ctx)
		})
	}

	return g.Wait()
}

// buildScheduler wires the sync pipeline. m may be nil.
func buildScheduler(cfg *config.Config, db *sqlx.DB, m *metrics.Metrics, logger *slog.Logger) (*scheduler.Scheduler, func(), error) {
	registry := provider.Default()

	var pub service.Publisher
	cleanup := func() {}
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		pub = rabbitMQ
		cleanup = func() { rabbitMQ.Close() }
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:          cfg.Fetch.Timeout,
		MaxResponseBytes: cfg.Fetch.MaxResponseBytes,
		UserAgent:        cfg.Fetch.UserAgent,
	}, logger)

	syncService := service.NewSyncService(
		registry,
		fetcher,
		normalize.Default(),
		postgres.NewIntegrationDataStore(db),
		postgres.NewSyncLogStore(db),
		postgres.NewCredentialStore(db),
		pub,
		m,
		logger,
	)

	sched := scheduler.NewScheduler(
		syncService,
		postgres.NewConnectionStore(db),
		postgres.NewLeaseStore(db),
		registry,
		postgres.NewTransactionManager(db),
		m,
		logger,
		cfg.Scheduler,
	)

	logger.Info("sync pipeline ready",
		"providers", registry.IDs(),
		"publisher_enabled", pub != nil,
		"batch_size", cfg.Scheduler.BatchSize,
	)

	return sched, cleanup, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
