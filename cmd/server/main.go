package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/formatrack/importd/internal/config"
	"github.com/formatrack/importd/internal/importer"
	"github.com/formatrack/importd/internal/logging"
	"github.com/formatrack/importd/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"preview_max_concurrent", cfg.Preview.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	// Metrics registry (private, not the global default)
	var registry *prometheus.Registry
	var metrics *importer.Metrics
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		metrics = importer.NewMetrics(registry, cfg.Metrics.Namespace)
	}

	historyStore := importer.NewPgHistoryStore(pool)

	service, err := importer.NewService(ctx,
		importer.NewPgDirectory(pool),
		importer.NewPgRuleStore(pool),
		historyStore,
		importer.Options{
			SessionTTL:            cfg.Preview.SessionTTL,
			TerminalLinger:        cfg.Preview.TerminalLinger,
			SweepInterval:         cfg.Preview.SweepInterval,
			MaxConcurrentPreviews: cfg.Preview.MaxConcurrent,
			PreviewMaxWait:        cfg.Preview.MaxWait,
			ConfirmTimeout:        cfg.Import.ConfirmTimeout,
			Metrics:               metrics,
		})
	if err != nil {
		slog.Error("failed to create import service", "error", err)
		os.Exit(1)
	}

	var gatherer prometheus.Gatherer
	if registry != nil {
		gatherer = registry
	}
	server := web.NewServer(cfg, service, pool, gatherer)

	// Background jobs: session sweeper and history retention
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.RunSessionSweeper(jobCtx)

	retention := importer.NewHistoryRetention(historyStore, cfg.History.PruneSchedule, cfg.History.RetentionDays)
	if err := retention.Start(jobCtx); err != nil {
		slog.Error("failed to start history retention", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		cancelJobs()
		retention.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight preview generations finish before closing
		if err := service.WaitForPreviews(shutdownCtx); err != nil {
			slog.Warn("previews did not complete in time", "error", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
