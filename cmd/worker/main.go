package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caskwatch/caskwatch/service/catalog"
	"github.com/caskwatch/caskwatch/service/classify"
	"github.com/caskwatch/caskwatch/service/config"
	"github.com/caskwatch/caskwatch/service/db"
	"github.com/caskwatch/caskwatch/service/ingest"
	"github.com/caskwatch/caskwatch/service/ledger"
	"github.com/caskwatch/caskwatch/service/metrics"
	natspkg "github.com/caskwatch/caskwatch/service/nats"
	"github.com/caskwatch/caskwatch/service/resolve"
	"github.com/caskwatch/caskwatch/service/server"
	"github.com/caskwatch/caskwatch/service/temporal"
)

// unresolvableCacheTTL is how long a failed asset resolution is remembered
// before the upstreams are asked again.
const unresolvableCacheTTL = 30 * time.Minute

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	logger.Info("Prometheus metrics collector initialized")

	// Ledger client for the watched marketplace address
	ledgerClient, err := ledger.NewClient(nil, cfg.LedgerAPIBase, cfg.LedgerRPCURL, cfg.LedgerAPIKey, cfg.MarketplaceAddr, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create ledger client", "error", err)
		os.Exit(1)
	}
	logger.Info("initialized ledger client",
		"api_base", cfg.LedgerAPIBase,
		"marketplace", cfg.MarketplaceAddr,
	)

	catalogClient := catalog.NewClient(nil, cfg.CatalogAPIBase, cfg.CatalogAPIKey, cfg.CatalogAssetHost, metricsCollector, logger)
	logger.Info("initialized catalog client", "api_base", cfg.CatalogAPIBase)

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	resolver := resolve.NewResolver(store, catalogClient, ledgerClient, metricsCollector, logger, unresolvableCacheTTL)
	classifier := classify.NewClassifier(cfg.StablecoinMint, logger)
	pipeline := ingest.NewPipeline(ledgerClient, store, resolver, classifier, metricsCollector, logger, cfg.PageSize, cfg.MaxBatchSize)
	listings := ingest.NewListingProcessor(catalogClient, store, natsPublisher, metricsCollector, logger)

	// Stats/metrics/health surface for this worker
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	statsServer := server.New(metricsAddr, store, pipeline, metricsCollector, logger)
	go func() {
		if err := statsServer.Start(); err != nil {
			logger.Error("stats server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := statsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown stats server", "error", err)
		}
	}()

	// Temporal client to make sure the ingest loop is running
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	if err := temporalClient.StartIngestWorkflow(ctx, cfg.PollInterval, cfg.ErrorCooldown); err != nil {
		logger.Error("failed to start ingest workflow", "error", err)
		os.Exit(1)
	}

	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Pipeline:          pipeline,
		Listings:          listings,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		if err != nil {
			logger.Error("worker error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("worker shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
