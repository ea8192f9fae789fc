package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/caskwatch/caskwatch/service/catalog"
	"github.com/caskwatch/caskwatch/service/classify"
	"github.com/caskwatch/caskwatch/service/config"
	"github.com/caskwatch/caskwatch/service/db"
	"github.com/caskwatch/caskwatch/service/ingest"
	"github.com/caskwatch/caskwatch/service/ledger"
	"github.com/caskwatch/caskwatch/service/resolve"
)

func runCycleCommand() *cli.Command {
	return &cli.Command{
		Name:  "cycle",
		Usage: "Run one ingest cycle in-process and print its stats",
		Description: `Run a single fetch/classify/resolve/persist pass against the configured
ledger feed and database, without Temporal. Useful for debugging
classification and checkpoint behavior.

Requires the same environment as the worker (DATABASE_URL, LEDGER_RPC_URL,
MARKETPLACE_ADDRESS, CATALOG_API_BASE, ...).`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Action: func(c *cli.Context) error {
			pipeline, _, cleanup, err := buildPipeline(c)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := pipeline.RunCycle(context.Background())
			if err != nil {
				return fmt.Errorf("cycle failed: %w", err)
			}
			return outputJSON(stats)
		},
	}
}

func pollListingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "poll-listings",
		Usage: "Run one listing poll in-process and print its stats",
		Description: `Fetch recent catalog listings, record the new ones, and print the poll
stats. Runs without Temporal and without NATS; nothing is published.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Action: func(c *cli.Context) error {
			_, listings, cleanup, err := buildPipeline(c)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := listings.ProcessNewListings(context.Background())
			if err != nil {
				return fmt.Errorf("listing poll failed: %w", err)
			}
			return outputJSON(stats)
		},
	}
}

// buildPipeline wires the ingest components from environment configuration,
// without NATS or Temporal. The returned cleanup closes the database pool.
func buildPipeline(c *cli.Context) (*ingest.Pipeline, *ingest.ListingProcessor, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	store := db.NewStore(pool)

	ledgerClient, err := ledger.NewClient(nil, cfg.LedgerAPIBase, cfg.LedgerRPCURL, cfg.LedgerAPIKey, cfg.MarketplaceAddr, nil, logger)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	catalogClient := catalog.NewClient(nil, cfg.CatalogAPIBase, cfg.CatalogAPIKey, cfg.CatalogAssetHost, nil, logger)
	resolver := resolve.NewResolver(store, catalogClient, ledgerClient, nil, logger, 30*time.Minute)
	classifier := classify.NewClassifier(cfg.StablecoinMint, logger)

	pipeline := ingest.NewPipeline(ledgerClient, store, resolver, classifier, nil, logger, cfg.PageSize, cfg.MaxBatchSize)
	listings := ingest.NewListingProcessor(catalogClient, store, nil, nil, logger)

	return pipeline, listings, pool.Close, nil
}
