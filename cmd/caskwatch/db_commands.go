package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/caskwatch/caskwatch/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listActivitiesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-activities",
		Usage:   "List recorded marketplace activities",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of activities",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many activities",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			activities, err := store.ListActivities(context.Background(), int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list activities: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(activities)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IDX\tTYPE\tASSET\tPRICE\tDATE\tSIGNATURE")
			for _, a := range activities {
				price := "-"
				if a.Price != nil {
					price = fmt.Sprintf("%.2f", *a.Price)
				}
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n",
					a.ActivityIdx,
					a.ActivityTypeIdx,
					a.AssetIdx,
					price,
					a.ActivityDate.Format(time.RFC3339),
					formatOptionalString(a.Signature),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d activities\n", len(activities))
			return nil
		},
	}
}

func getAssetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-asset",
		Usage:     "Get asset details",
		Aliases:   []string{"get"},
		ArgsUsage: "<mint_address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: asset mint address")
			}

			assetID := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			asset, err := store.GetAssetByID(context.Background(), assetID)
			if err != nil {
				return fmt.Errorf("failed to get asset: %w", err)
			}
			if asset == nil {
				return fmt.Errorf("asset not found: %s", assetID)
			}

			if c.Bool("json") {
				return outputJSON(asset)
			}

			// Pretty output
			fmt.Printf("Asset Idx:    %d\n", asset.AssetIdx)
			fmt.Printf("Mint:         %s\n", asset.AssetID)
			fmt.Printf("Name:         %s\n", asset.Name)
			if asset.CatalogIdx != nil {
				fmt.Printf("Catalog Idx:  %d\n", *asset.CatalogIdx)
			} else {
				fmt.Printf("Catalog Idx:  (chain only)\n")
			}
			if asset.Price != nil {
				fmt.Printf("Price:        %.2f\n", *asset.Price)
			} else {
				fmt.Printf("Price:        (none)\n")
			}
			fmt.Printf("Listed:       %v\n", asset.IsListed)
			if asset.ListedDate != nil {
				fmt.Printf("Listed Date:  %s\n", asset.ListedDate.Format(time.RFC3339))
			}
			fmt.Printf("Added:        %s\n", asset.AddedDate.Format(time.RFC3339))
			fmt.Printf("Updated:      %s\n", asset.LastUpdated.Format(time.RFC3339))

			return nil
		},
	}
}

func getCheckpointCommand() *cli.Command {
	return &cli.Command{
		Name:  "checkpoint",
		Usage: "Show the ingest checkpoint signature",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			sig, err := store.HighestCommittedSignature(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get checkpoint: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]*string{"latest_processed_signature": sig})
			}

			if sig == nil {
				fmt.Println("No checkpoint set (next cycle ingests full history)")
				return nil
			}
			fmt.Printf("Checkpoint: %s\n", *sig)
			return nil
		},
	}
}

func setCheckpointCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-checkpoint",
		Usage:     "Manually set the ingest checkpoint signature",
		ArgsUsage: "<signature>",
		Description: `Overwrite the checkpoint so the next ingest cycle resumes from the given
transaction signature. Useful for replaying a window of history or skipping
a poison transaction.`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			signature := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.SetCheckpoint(context.Background(), signature); err != nil {
				return fmt.Errorf("failed to set checkpoint: %w", err)
			}

			fmt.Printf("Checkpoint set to %s\n", signature)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Action: func(c *cli.Context) error {
			dbURL := c.String("database-url")
			if dbURL == "" {
				return fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
			}

			if err := db.Migrate(dbURL); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Migrations applied")
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Helper function to format optional strings
func formatOptionalString(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "(none)"
}
