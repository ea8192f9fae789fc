package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caskwatch/caskwatch/service/temporal"
	"github.com/urfave/cli/v2"
)

func startIngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start the ingest loop workflow",
		Description: `Start the long-running ingest loop on the Temporal cluster.

Starting an already-running loop is a no-op: the existing run keeps its
current poll interval.`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Sleep between ingest passes",
				Value: 5 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "error-cooldown",
				Usage: "Sleep after a failed ingest pass",
				Value: time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.StartIngestWorkflow(context.Background(), c.Duration("poll-interval"), c.Duration("error-cooldown")); err != nil {
				return err
			}

			fmt.Printf("Ingest loop running (workflow id: %s)\n", temporal.IngestWorkflowID)
			return nil
		},
	}
}

func stopIngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Cancel the ingest loop workflow",
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.StopIngestWorkflow(context.Background()); err != nil {
				return err
			}

			fmt.Printf("Ingest loop cancelled (workflow id: %s)\n", temporal.IngestWorkflowID)
			return nil
		},
	}
}

func describeIngestCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe",
		Usage:   "Show the ingest loop workflow status",
		Aliases: []string{"status"},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			status, err := tc.DescribeIngestWorkflow(context.Background())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{
					"workflow_id": temporal.IngestWorkflowID,
					"status":      status,
				})
			}

			fmt.Printf("Workflow ID: %s\n", temporal.IngestWorkflowID)
			fmt.Printf("Status:      %s\n", status)
			return nil
		},
	}
}

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
}
