package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/caskwatch/caskwatch/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// apiCommands groups commands that talk to a running caskwatch server over
// its HTTP API.
func apiCommands() *cli.Command {
	jqFlag := &cli.StringFlag{
		Name:    "jq",
		Aliases: []string{"q"},
		Usage:   "jq expression applied to the JSON response",
	}

	return &cli.Command{
		Name:  "api",
		Usage: "Query a running caskwatch server",
		Subcommands: []*cli.Command{
			{
				Name:  "activities",
				Usage: "List activities from the server",
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
					jqFlag,
				},
				Action: func(c *cli.Context) error {
					cl := getAPIClient(c)
					activities, err := cl.ListActivities(context.Background(), c.Int("limit"), c.Int("offset"))
					if err != nil {
						return err
					}
					return outputFiltered(activities, c.String("jq"))
				},
			},
			{
				Name:      "asset",
				Usage:     "Get asset details from the server",
				ArgsUsage: "<mint_address>",
				Flags:     []cli.Flag{jqFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: asset mint address")
					}
					cl := getAPIClient(c)
					asset, err := cl.GetAsset(context.Background(), c.Args().First())
					if err != nil {
						return err
					}
					return outputFiltered(asset, c.String("jq"))
				},
			},
			{
				Name:  "checkpoint",
				Usage: "Show the server's ingest checkpoint",
				Flags: []cli.Flag{jqFlag},
				Action: func(c *cli.Context) error {
					cl := getAPIClient(c)
					sig, err := cl.GetCheckpoint(context.Background())
					if err != nil {
						return err
					}
					return outputFiltered(map[string]*string{"latest_processed_signature": sig}, c.String("jq"))
				},
			},
			{
				Name:  "stats",
				Usage: "Show the ingest pipeline status",
				Flags: []cli.Flag{jqFlag},
				Action: func(c *cli.Context) error {
					cl := getAPIClient(c)
					stats, err := cl.GetStats(context.Background())
					if err != nil {
						return err
					}
					return outputFiltered(stats, c.String("jq"))
				},
			},
		},
	}
}

func getAPIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

// outputFiltered prints v as JSON, optionally transformed through a jq
// expression first.
func outputFiltered(v interface{}, jqExpr string) error {
	if jqExpr == "" {
		return outputJSON(v)
	}

	query, err := gojq.Parse(jqExpr)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", jqExpr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", jqExpr, err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	iter := code.Run(doc)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq filter error: %w", err)
		}
		if err := outputJSON(result); err != nil {
			return err
		}
	}
	return nil
}
