package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// maxIterationsPerRun bounds how many poll passes one workflow run makes
// before continuing as new, keeping the event history small.
const maxIterationsPerRun = 100

// IngestWorkflow is the long-running loop that drives the activity feed.
// Each pass runs one ledger ingest cycle, then drains new catalog
// listings, then sleeps for the poll interval. A failed cycle sleeps for
// the error cooldown instead, so a broken upstream is retried gently.
//
// The workflow continues as new after maxIterationsPerRun passes.
func IngestWorkflow(ctx workflow.Context, input IngestWorkflowInput) (*IngestWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("IngestWorkflow started", "iteration", input.Iteration)

	if input.PollInterval <= 0 {
		input.PollInterval = 5 * time.Minute
	}
	if input.ErrorCooldown <= 0 {
		input.ErrorCooldown = time.Minute
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	result := &IngestWorkflowResult{}

	for ; input.Iteration < maxIterationsPerRun; input.Iteration++ {
		sleepFor := input.PollInterval

		var cycleResult *RunIngestCycleResult
		err := workflow.ExecuteActivity(ctx, a.RunIngestCycle, RunIngestCycleInput{}).Get(ctx, &cycleResult)
		if err != nil {
			logger.Error("ingest cycle failed, cooling down",
				"error", err,
				"cooldown", input.ErrorCooldown,
			)
			errMsg := fmt.Sprintf("ingest cycle failed: %v", err)
			result.LastError = &errMsg
			sleepFor = input.ErrorCooldown
		} else {
			result.Cycles++
			result.LastError = nil
			logger.Info("ingest cycle completed",
				"total_processed", cycleResult.Stats.TotalProcessed,
				"inserted", cycleResult.Stats.InsertedActivities,
				"errors", cycleResult.Stats.Errors,
			)

			var listingResult *ProcessListingsResult
			if err := workflow.ExecuteActivity(ctx, a.ProcessListings, ProcessListingsInput{}).Get(ctx, &listingResult); err != nil {
				// Listings are additive; a failed poll does not stop the loop.
				logger.Warn("listing poll failed", "error", err)
			} else {
				logger.Info("listing poll completed",
					"new", listingResult.Stats.NewListings,
					"published", listingResult.Stats.Published,
				)
			}
		}

		if err := workflow.Sleep(ctx, sleepFor); err != nil {
			return result, err
		}
	}

	logger.Info("continuing ingest workflow as new", "cycles", result.Cycles)
	next := input
	next.Iteration = 0
	return nil, workflow.NewContinueAsNewError(ctx, IngestWorkflow, next)
}
