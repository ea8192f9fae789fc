package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caskwatch/caskwatch/service/ingest"
	"github.com/caskwatch/caskwatch/service/metrics"
)

// IngestWorkflowInput configures the ingest loop workflow.
type IngestWorkflowInput struct {
	PollInterval  time.Duration `json:"poll_interval"`
	ErrorCooldown time.Duration `json:"error_cooldown"`
	// Iteration counts completed loop passes in the current run. The
	// workflow continues-as-new when it reaches maxIterationsPerRun.
	Iteration int `json:"iteration"`
}

// IngestWorkflowResult summarizes the last pass before a run ended.
type IngestWorkflowResult struct {
	Cycles    int     `json:"cycles"`
	LastError *string `json:"last_error,omitempty"`
}

// RunIngestCycleInput contains parameters for the RunIngestCycle activity.
type RunIngestCycleInput struct{}

// RunIngestCycleResult contains the result of one ledger ingest cycle.
type RunIngestCycleResult struct {
	Stats ingest.CycleStats `json:"stats"`
}

// ProcessListingsInput contains parameters for the ProcessListings activity.
type ProcessListingsInput struct{}

// ProcessListingsResult contains the result of one catalog listing poll.
type ProcessListingsResult struct {
	Stats ingest.ListingStats `json:"stats"`
}

// PipelineInterface defines the ledger ingest operations needed by
// activities. This allows for easy mocking in tests.
type PipelineInterface interface {
	RunCycle(ctx context.Context) (ingest.CycleStats, error)
}

// ListingPollerInterface defines the catalog polling operations needed by
// activities. This allows for easy mocking in tests.
type ListingPollerInterface interface {
	ProcessNewListings(ctx context.Context) (ingest.ListingStats, error)
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	pipeline PipelineInterface
	listings ListingPollerInterface
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(pipeline PipelineInterface, listings ListingPollerInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		pipeline: pipeline,
		listings: listings,
		metrics:  m,
		logger:   logger,
	}
}

// RunIngestCycle executes one ledger ingest cycle: fetch, classify,
// resolve, persist, advance checkpoint.
func (a *Activities) RunIngestCycle(ctx context.Context, _ RunIngestCycleInput) (*RunIngestCycleResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("RunIngestCycle", time.Since(start).Seconds())
		}
	}()

	stats, err := a.pipeline.RunCycle(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "ingest cycle failed", "error", err)
		return nil, fmt.Errorf("ingest cycle failed: %w", err)
	}
	return &RunIngestCycleResult{Stats: stats}, nil
}

// ProcessListings polls the catalog for fresh marketplace listings.
func (a *Activities) ProcessListings(ctx context.Context, _ ProcessListingsInput) (*ProcessListingsResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("ProcessListings", time.Since(start).Seconds())
		}
	}()

	stats, err := a.listings.ProcessNewListings(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "listing poll failed", "error", err)
		return nil, fmt.Errorf("listing poll failed: %w", err)
	}
	return &ProcessListingsResult{Stats: stats}, nil
}
