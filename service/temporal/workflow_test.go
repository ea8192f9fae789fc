package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/caskwatch/caskwatch/service/ingest"
)

func newWorkflowTestEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(IngestWorkflow)
	return env
}

// lastPassInput makes the workflow run a single pass and then continue as
// new, which keeps the looping workflow testable.
func lastPassInput() IngestWorkflowInput {
	return IngestWorkflowInput{Iteration: maxIterationsPerRun - 1}
}

func TestIngestWorkflow_RunsCycleAndListings(t *testing.T) {
	env := newWorkflowTestEnv(t)

	cycleResult := &RunIngestCycleResult{Stats: ingest.CycleStats{
		TotalProcessed:     3,
		ParsedMints:        1,
		ParsedPurchases:    1,
		InsertedActivities: 2,
	}}
	listingResult := &ProcessListingsResult{Stats: ingest.ListingStats{NewListings: 1, Published: 1}}

	env.OnActivity(a.RunIngestCycle, mock.Anything, mock.Anything).Return(cycleResult, nil).Once()
	env.OnActivity(a.ProcessListings, mock.Anything, mock.Anything).Return(listingResult, nil).Once()

	env.ExecuteWorkflow(IngestWorkflow, lastPassInput())

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, workflow.IsContinueAsNewError(err), "the loop should continue as new, got: %v", err)
	env.AssertExpectations(t)
}

func TestIngestWorkflow_FailedCycleSkipsListings(t *testing.T) {
	env := newWorkflowTestEnv(t)

	env.OnActivity(a.RunIngestCycle, mock.Anything, mock.Anything).
		Return(nil, errors.New("ledger upstream unavailable"))
	// ProcessListings is deliberately not mocked: the test fails if the
	// workflow tries to run it after a failed cycle.

	env.ExecuteWorkflow(IngestWorkflow, lastPassInput())

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, workflow.IsContinueAsNewError(err))
}

func TestIngestWorkflow_ListingFailureDoesNotStopLoop(t *testing.T) {
	env := newWorkflowTestEnv(t)

	env.OnActivity(a.RunIngestCycle, mock.Anything, mock.Anything).
		Return(&RunIngestCycleResult{}, nil).Once()
	env.OnActivity(a.ProcessListings, mock.Anything, mock.Anything).
		Return(nil, errors.New("catalog down"))

	env.ExecuteWorkflow(IngestWorkflow, lastPassInput())

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, workflow.IsContinueAsNewError(err))
}

func TestIngestWorkflow_MultiplePassesBeforeContinueAsNew(t *testing.T) {
	env := newWorkflowTestEnv(t)

	env.OnActivity(a.RunIngestCycle, mock.Anything, mock.Anything).
		Return(&RunIngestCycleResult{}, nil).Times(maxIterationsPerRun)
	env.OnActivity(a.ProcessListings, mock.Anything, mock.Anything).
		Return(&ProcessListingsResult{}, nil).Times(maxIterationsPerRun)

	env.ExecuteWorkflow(IngestWorkflow, IngestWorkflowInput{})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, workflow.IsContinueAsNewError(err))
	env.AssertExpectations(t)
}
