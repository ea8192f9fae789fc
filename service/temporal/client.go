package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// IngestWorkflowID is the fixed workflow id for the ingest loop. There is
// exactly one watched marketplace, so exactly one loop.
const IngestWorkflowID = "caskwatch-ingest-loop"

// Client is a thin wrapper over the Temporal SDK client for managing the
// ingest loop workflow.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartIngestWorkflow starts the ingest loop if it is not already running.
// Starting an already-running loop is a no-op, not an error.
func (c *Client) StartIngestWorkflow(ctx context.Context, pollInterval, errorCooldown time.Duration) error {
	options := client.StartWorkflowOptions{
		ID:                       IngestWorkflowID,
		TaskQueue:                c.taskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}

	input := IngestWorkflowInput{
		PollInterval:  pollInterval,
		ErrorCooldown: errorCooldown,
	}

	run, err := c.client.ExecuteWorkflow(ctx, options, IngestWorkflow, input)
	if err != nil {
		return fmt.Errorf("failed to start ingest workflow: %w", err)
	}

	c.logger.Info("ingest workflow running",
		"workflow_id", IngestWorkflowID,
		"run_id", run.GetRunID(),
		"poll_interval", pollInterval,
	)
	return nil
}

// StopIngestWorkflow cancels the running ingest loop.
func (c *Client) StopIngestWorkflow(ctx context.Context) error {
	if err := c.client.CancelWorkflow(ctx, IngestWorkflowID, ""); err != nil {
		return fmt.Errorf("failed to cancel ingest workflow: %w", err)
	}
	c.logger.Info("ingest workflow cancelled", "workflow_id", IngestWorkflowID)
	return nil
}

// DescribeIngestWorkflow reports the current status of the ingest loop.
func (c *Client) DescribeIngestWorkflow(ctx context.Context) (string, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, IngestWorkflowID, "")
	if err != nil {
		return "", fmt.Errorf("failed to describe ingest workflow: %w", err)
	}
	return desc.GetWorkflowExecutionInfo().GetStatus().String(), nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow
// operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
