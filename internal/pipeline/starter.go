package pipeline

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/logging"
)

// Starter launches pipeline runs on a task queue.
type Starter struct {
	client    client.Client
	taskQueue string
	logger    *logging.Logger
}

// NewStarter creates a Starter.
func NewStarter(c client.Client, taskQueue string, logger *logging.Logger) *Starter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Starter{client: c, taskQueue: taskQueue, logger: logger}
}

// Run is a started pipeline.
type Run struct {
	ID    string
	RunID string
	run   client.WorkflowRun
}

// Wait blocks until the pipeline finishes.
func (r *Run) Wait(ctx context.Context) (*Output, error) {
	var out Output
	if err := r.run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start launches a pipeline. Only one pipeline may run per workflow id.
func (s *Starter) Start(ctx context.Context, in Input) (*Run, error) {
	if in.WorkflowID == "" {
		return nil, fmt.Errorf("workflow id is required")
	}
	opts := client.StartWorkflowOptions{
		ID:                       WorkflowIDFor(in.WorkflowID),
		TaskQueue:                s.taskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
	}
	we, err := s.client.ExecuteWorkflow(ctx, opts, PipelineWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}
	s.logger.Info(logging.WithWorkflowID(ctx, in.WorkflowID), "pipeline started",
		zap.String("temporal_workflow_id", we.GetID()),
		zap.String("run_id", we.GetRunID()),
	)
	return &Run{ID: we.GetID(), RunID: we.GetRunID(), run: we}, nil
}

// NewWorker creates a worker that hosts the pipeline workflow and its
// activities. The caller runs and stops it.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(PipelineWorkflow)
	w.RegisterActivity(acts)
	return w
}
