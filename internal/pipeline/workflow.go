// Package pipeline drives a workflow through its phases as a Temporal
// workflow. Each phase runs as one activity; phases for one workflow id
// therefore never overlap.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/state"
)

// DefaultPhaseTimeout bounds a single phase activity.
const DefaultPhaseTimeout = 2 * time.Hour

// Input starts a pipeline run.
type Input struct {
	WorkflowID string
	// From is the first phase to run; empty resumes from the stored phase.
	From phases.Kind
	// Through is the last phase to run; empty runs through ship.
	Through phases.Kind
	Options phases.Options
	// PhaseTimeout overrides DefaultPhaseTimeout.
	PhaseTimeout time.Duration
}

// StepResult records one executed phase.
type StepResult struct {
	Phase   phases.Kind    `json:"phase"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Output is the pipeline result.
type Output struct {
	WorkflowID string       `json:"workflowId"`
	Steps      []StepResult `json:"steps"`
	// Completed is true when the pipeline ran every requested phase.
	Completed bool `json:"completed"`
	// StoppedAt names the phase that failed, if any.
	StoppedAt phases.Kind `json:"stoppedAt,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// RunPhaseInput is the RunPhase activity argument.
type RunPhaseInput struct {
	WorkflowID string
	Phase      phases.Kind
	Options    phases.Options
}

// Position is the stored phase and status of a workflow.
type Position struct {
	Phase  state.Phase
	Status state.Status
}

// ReasonStatusFailed is the Output.Reason when a resumed workflow's stored
// status is failed.
const ReasonStatusFailed = "workflow status is failed"

// WorkflowIDFor is the Temporal workflow id used for a shipyard workflow.
func WorkflowIDFor(workflowID string) string {
	return "shipyard-pipeline-" + workflowID
}

// PipelineWorkflow runs phases in order and stops on the first phase that
// does not succeed.
func PipelineWorkflow(ctx workflow.Context, in Input) (*Output, error) {
	logger := workflow.GetLogger(ctx)
	out := &Output{WorkflowID: in.WorkflowID}

	timeout := in.PhaseTimeout
	if timeout <= 0 {
		timeout = DefaultPhaseTimeout
	}
	// Phases retry their own network calls; a whole phase is never retried.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var a *Activities
	start := in.From
	if start == "" {
		var pos Position
		if err := workflow.ExecuteActivity(ctx, a.CurrentPhase, in.WorkflowID).Get(ctx, &pos); err != nil {
			return nil, fmt.Errorf("load workflow position: %w", err)
		}
		k, err := resumeAt(pos, in.Options.Force)
		switch {
		case errors.Is(err, errStatusFailed):
			out.StoppedAt = k
			out.Reason = ReasonStatusFailed
			logger.Warn("Refusing to resume failed workflow",
				"workflow_id", in.WorkflowID, "phase", string(pos.Phase))
			return out, nil
		case err != nil:
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidPhase", err)
		case k == "":
			logger.Info("Workflow already shipped", "workflow_id", in.WorkflowID)
			out.Completed = true
			return out, nil
		}
		start = k
	}

	plan, err := phaseRange(start, in.Through)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidPhase", err)
	}

	logger.Info("Starting pipeline",
		"workflow_id", in.WorkflowID,
		"from", string(plan[0]),
		"through", string(plan[len(plan)-1]))

	for _, k := range plan {
		var res phases.Result
		err := workflow.ExecuteActivity(ctx, a.RunPhase, RunPhaseInput{
			WorkflowID: in.WorkflowID,
			Phase:      k,
			Options:    in.Options,
		}).Get(ctx, &res)
		if err != nil {
			out.StoppedAt = k
			out.Reason = err.Error()
			logger.Error("Phase errored", "phase", string(k), "error", err)
			return out, err
		}

		out.Steps = append(out.Steps, StepResult{
			Phase:   k,
			Success: res.Success,
			Message: res.Message,
			Error:   res.Error,
			Data:    res.Data,
		})
		if !res.Success {
			out.StoppedAt = k
			out.Reason = res.Message
			logger.Warn("Pipeline stopped on failed phase", "phase", string(k), "message", res.Message)
			return out, nil
		}
	}

	out.Completed = true
	logger.Info("Pipeline finished", "workflow_id", in.WorkflowID, "phases", len(out.Steps))
	return out, nil
}

var errStatusFailed = errors.New(ReasonStatusFailed)

// resumeAt picks the first executor for a stored position. A failed
// status blocks every later phase; force reruns the phase that failed
// instead. An empty kind means the workflow already shipped.
func resumeAt(pos Position, force bool) (phases.Kind, error) {
	if pos.Status == state.StatusFailed {
		failed, ok := phases.KindExiting(pos.Phase)
		if !ok {
			// Nothing ran yet; the first executor is the one refused.
			failed, _ = phases.KindFrom(pos.Phase)
		}
		if !force {
			return failed, errStatusFailed
		}
		return failed, nil
	}
	if pos.Phase == state.PhaseShipped {
		return "", nil
	}
	k, ok := phases.KindFrom(pos.Phase)
	if !ok {
		return "", fmt.Errorf("no phase follows %q", pos.Phase)
	}
	return k, nil
}

// phaseRange returns the executors from..through inclusive.
func phaseRange(from, through phases.Kind) ([]phases.Kind, error) {
	kinds := phases.Kinds()
	if through == "" {
		through = kinds[len(kinds)-1]
	}
	start, end := -1, -1
	for i, k := range kinds {
		if k == from {
			start = i
		}
		if k == through {
			end = i
		}
	}
	switch {
	case start < 0:
		return nil, fmt.Errorf("unknown phase %q", from)
	case end < 0:
		return nil, fmt.Errorf("unknown phase %q", through)
	case end < start:
		return nil, fmt.Errorf("phase %q comes before %q", through, from)
	}
	return kinds[start : end+1], nil
}
