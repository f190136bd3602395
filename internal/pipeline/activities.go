package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/state"
)

// PhaseRunner runs one phase executor. *phases.Engine implements it.
type PhaseRunner interface {
	Run(ctx context.Context, k phases.Kind, workflowID string, opts phases.Options) (*phases.Result, error)
}

// Activities are the pipeline's activity implementations.
type Activities struct {
	runner PhaseRunner
	store  state.Store
}

// NewActivities binds activities to a phase runner and state store.
func NewActivities(runner PhaseRunner, store state.Store) *Activities {
	return &Activities{runner: runner, store: store}
}

// RunPhase runs one phase. A domain failure is returned as a result;
// only fatal phase errors fail the activity.
func (a *Activities) RunPhase(ctx context.Context, in RunPhaseInput) (*phases.Result, error) {
	activity.GetLogger(ctx).Info("Running phase", "workflow_id", in.WorkflowID, "phase", string(in.Phase))

	res, err := a.runner.Run(ctx, in.Phase, in.WorkflowID, in.Options)
	if err != nil {
		var perr *phases.PhaseError
		if errors.As(err, &perr) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "PhaseError", err)
		}
		return nil, err
	}
	return res, nil
}

// CurrentPhase reads the stored phase and status.
func (a *Activities) CurrentPhase(ctx context.Context, workflowID string) (*Position, error) {
	st, err := a.store.Get(ctx, workflowID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("workflow %s not found", workflowID), "NotFound", err)
	}
	if err != nil {
		return nil, err
	}
	return &Position{Phase: st.Phase, Status: st.Status}, nil
}
