package phases

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
)

// Build implements the plan in the workflow's worktree (planned → built).
// Failures are patched with /patch and re-implemented.
func (e *Engine) Build(ctx context.Context, workflowID string, opts Options) (*Result, error) {
	return e.execute(ctx, Build, workflowID, opts, true, func(r *run) error {
		if opts.PlanFile == "" {
			return critical(Build, "check preconditions", fmt.Errorf("%w: plan file is required", ErrPrecondition))
		}

		var last *agent.Response
		passed, attempts, err := r.resolveLoop(
			func() (bool, error) {
				resp, err := r.invoke(agent.Implement, opts.PlanFile)
				if err != nil {
					return false, err
				}
				last = resp
				return resp.Success, nil
			},
			func(int) error {
				resp, err := r.invoke(agent.Patch, last.ErrorMessage())
				if err != nil {
					return err
				}
				if !resp.Success {
					r.log().Warn(r.ctx, "patch attempt failed", zap.String("error", resp.ErrorMessage()))
				}
				return nil
			},
		)
		if err != nil {
			return err
		}
		r.result.set(DataResolveAttempts, attempts)
		r.comment.check("Implementation", passed)
		r.comment.add("- Plan: `%s`", opts.PlanFile)

		plan := filepath.Base(opts.PlanFile)
		if err := r.commitAndPush("feat", "implement "+plan, "Implemented "+plan+"."); err != nil {
			return err
		}

		if !passed {
			r.result.fail(fmt.Sprintf("Build failed after %d resolution attempt(s)", attempts), last.ErrorMessage())
			return nil
		}
		r.result.Success = true
		r.result.Message = "Build completed"
		return nil
	})
}
