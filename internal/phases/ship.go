package phases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/platform"
	"github.com/fyrsmithlabs/shipyard/internal/retry"
	"github.com/fyrsmithlabs/shipyard/internal/state"
)

type shipPreconditions struct {
	PRNumber    *int   `validate:"required"`
	BranchName  string `validate:"required"`
	IssueNumber *int   `validate:"required"`
}

// Ship merges the pull request (documented → shipped) and marks the
// workflow completed. It makes no agent call and skips workspace
// validation since the worktree may already be gone.
func (e *Engine) Ship(ctx context.Context, workflowID string, opts Options) (*Result, error) {
	return e.execute(ctx, Ship, workflowID, opts, false, func(r *run) error {
		st := r.state
		if err := validate.Struct(shipPreconditions{
			PRNumber:    st.PRNumber,
			BranchName:  st.Branch(),
			IssueNumber: st.IssueNumber,
		}); err != nil {
			return critical(Ship, "check preconditions", fmt.Errorf("%w: %s", ErrPrecondition, missingFields(err)))
		}
		if e.platform == nil {
			return critical(Ship, "check preconditions", fmt.Errorf("%w: no review platform configured", ErrPrecondition))
		}
		pr := *st.PRNumber

		if opts.AutoApprove {
			if err := e.platform.ApprovePullRequest(r.ctx, pr); err != nil {
				r.tolerate(SeverityHigh, "approve pull request", err,
					"auto-approve requested but not performed", zap.Int("pr", pr))
			}
		}

		alreadyMerged := false
		attempts, err := retry.Run(r.ctx, e.settings.MergeRetry, func(ctx context.Context) error {
			err := e.platform.MergePullRequest(ctx, pr, e.settings.MergeMethod)
			if platform.IsAlreadyMerged(err) {
				alreadyMerged = true
				return nil
			}
			return err
		},
			retry.WithLogger(r.log().Underlying()),
			retry.WithOperation("merge pull request"),
			retry.WithRetryable(platform.IsRetryable),
		)
		r.result.set(DataMergeAttempts, attempts)
		r.result.set(DataAlreadyMerged, alreadyMerged)
		if err != nil {
			return critical(Ship, "merge pull request", err)
		}
		if alreadyMerged {
			r.log().Info(r.ctx, "pull request already merged", zap.Int("pr", pr))
			r.comment.add("- ℹ️ PR #%d was already merged", pr)
		} else {
			r.comment.check(fmt.Sprintf("PR #%d merged (%s)", pr, e.settings.MergeMethod), true)
		}

		cleanup := e.settings.CleanupWorktree
		if opts.CleanupWorktree != nil {
			cleanup = *opts.CleanupWorktree
		}
		removed := false
		if cleanup && st.WorktreeExists && st.Worktree() != "" {
			removed = e.workspaces.RemoveAt(r.ctx, st.ID, st.Worktree())
			if removed {
				r.extra.WorktreeExists = state.Ptr(false)
				r.comment.add("- 🧹 Worktree removed")
			} else {
				r.tolerate(SeverityHigh, "remove worktree", errWorktreeRemoval,
					"worktree cleanup failed", zap.String("path", st.Worktree()))
			}
		}
		r.result.set(DataWorktreeRemoved, removed)

		r.completed = true
		r.result.Success = true
		r.result.Message = fmt.Sprintf("Shipped PR #%d", pr)
		return nil
	})
}

var errWorktreeRemoval = errors.New("worktree could not be removed")

func missingFields(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return "missing " + strings.Join(names, ", ")
}
