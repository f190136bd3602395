package phases

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/retry"
)

// commitMessage renders the three-part message audit tooling greps for:
// subject with issue reference, summary, attribution footer.
func commitMessage(commitType, subject string, issue *int, summary, agentName string) string {
	head := fmt.Sprintf("%s: %s", commitType, subject)
	if issue != nil {
		head = fmt.Sprintf("%s (#%d)", head, *issue)
	}
	return fmt.Sprintf("%s\n\n%s\n\nGenerated by %s via shipyard", head, summary, agentName)
}

// commitAndPush commits a dirty worktree and pushes the workflow branch.
// A clean worktree is a no-op.
func (r *run) commitAndPush(commitType, subject, summary string) error {
	ctx := r.ctx
	clean, err := r.repo.IsClean(ctx)
	if err != nil {
		return critical(r.kind, "check worktree status", err)
	}
	if clean {
		r.result.set(DataCommitted, false)
		r.log().Debug(ctx, "worktree clean, nothing to commit")
		return nil
	}

	if err := r.repo.StageAll(ctx); err != nil {
		return critical(r.kind, "stage changes", err)
	}
	diff, err := r.repo.StagedDiff(ctx)
	if err != nil {
		return critical(r.kind, "read staged diff", err)
	}
	if err := r.e.guard(diff, r.path); err != nil {
		return critical(r.kind, "scan staged changes", err)
	}

	msg := commitMessage(commitType, subject, r.state.IssueNumber, summary, r.e.settings.AgentName)
	sha, err := r.repo.Commit(ctx, msg)
	if err != nil {
		return critical(r.kind, "commit", err)
	}
	if r.e.commits != nil {
		r.e.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(r.kind))))
	}
	r.result.set(DataCommitted, true)

	branch := r.state.Branch()
	if branch == "" {
		if branch, err = r.repo.CurrentBranch(ctx); err != nil {
			return critical(r.kind, "resolve branch", err)
		}
	}
	attempts, err := retry.Run(ctx, r.e.settings.PushRetry, func(ctx context.Context) error {
		return r.repo.PushBranch(ctx, branch, r.e.settings.Remote)
	},
		retry.WithLogger(r.log().Underlying()),
		retry.WithOperation("git push"),
	)
	r.result.set(DataPushAttempts, attempts)
	if err != nil {
		return critical(r.kind, "push", err)
	}

	r.log().Info(ctx, "changes committed and pushed",
		zap.String("sha", sha),
		zap.String("branch", branch),
		zap.Int("push_attempts", attempts),
	)
	return nil
}
