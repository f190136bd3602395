package phases

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/review"
)

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// Review runs /review and classifies its output (tested → reviewed). The
// classifier decides pass or blocked regardless of the invocation's own
// success flag; blocked reviews are re-run up to MaxResolveAttempts.
func (e *Engine) Review(ctx context.Context, workflowID string, opts Options) (*Result, error) {
	return e.execute(ctx, Review, workflowID, opts, true, func(r *run) error {
		var (
			verdict     review.Verdict
			last        *agent.Response
			screenshots []string
		)
		passed, attempts, err := r.resolveLoop(
			func() (bool, error) {
				args := []string{}
				if opts.SpecFile != "" {
					args = append(args, opts.SpecFile)
				}
				if len(verdict.Blockers) > 0 {
					args = append(args, "Previously reported blockers: "+strings.Join(verdict.Blockers, "; "))
				}
				resp, err := r.invoke(agent.Review, args...)
				if err != nil {
					return false, err
				}
				last = resp
				if !resp.Success && strings.TrimSpace(resp.Output) == "" {
					verdict = review.Verdict{}
					return false, nil
				}
				verdict = e.classifier.Classify(resp.Output)
				if report, ok := review.ParseReport(resp.Output); ok {
					screenshots = append(screenshots, report.Screenshots...)
				}
				if !verdict.Decided {
					return resp.Success, nil
				}
				return !verdict.HasBlockers, nil
			},
			func(n int) error {
				r.log().Info(r.ctx, "re-running review after blockers",
					zap.Int("attempt", n),
					zap.Strings("blockers", verdict.Blockers),
				)
				return nil
			},
		)
		if err != nil {
			return err
		}

		screenshots = append(screenshots, collectScreenshots(r.path, e.settings.ScreenshotsDir)...)
		screenshots = dedupe(screenshots)
		if len(screenshots) > 0 {
			r.log().Info(r.ctx, "review screenshots ready for upload", zap.Strings("paths", screenshots))
		}

		r.result.set(DataResolveAttempts, attempts)
		r.result.set(DataHasBlockers, verdict.HasBlockers)
		r.result.set(DataBlockers, verdict.Blockers)
		r.result.set(DataScreenshots, screenshots)

		r.comment.check("Review", passed)
		if verdict.HasBlockers {
			r.comment.add("- Blockers:")
			for _, b := range verdict.Blockers {
				r.comment.add("  - %s", b)
			}
		}
		r.comment.add("- Screenshots: %d", len(screenshots))

		summary := fmt.Sprintf("Review pass with %d blocker(s) remaining.", len(verdict.Blockers))
		if err := r.commitAndPush("fix", "resolve review findings", summary); err != nil {
			return err
		}

		switch {
		case verdict.HasBlockers:
			r.result.fail(fmt.Sprintf("Review found %d blocker(s)", len(verdict.Blockers)), strings.Join(verdict.Blockers, "; "))
		case !passed:
			r.result.fail("Review invocation failed", last.ErrorMessage())
		default:
			r.result.Success = true
			r.result.Message = "Review passed with no blockers"
		}
		return nil
	})
}

// collectScreenshots lists image files under dir, relative to root.
func collectScreenshots(root, dir string) []string {
	base := filepath.Join(root, dir)
	if _, err := os.Stat(base); err != nil {
		return nil
	}
	var out []string
	_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
