package phases

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
)

// Document generates feature documentation (reviewed → documented). It
// runs once with no resolution; producing no files is only a warning.
func (e *Engine) Document(ctx context.Context, workflowID string, opts Options) (*Result, error) {
	return e.execute(ctx, Document, workflowID, opts, true, func(r *run) error {
		stat := r.diffAgainstMain()
		docsDir := filepath.Join(r.path, e.settings.DocsDir)
		before := snapshotMarkdown(docsDir)

		args := []string{}
		if opts.SpecFile != "" {
			args = append(args, opts.SpecFile)
		}
		if stat != "" {
			args = append(args, stat)
		}
		resp, err := r.invoke(agent.Document, args...)
		if err != nil {
			return err
		}

		changed := changedMarkdown(before, snapshotMarkdown(docsDir))
		sort.Strings(changed)
		docFiles := make([]string, 0, len(changed))
		for _, path := range changed {
			rel, err := filepath.Rel(r.path, path)
			if err != nil {
				rel = path
			}
			docFiles = append(docFiles, filepath.ToSlash(rel))
		}
		r.result.set(DataDocFiles, docFiles)

		r.comment.check("Documentation", resp.Success)
		if len(docFiles) == 0 {
			r.log().Warn(r.ctx, "no documentation files were created", zap.String("docs_dir", docsDir))
			r.comment.warn("No documentation files were created")
		} else {
			r.comment.add("- Files created: %d", len(docFiles))
			for i, path := range changed {
				if title := markdownTitle(path); title != "" {
					r.comment.add("  - `%s`: %s", docFiles[i], title)
				} else {
					r.comment.add("  - `%s`", docFiles[i])
				}
			}
		}

		summary := fmt.Sprintf("Added %d documentation file(s).", len(docFiles))
		if err := r.commitAndPush("docs", "add feature documentation", summary); err != nil {
			return err
		}

		if !resp.Success {
			r.result.fail("Documentation generation failed", resp.ErrorMessage())
			return nil
		}
		r.result.Success = true
		r.result.Message = fmt.Sprintf("Documentation generated (%d file(s))", len(docFiles))
		return nil
	})
}

// diffAgainstMain returns a diff stat against the main branch, falling back
// to the remote-tracking ref. Failure is logged and yields "".
func (r *run) diffAgainstMain() string {
	main := r.e.settings.MainBranch
	for _, ref := range []string{main, r.e.settings.Remote + "/" + main} {
		if !r.repo.RefExists(r.ctx, ref) {
			continue
		}
		stat, err := r.repo.DiffStat(r.ctx, ref+"...HEAD")
		if err != nil {
			r.log().Warn(r.ctx, "diff against main failed", zap.String("ref", ref), zap.Error(err))
			return ""
		}
		return stat
	}
	r.log().Warn(r.ctx, "main branch not found, documenting without diff context", zap.String("branch", main))
	return ""
}
