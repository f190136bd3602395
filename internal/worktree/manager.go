// Package worktree validates and removes the isolated git working trees
// that workflows run in. It never creates worktrees; provisioning belongs
// to whoever plans the workflow.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/sanitize"
	"github.com/fyrsmithlabs/shipyard/internal/vcs"
)

// ValidationResult reports whether a worktree is usable by a phase.
type ValidationResult struct {
	IsValid bool
	Error   string
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Error: fmt.Sprintf(format, args...)}
}

// Manager resolves worktree paths below a trees directory of the main
// repository.
type Manager struct {
	repoRoot string
	treesDir string
	git      *vcs.Repo
	logger   *zap.Logger
}

// NewManager returns a Manager. A relative treesDir is resolved against
// repoRoot.
func NewManager(repoRoot, treesDir string, git *vcs.Repo, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if git == nil {
		git = vcs.Open(repoRoot)
	}
	if treesDir == "" {
		treesDir = "trees"
	}
	if !filepath.IsAbs(treesDir) {
		treesDir = filepath.Join(repoRoot, treesDir)
	}
	return &Manager{repoRoot: repoRoot, treesDir: treesDir, git: git, logger: logger}
}

// PathFor returns the conventional worktree path for a workflow.
func (m *Manager) PathFor(workflowID string) string {
	return filepath.Join(m.treesDir, workflowID)
}

// Validate checks that path exists, is a git working tree (linked
// worktrees included) and has expectedBranch checked out.
func (m *Manager) Validate(ctx context.Context, workflowID, path, expectedBranch string) ValidationResult {
	if path == "" {
		return invalid("workflow %s has no worktree path", workflowID)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return invalid("worktree %s does not exist", path)
	case err != nil:
		return invalid("stat worktree %s: %v", path, err)
	case !info.IsDir():
		return invalid("worktree %s is not a directory", path)
	}

	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{EnableDotGitCommonDir: true})
	if err != nil {
		return invalid("worktree %s is not a git working tree: %v", path, err)
	}

	if expectedBranch == "" {
		return ValidationResult{IsValid: true}
	}

	branch, err := headBranch(repo)
	if err != nil {
		return invalid("reading HEAD of %s: %v", path, err)
	}
	if branch != expectedBranch {
		return invalid("worktree %s is on branch %q, expected %q", path, branch, expectedBranch)
	}

	m.logger.Debug("worktree validated",
		zap.String("workflow.id", workflowID),
		zap.String("path", path),
		zap.String("branch", branch),
	)
	return ValidationResult{IsValid: true}
}

// headBranch reads HEAD without resolving it, so a branch with no commits
// yet still reports its name. A detached HEAD yields "HEAD".
func headBranch(repo *git.Repository) (string, error) {
	ref, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", err
	}
	if ref.Type() == plumbing.SymbolicReference && ref.Target().IsBranch() {
		return ref.Target().Short(), nil
	}
	return "HEAD", nil
}

// Remove deletes the conventional worktree of a workflow.
func (m *Manager) Remove(ctx context.Context, workflowID string) bool {
	return m.RemoveAt(ctx, workflowID, m.PathFor(workflowID))
}

// RemoveAt deletes the worktree at path, which must lie below the trees
// directory. It tries "git worktree remove --force" from the owning
// repository first, then falls back to deleting the directory and pruning
// stale worktree metadata. Failures are logged and reported as false.
func (m *Manager) RemoveAt(ctx context.Context, workflowID, path string) bool {
	log := m.logger.With(zap.String("workflow.id", workflowID), zap.String("path", path))

	path, err := sanitize.PathWithin(path, m.treesDir)
	if err != nil {
		log.Error("refusing to remove worktree outside trees directory", zap.Error(err))
		return false
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Info("worktree already absent")
		_ = m.git.WorktreePrune(ctx)
		return true
	}

	owner := m.git
	if root, err := m.git.At(path).MainRepoRoot(ctx); err == nil {
		owner = m.git.At(root)
	}

	err = owner.WorktreeRemove(ctx, path)
	if err == nil {
		log.Info("worktree removed")
		return true
	}
	log.Warn("git worktree remove failed, deleting directory", zap.Error(err))

	if err := os.RemoveAll(path); err != nil {
		log.Error("deleting worktree directory failed", zap.Error(err))
		return false
	}
	if err := owner.WorktreePrune(ctx); err != nil {
		log.Warn("git worktree prune failed", zap.Error(err))
	}
	log.Info("worktree directory deleted")
	return true
}

// RemoteSlug derives the owner and repository name from a remote URL of
// the repository at repoRoot, for GitHub-style remotes.
func RemoteSlug(repoRoot, remote string) (owner, name string, err error) {
	repo, err := git.PlainOpenWithOptions(repoRoot, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("opening %s: %w", repoRoot, err)
	}
	r, err := repo.Remote(remote)
	if err != nil {
		return "", "", fmt.Errorf("remote %s: %w", remote, err)
	}
	for _, u := range r.Config().URLs {
		if owner, name, ok := parseSlug(u); ok {
			return owner, name, nil
		}
	}
	return "", "", fmt.Errorf("remote %s has no owner/repo url", remote)
}
