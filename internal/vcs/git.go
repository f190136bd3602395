// Package vcs runs git commands scoped to one explicit working tree.
//
// Every command sets its working directory to the repository path; nothing
// here reads or changes the process working directory, so concurrent
// workflows in different worktrees never interfere.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// GitError describes a failed git invocation.
type GitError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *GitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *GitError) Unwrap() error { return e.Err }

// Repo is a git working tree at a fixed path.
type Repo struct {
	dir    string
	bin    string
	env    []string
	logger *zap.Logger
}

// Option configures a Repo.
type Option func(*Repo)

// WithLogger logs each command at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repo) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithIdentity sets the author and committer used by Commit.
func WithIdentity(name, email string) Option {
	return func(r *Repo) {
		r.env = append(r.env,
			"GIT_AUTHOR_NAME="+name, "GIT_AUTHOR_EMAIL="+email,
			"GIT_COMMITTER_NAME="+name, "GIT_COMMITTER_EMAIL="+email,
		)
	}
}

// WithGitBinary overrides the git executable.
func WithGitBinary(bin string) Option {
	return func(r *Repo) { r.bin = bin }
}

// Open returns a Repo rooted at dir. It does not touch the filesystem.
func Open(dir string, opts ...Option) *Repo {
	r := &Repo{dir: dir, bin: "git", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the working tree path.
func (r *Repo) Dir() string { return r.dir }

// At returns a Repo for another path sharing r's options.
func (r *Repo) At(dir string) *Repo {
	clone := *r
	clone.dir = dir
	clone.env = append([]string(nil), r.env...)
	return &clone
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, r.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	r.logger.Debug("git",
		zap.String("dir", r.dir),
		zap.Strings("args", args),
		zap.Error(err),
	)
	if err != nil {
		gerr := &GitError{Args: args, Stderr: stderr.String(), Err: err, ExitCode: -1}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gerr.ExitCode = exitErr.ExitCode()
		}
		return stdout.String(), gerr
	}
	return stdout.String(), nil
}

// Diff returns the patch for revRange (e.g. "main...HEAD").
func (r *Repo) Diff(ctx context.Context, revRange string) (string, error) {
	return r.run(ctx, "diff", revRange)
}

// DiffStat returns the --stat summary for revRange.
func (r *Repo) DiffStat(ctx context.Context, revRange string) (string, error) {
	out, err := r.run(ctx, "diff", "--stat", revRange)
	return strings.TrimSpace(out), err
}

// StagedDiff returns the patch of the index against HEAD.
func (r *Repo) StagedDiff(ctx context.Context) (string, error) {
	return r.run(ctx, "diff", "--cached", "--no-color")
}

// IsClean reports whether the tree has no staged, unstaged or untracked changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// StageAll stages every change including untracked files.
func (r *Repo) StageAll(ctx context.Context) error {
	_, err := r.run(ctx, "add", "-A")
	return err
}

// Commit records the index with message and returns the new commit hash.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	if _, err := r.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	out, err := r.run(ctx, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

// PushBranch pushes branch to remote and sets upstream.
func (r *Repo) PushBranch(ctx context.Context, branch, remote string) error {
	if branch == "" {
		return errors.New("push: branch is required")
	}
	if remote == "" {
		remote = "origin"
	}
	_, err := r.run(ctx, "push", "-u", remote, branch)
	return err
}

// RefExists reports whether ref resolves to a commit.
func (r *Repo) RefExists(ctx context.Context, ref string) bool {
	_, err := r.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out), err
}

// CommitCount returns the number of commits in revRange.
func (r *Repo) CommitCount(ctx context.Context, revRange string) (int, error) {
	out, err := r.run(ctx, "rev-list", "--count", revRange)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(out))
}

// MainRepoRoot returns the root of the repository owning this worktree,
// which differs from Dir for linked worktrees.
func (r *Repo) MainRepoRoot(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return "", err
	}
	common := strings.TrimSpace(out)
	if filepath.Base(common) == ".git" {
		return filepath.Dir(common), nil
	}
	// bare repository
	return common, nil
}

// WorktreeRemove runs "git worktree remove --force path".
func (r *Repo) WorktreeRemove(ctx context.Context, path string) error {
	_, err := r.run(ctx, "worktree", "remove", "--force", path)
	return err
}

// WorktreePrune drops administrative entries for missing worktrees.
func (r *Repo) WorktreePrune(ctx context.Context) error {
	_, err := r.run(ctx, "worktree", "prune")
	return err
}
