// Package vcstest builds throwaway git repositories for tests.
package vcstest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Identity used for every commit created by these helpers.
const (
	UserName  = "Shipyard Test"
	UserEmail = "shipyard@example.com"
)

// RequireGit skips tb when no git binary is on PATH.
func RequireGit(tb testing.TB) {
	tb.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		tb.Skip("git not installed")
	}
}

// Git runs git in dir and fails tb on error.
func Git(tb testing.TB, dir string, args ...string) string {
	tb.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+UserName, "GIT_AUTHOR_EMAIL="+UserEmail,
		"GIT_COMMITTER_NAME="+UserName, "GIT_COMMITTER_EMAIL="+UserEmail,
		"GIT_CONFIG_NOSYSTEM=1",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf("git %s in %s: %v\n%s", strings.Join(args, " "), dir, err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to dir/name, creating parent directories.
func WriteFile(tb testing.TB, dir, name, content string) {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatal(err)
	}
}

// NewRepo creates a repository on branch main with one commit.
func NewRepo(tb testing.TB) string {
	tb.Helper()
	RequireGit(tb)

	dir := filepath.Join(tb.TempDir(), "repo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		tb.Fatal(err)
	}
	Git(tb, dir, "init", "-q", "-b", "main")
	Git(tb, dir, "config", "user.name", UserName)
	Git(tb, dir, "config", "user.email", UserEmail)
	Git(tb, dir, "config", "commit.gpgsign", "false")
	WriteFile(tb, dir, "README.md", "# fixture\n")
	Git(tb, dir, "add", "-A")
	Git(tb, dir, "commit", "-q", "-m", "initial commit")
	return dir
}

// NewRepoWithRemote creates a repository whose origin is a local bare
// repository, with main already pushed. It returns (repo, remote).
func NewRepoWithRemote(tb testing.TB) (string, string) {
	tb.Helper()
	repo := NewRepo(tb)
	remote := filepath.Join(tb.TempDir(), "remote.git")
	Git(tb, filepath.Dir(remote), "init", "-q", "--bare", "-b", "main", remote)
	Git(tb, repo, "remote", "add", "origin", remote)
	Git(tb, repo, "push", "-q", "-u", "origin", "main")
	return repo, remote
}

// AddWorktree creates a linked worktree at path on a new branch off main.
func AddWorktree(tb testing.TB, repo, path, branch string) {
	tb.Helper()
	Git(tb, repo, "worktree", "add", "-q", "-b", branch, path, "main")
}

// CommitCount returns the number of commits reachable in revRange.
func CommitCount(tb testing.TB, dir, revRange string) int {
	tb.Helper()
	n, err := strconv.Atoi(Git(tb, dir, "rev-list", "--count", revRange))
	if err != nil {
		tb.Fatal(err)
	}
	return n
}
