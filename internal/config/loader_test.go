package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the shipyard config dir in it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "shipyard")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.State.Driver)
	assert.Equal(t, 2, cfg.Workflow.MaxResolveAttempts)
	assert.False(t, cfg.Workflow.StrictPhaseOrder)
	assert.Equal(t, "app_docs", cfg.Workflow.DocsDir)
	assert.Equal(t, "screenshots", cfg.Workflow.ScreenshotsDir)
	assert.Equal(t, ".ports.env", cfg.Workflow.PortsFile)
	assert.Equal(t, "main", cfg.Workflow.MainBranch)
	assert.Equal(t, 3, cfg.Workflow.PushRetry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Workflow.PushRetry.InitialBackoff.Duration())
	assert.Equal(t, "squash", cfg.GitHub.MergeMethod)
	assert.Equal(t, 30*time.Minute, cfg.Agent.Timeout.Duration())
	assert.False(t, cfg.HasGitHub())
}

func TestLoadWithFile_YAMLOverridesDefaults(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
github:
  owner: acme
  repo: widgets
  token: ghp_from_file
  merge_method: rebase
workflow:
  max_resolve_attempts: 4
  strict_phase_order: true
  push_retry:
    max_attempts: 5
    initial_backoff: 100ms
    max_backoff: 1s
    multiplier: 3
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "rebase", cfg.GitHub.MergeMethod)
	assert.Equal(t, "ghp_from_file", cfg.GitHub.Token.Value())
	assert.True(t, cfg.HasGitHub())
	assert.Equal(t, 4, cfg.Workflow.MaxResolveAttempts)
	assert.True(t, cfg.Workflow.StrictPhaseOrder)
	assert.Equal(t, 5, cfg.Workflow.PushRetry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Workflow.PushRetry.InitialBackoff.Duration())
	// untouched sections keep defaults
	assert.Equal(t, 3, cfg.Workflow.MergeRetry.MaxAttempts)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
github:
  token: from-file
workflow:
  max_resolve_attempts: 1
`)
	t.Setenv("SHIPYARD_GITHUB_TOKEN", "from-env")
	t.Setenv("SHIPYARD_WORKFLOW_MAX_RESOLVE_ATTEMPTS", "3")
	t.Setenv("SHIPYARD_AGENT_MODEL", "opus")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.GitHub.Token.Value())
	assert.Equal(t, 3, cfg.Workflow.MaxResolveAttempts)
	assert.Equal(t, "opus", cfg.Agent.Model)
}

func TestLoadWithFile_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown driver",
			content: "state:\n  driver: mysql\n",
			errMsg:  "Driver",
		},
		{
			name:    "postgres without dsn",
			content: "state:\n  driver: postgres\n",
			errMsg:  "state.dsn is required",
		},
		{
			name:    "bad merge method",
			content: "github:\n  merge_method: fast-forward\n",
			errMsg:  "MergeMethod",
		},
		{
			name:    "zero push attempts",
			content: "workflow:\n  push_retry:\n    max_attempts: 0\n",
			errMsg:  "MaxAttempts",
		},
		{
			name:    "inverted backoff",
			content: "workflow:\n  merge_retry:\n    initial_backoff: 10s\n    max_backoff: 1s\n",
			errMsg:  "merge_retry.max_backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupTestHome(t)
			path := writeConfig(t, dir, tt.content)

			_, err := LoadWithFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9000\n")
	require.NoError(t, os.Chmod(path, 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile("/tmp/definitely-not-allowed/shipyard.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "github.token", envKey("SHIPYARD_GITHUB_TOKEN"))
	assert.Equal(t, "workflow.max_resolve_attempts", envKey("SHIPYARD_WORKFLOW_MAX_RESOLVE_ATTEMPTS"))
	assert.Equal(t, "debug", envKey("SHIPYARD_DEBUG"))
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("ghp_supersecret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "supersecret")

	data, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "supersecret")

	assert.Equal(t, "ghp_supersecret", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDuration_Or(t *testing.T) {
	assert.Equal(t, 10*time.Second, Duration(0).Or(10*time.Second))
	assert.Equal(t, 3*time.Second, Duration(3*time.Second).Or(10*time.Second))
}
