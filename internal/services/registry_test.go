package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/shipyard/internal/config"
	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/state"
	"github.com/fyrsmithlabs/shipyard/internal/vcs/vcstest"
)

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)
}

func TestRegistryAccessors(t *testing.T) {
	reg := NewRegistry(Options{})

	assert.Nil(t, reg.Config())
	assert.Nil(t, reg.Store())
	assert.Nil(t, reg.Sessions())
	assert.Nil(t, reg.Platform())
	assert.Nil(t, reg.Agent())
	assert.Nil(t, reg.Engine())
	assert.Nil(t, reg.Metrics())
}

func loadConfig(t *testing.T, repo string) *config.Config {
	t.Helper()
	cfg, err := config.LoadWithFile("")
	require.NoError(t, err)
	cfg.Workflow.RepoRoot = repo
	cfg.State.Path = filepath.Join(t.TempDir(), "state.db")
	cfg.GitHub.Token = ""
	return cfg
}

func TestBuild(t *testing.T) {
	repo := vcstest.NewRepo(t)
	logs := logging.NewTestLogger()
	cfg := loadConfig(t, repo)

	c, err := Build(context.Background(), cfg, logs.Logger, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Same(t, cfg, c.Config())
	assert.NotNil(t, c.Engine())
	assert.NotNil(t, c.Sessions())
	assert.NotNil(t, c.Agent())
	assert.Nil(t, c.Platform())
	assert.Equal(t, filepath.Join(repo, "trees", "wf-1"), c.Worktrees().PathFor("wf-1"))
	logs.AssertLogged(t, zapcore.WarnLevel, "github token not set, issue comments and merges disabled")
	logs.AssertLogged(t, zapcore.InfoLevel, "services ready")

	ctx := context.Background()
	_, err = c.Store().Create(ctx, &state.WorkflowState{ID: "wf-1"})
	require.NoError(t, err)

	// the engine reaches the store and refuses a phase without a worktree
	_, err = c.Engine().Run(ctx, phases.Ship, "missing", phases.Options{})
	assert.ErrorIs(t, err, phases.ErrWorkflowNotFound)

	families, err := c.Metrics().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestBuild_GitHub(t *testing.T) {
	repo := vcstest.NewRepo(t)

	t.Run("explicit slug", func(t *testing.T) {
		cfg := loadConfig(t, repo)
		cfg.GitHub.Token = "ghp_test"
		cfg.GitHub.Owner = "fyrsmithlabs"
		cfg.GitHub.Repo = "shipyard"

		c, err := Build(context.Background(), cfg, nil, nil)
		require.NoError(t, err)
		defer c.Close()
		assert.NotNil(t, c.Platform())
	})

	t.Run("slug from remote", func(t *testing.T) {
		vcstest.Git(t, repo, "remote", "add", "origin", "git@github.com:fyrsmithlabs/shipyard.git")
		cfg := loadConfig(t, repo)
		cfg.GitHub.Token = "ghp_test"

		c, err := Build(context.Background(), cfg, nil, nil)
		require.NoError(t, err)
		defer c.Close()
		assert.NotNil(t, c.Platform())
	})

	t.Run("no slug available", func(t *testing.T) {
		cfg := loadConfig(t, vcstest.NewRepo(t))
		cfg.GitHub.Token = "ghp_test"

		_, err := Build(context.Background(), cfg, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner/repo not configured")
	})
}

func TestBuild_RequiresConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}
