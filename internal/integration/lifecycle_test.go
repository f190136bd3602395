//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/agent/agenttest"
	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/pipeline"
	"github.com/fyrsmithlabs/shipyard/internal/platform/platformtest"
	"github.com/fyrsmithlabs/shipyard/internal/retry"
	"github.com/fyrsmithlabs/shipyard/internal/state"
	"github.com/fyrsmithlabs/shipyard/internal/vcs"
	"github.com/fyrsmithlabs/shipyard/internal/vcs/vcstest"
	"github.com/fyrsmithlabs/shipyard/internal/worktree"
)

func writeFile(name, content string) func(agent.Request) {
	return func(req agent.Request) {
		path := filepath.Join(req.WorkingDir, name)
		_ = os.MkdirAll(filepath.Dir(path), 0o755)
		_ = os.WriteFile(path, []byte(content), 0o644)
	}
}

// TestWorkflowLifecycle_EndToEnd drives one workflow from planned to
// shipped through the pipeline workflow, with real git, a real SQLite store
// and scripted agent and platform collaborators.
func TestWorkflowLifecycle_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	repo, remote := vcstest.NewRepoWithRemote(t)
	tree := filepath.Join(repo, "trees", "wf-1")
	vcstest.AddWorktree(t, repo, tree, "feat-issue-7-export")

	store, err := state.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Create(ctx, &state.WorkflowState{
		ID:             "wf-1",
		IssueNumber:    state.Ptr(7),
		PRNumber:       state.Ptr(70),
		BranchName:     state.Ptr("feat-issue-7-export"),
		WorktreePath:   state.Ptr(tree),
		WorktreeExists: true,
	})
	require.NoError(t, err)

	script := agenttest.NewScript().
		On(agent.Implement, agenttest.Ok("implemented").Then(writeFile("export.go", "package app\n"))).
		On(agent.Test, agenttest.Ok(`[{"test_name":"export","passed":true}]`)).
		On(agent.Review, agenttest.Ok("No blockers found.")).
		On(agent.Document, agenttest.Ok("documented").Then(writeFile("app_docs/export.md", "# CSV export\n")))
	gh := &platformtest.Fake{}

	git := vcs.Open(repo, vcs.WithIdentity(vcstest.UserName, vcstest.UserEmail))
	settings := phases.DefaultSettings()
	settings.PushRetry = retry.Config{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
	settings.MergeRetry = settings.PushRetry
	engine, err := phases.New(phases.Deps{
		Store:      store,
		Workspaces: worktree.NewManager(repo, "trees", git, zap.NewNop()),
		Git:        git,
		Agent:      script,
		Platform:   gh,
		Logger:     logging.NewNop(),
	}, settings)
	require.NoError(t, err)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(pipeline.PipelineWorkflow)
	env.RegisterActivity(pipeline.NewActivities(engine, store))

	env.ExecuteWorkflow(pipeline.PipelineWorkflow, pipeline.Input{
		WorkflowID: "wf-1",
		Options:    phases.Options{PlanFile: "specs/export.md"},
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out pipeline.Output
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.True(t, out.Completed)
	require.Len(t, out.Steps, 5)

	st, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, state.PhaseShipped, st.Phase)
	assert.Equal(t, state.StatusCompleted, st.Status)
	assert.NotNil(t, st.CompletedAt)
	assert.False(t, st.WorktreeExists)

	// build and document each committed once; test and review had nothing to commit
	assert.Equal(t, 2, vcstest.CommitCount(t, remote, "main..feat-issue-7-export"))

	require.Len(t, gh.Merges(), 1)
	assert.Equal(t, 70, gh.Merges()[0].PR)
	assert.Len(t, gh.Comments(), 5)

	_, err = os.Stat(tree)
	assert.True(t, os.IsNotExist(err))
}
