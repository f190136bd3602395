package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/pipeline"
	"github.com/fyrsmithlabs/shipyard/internal/state"
)

func TestPhaseFlags_Options(t *testing.T) {
	f := phaseFlags{planFile: "specs/plan.md", e2e: true}
	opts := f.options()
	assert.Equal(t, "specs/plan.md", opts.PlanFile)
	assert.True(t, opts.E2E)
	assert.Nil(t, opts.CleanupWorktree)

	f.keepTree = true
	opts = f.options()
	require.NotNil(t, opts.CleanupWorktree)
	assert.False(t, *opts.CleanupWorktree)
}

func TestPipelineInput(t *testing.T) {
	t.Cleanup(func() { pipelineFrom, pipelineThrough = "", "" })

	pipelineFrom, pipelineThrough = "build", "test"
	in, err := pipelineInput("wf-1")
	require.NoError(t, err)
	assert.Equal(t, phases.Build, in.From)
	assert.Equal(t, phases.Test, in.Through)
	assert.Equal(t, "wf-1", in.WorkflowID)

	pipelineFrom = "deploy"
	_, err = pipelineInput("wf-1")
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"phase", "pipeline", "serve", "worker", "status", "create"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestPhaseCmd_RejectsUnknownKind(t *testing.T) {
	err := runPhase(phaseCmd, []string{"deploy", "wf-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase executor")
}

func TestPrintResult(t *testing.T) {
	res := &phases.Result{
		Success: false,
		Message: "Tests failed after 2 resolution attempt(s)",
		Error:   "login_test failed",
		Data:    map[string]any{"testsFailed": 1, "committed": false},
	}
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, phases.Test, res, false))
	out := buf.String()
	assert.Contains(t, out, "test failed: Tests failed after 2 resolution attempt(s)")
	assert.Contains(t, out, "error: login_test failed")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("committed")), bytes.Index(buf.Bytes(), []byte("testsFailed")))

	buf.Reset()
	require.NoError(t, printResult(&buf, phases.Test, res, true))
	assert.Contains(t, buf.String(), `"success": false`)
}

func TestPrintOutput(t *testing.T) {
	var buf bytes.Buffer
	printOutput(&buf, &pipeline.Output{
		Steps: []pipeline.StepResult{
			{Phase: phases.Build, Success: true, Message: "Build passed"},
			{Phase: phases.Test, Success: false, Message: "Tests failed"},
		},
		StoppedAt: phases.Test,
		Reason:    "Tests failed",
	})
	assert.Contains(t, buf.String(), "build    passed: Build passed")
	assert.Contains(t, buf.String(), "pipeline stopped at test: Tests failed")
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, nil)
	assert.Equal(t, "No workflows found.\n", buf.String())

	issue := 42
	branch := "feat-issue-42-login"
	buf.Reset()
	printTable(&buf, []*state.WorkflowState{{
		ID: "wf-1", Phase: state.PhaseBuilt, Status: state.StatusActive,
		IssueNumber: &issue, BranchName: &branch,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
	}})
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "#42")
	assert.Contains(t, out, "feat-issue-42-login")
	assert.Contains(t, out, "2026-01-02 03:04")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"equal to max", "hello", 5, "hello"},
		{"longer than max", "hello world", 8, "hello..."},
		{"very short max", "hello", 3, "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}
