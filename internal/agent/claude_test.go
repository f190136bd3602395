package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/shipyard/internal/config"
	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/session"
	"github.com/fyrsmithlabs/shipyard/internal/state"
)

// fakeClaude writes a shell script standing in for the claude binary. It
// echoes its arguments and working directory inside the result field.
func fakeClaude(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const echoArgs = `printf '{"type":"result","subtype":"success","is_error":false,"result":"args=%s dir=%s","session_id":"sess-1","total_cost_usd":0.5,"usage":{"input_tokens":100,"output_tokens":20}}' "$*" "$(pwd)"`

func newSessions(t *testing.T) *session.Registry {
	t.Helper()
	store, err := state.OpenSQLite(filepath.Join(t.TempDir(), "shipyard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return session.NewRegistry(store.DB(), nil)
}

func TestClaudeCLI_Execute(t *testing.T) {
	sessions := newSessions(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	logger := logging.NewTestLogger()

	cli := NewClaudeCLI(config.AgentConfig{
		Command:         fakeClaude(t, echoArgs),
		Model:           "sonnet",
		SkipPermissions: true,
		ResumeSessions:  true,
		Timeout:         config.Duration(10 * time.Second),
	}, sessions, metrics, logger.Logger)

	dir := t.TempDir()
	ctx := context.Background()
	req := Request{WorkflowID: "wf-1", SlashCommand: Test, Args: []string{"--json"}, WorkingDir: dir}

	resp, err := cli.Execute(ctx, req)
	require.NoError(t, err)
	require.True(t, resp.Success, resp.ErrorMessage())
	assert.Contains(t, resp.Output, "-p /test --json --output-format json --model sonnet --dangerously-skip-permissions")
	assert.NotContains(t, resp.Output, "--resume")
	realDir, _ := filepath.EvalSymlinks(dir)
	assert.True(t, strings.Contains(resp.Output, "dir="+dir) || strings.Contains(resp.Output, "dir="+realDir), resp.Output)
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, int64(100), resp.Usage.InputTokens)

	// second call resumes the recorded session
	resp, err = cli.Execute(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, resp.Output, "--resume sess-1")

	row, err := sessions.GetOrCreate(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", row.SessionID)
	assert.Equal(t, int64(200), row.InputTokens)
	assert.Equal(t, int64(40), row.OutputTokens)
	assert.InDelta(t, 1.0, row.TotalCost, 1e-9)
	assert.Equal(t, session.StatusIdle, row.Status)

	chat, err := sessions.ListChat(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, chat, 4)
	assert.Equal(t, "/test --json", chat[0].Content)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.invocations.WithLabelValues("/test", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cost))
	logger.AssertLogged(t, zapcore.InfoLevel, "agent finished")
}

func TestClaudeCLI_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("is_error result", func(t *testing.T) {
		cli := NewClaudeCLI(config.AgentConfig{
			Command: fakeClaude(t, `echo '{"type":"result","subtype":"error_during_execution","is_error":true,"result":"tests failed"}'`),
		}, nil, nil, nil)
		resp, err := cli.Execute(ctx, Request{SlashCommand: Test, WorkingDir: t.TempDir()})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "tests failed", resp.ErrorMessage())
	})

	t.Run("non-zero exit", func(t *testing.T) {
		cli := NewClaudeCLI(config.AgentConfig{
			Command: fakeClaude(t, `echo "rate limited" >&2; exit 3`),
		}, nil, nil, nil)
		resp, err := cli.Execute(ctx, Request{SlashCommand: Review, WorkingDir: t.TempDir()})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "rate limited", resp.ErrorMessage())
	})

	t.Run("missing binary", func(t *testing.T) {
		cli := NewClaudeCLI(config.AgentConfig{
			Command: filepath.Join(t.TempDir(), "does-not-exist"),
		}, nil, nil, nil)
		resp, err := cli.Execute(ctx, Request{SlashCommand: Review, WorkingDir: t.TempDir()})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.ErrorMessage())
	})

	t.Run("timeout", func(t *testing.T) {
		cli := NewClaudeCLI(config.AgentConfig{
			Command: fakeClaude(t, `exec sleep 5`),
			Timeout: config.Duration(100 * time.Millisecond),
		}, nil, nil, nil)
		start := time.Now()
		resp, err := cli.Execute(ctx, Request{SlashCommand: Implement, WorkingDir: t.TempDir()})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.ErrorMessage(), "timed out")
		assert.Less(t, time.Since(start), 4*time.Second)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cli := NewClaudeCLI(config.AgentConfig{Command: fakeClaude(t, echoArgs)}, nil, nil, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := cli.Execute(cctx, Request{SlashCommand: Implement, WorkingDir: t.TempDir()})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestParseResponse_PlainText(t *testing.T) {
	resp := parseResponse([]byte("  just text output \n"))
	assert.True(t, resp.Success)
	assert.Equal(t, "just text output", resp.Output)

	empty := parseResponse(nil)
	assert.False(t, empty.Success)
}

func TestRequest_Prompt(t *testing.T) {
	req := Request{SlashCommand: Implement, Args: []string{"specs/plan.md"}}
	assert.Equal(t, "/implement specs/plan.md", req.Prompt())
	assert.Equal(t, "/review", Request{SlashCommand: Review}.Prompt())
	assert.False(t, strings.HasSuffix(Request{SlashCommand: Review, Args: []string{""}}.Prompt(), " "))
}
