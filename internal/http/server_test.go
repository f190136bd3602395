package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/pipeline"
	"github.com/fyrsmithlabs/shipyard/internal/session"
	"github.com/fyrsmithlabs/shipyard/internal/state"
)

type fakeStarter struct {
	mu     sync.Mutex
	inputs []pipeline.Input
	err    error
}

func (f *fakeStarter) Start(_ context.Context, in pipeline.Input) (*pipeline.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &pipeline.Run{ID: pipeline.WorkflowIDFor(in.WorkflowID), RunID: "run-1"}, nil
}

type testServer struct {
	*Server
	store    *state.SQLiteStore
	sessions *session.Registry
	starter  *fakeStarter
	logs     *logging.TestLogger
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := state.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "shipyard_test_total", Help: "test"}))

	ts := &testServer{
		store:    store,
		sessions: session.NewRegistry(store.DB(), zap.NewNop()),
		starter:  &fakeStarter{},
		logs:     logging.NewTestLogger(),
	}
	ts.Server, err = NewServer(Deps{
		Store:     store,
		Pipelines: ts.starter,
		Agents:    ts.sessions,
		Gatherer:  reg,
		Logger:    ts.logs.Logger,
	}, nil)
	require.NoError(t, err)
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	store, err := state.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(Deps{Store: store, Logger: logging.NewNop()}, nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8080, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(Deps{Store: store}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when store is nil", func(t *testing.T) {
		_, err := NewServer(Deps{Logger: logging.NewNop()}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "state store cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Services["pipeline"])
	ts.logs.AssertLogged(t, zapcore.InfoLevel, "http request")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shipyard_test_total")
}

func TestWorkflowRoutes(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("create", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/workflows",
			`{"id":"wf-1","issueNumber":42,"branchName":"feat-42","worktreePath":"/tmp/trees/wf-1"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var st state.WorkflowState
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.Equal(t, "wf-1", st.ID)
		assert.Equal(t, state.PhasePlanned, st.Phase)
		assert.Equal(t, state.StatusActive, st.Status)
		assert.True(t, st.WorktreeExists)
	})

	t.Run("create generates id", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/workflows", `{"issueNumber":43,"phase":"built"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		var st state.WorkflowState
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.NotEmpty(t, st.ID)
		assert.Equal(t, state.PhaseBuilt, st.Phase)
	})

	t.Run("duplicate is conflict", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/workflows", `{"id":"wf-1"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unsafe id", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/workflows", `{"id":"../etc"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad phase", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/workflows", `{"phase":"deployed"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/workflows/wf-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"issueNumber":42`)

		rec = ts.do(http.MethodGet, "/api/v1/workflows/missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("patch", func(t *testing.T) {
		rec := ts.do(http.MethodPatch, "/api/v1/workflows/wf-1", `{"prNumber":7}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"prNumber":7`)

		rec = ts.do(http.MethodPatch, "/api/v1/workflows/wf-1", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list with filter", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/workflows?phase=built", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp WorkflowListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)

		rec = ts.do(http.MethodGet, "/api/v1/workflows?status=bogus", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(http.MethodGet, "/api/v1/workflows?limit=-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("archive", func(t *testing.T) {
		rec := ts.do(http.MethodDelete, "/api/v1/workflows/wf-1", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.do(http.MethodGet, "/api/v1/workflows/wf-1", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStartPipeline(t *testing.T) {
	ts := setupTestServer(t)
	_, err := ts.store.Create(context.Background(), &state.WorkflowState{ID: "wf-1"})
	require.NoError(t, err)

	rec := ts.do(http.MethodPost, "/api/v1/workflows/wf-1/pipeline",
		`{"from":"build","through":"review","planFile":"specs/plan.md","e2e":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp StartPipelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "shipyard-pipeline-wf-1", resp.TemporalWorkflowID)
	assert.Equal(t, "run-1", resp.RunID)

	require.Len(t, ts.starter.inputs, 1)
	in := ts.starter.inputs[0]
	assert.Equal(t, phases.Build, in.From)
	assert.Equal(t, phases.Review, in.Through)
	assert.Equal(t, "specs/plan.md", in.Options.PlanFile)
	assert.True(t, in.Options.E2E)

	t.Run("unknown phase", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/workflows/wf-1/pipeline", `{"from":"deploy"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/workflows/missing/pipeline", `{}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("driver failure", func(t *testing.T) {
		ts.starter.err = errors.New("temporal unavailable")
		rec := ts.do(http.MethodPost, "/api/v1/workflows/wf-1/pipeline", `{}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		ts.starter.err = nil
	})

	t.Run("driver disabled", func(t *testing.T) {
		ts.pipelines = nil
		rec := ts.do(http.MethodPost, "/api/v1/workflows/wf-1/pipeline", `{}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestListAgents(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	_, err := ts.sessions.GetOrCreate(context.Background(), "/tmp/trees/wf-1")
	require.NoError(t, err)

	rec = ts.do(http.MethodGet, "/api/v1/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var agents []session.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "/tmp/trees/wf-1", agents[0].WorkingDir)
	assert.Equal(t, session.StatusIdle, agents[0].Status)
}
