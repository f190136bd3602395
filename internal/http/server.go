// Package http provides the shipyard HTTP API: workflow state, pipeline
// launch, agent registry listing, health and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/pipeline"
	"github.com/fyrsmithlabs/shipyard/internal/session"
	"github.com/fyrsmithlabs/shipyard/internal/state"
	"github.com/fyrsmithlabs/shipyard/internal/telemetry"
)

// PipelineStarter launches pipeline runs. *pipeline.Starter implements it.
type PipelineStarter interface {
	Start(ctx context.Context, in pipeline.Input) (*pipeline.Run, error)
}

// AgentLister lists session registry rows. *session.Registry implements it.
type AgentLister interface {
	List(ctx context.Context) ([]*session.Agent, error)
}

// Deps are the server's collaborators. Pipelines and Agents may be nil;
// their routes then answer 503.
type Deps struct {
	Store     state.Store
	Pipelines PipelineStarter
	Agents    AgentLister
	Gatherer  prometheus.Gatherer
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
}

// Server provides HTTP endpoints for shipyard.
type Server struct {
	echo      *echo.Echo
	store     state.Store
	pipelines PipelineStarter
	agents    AgentLister
	logger    *logging.Logger
	metrics   *apiMetrics
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("state store cannot be nil")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	logger := deps.Logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	metrics := newAPIMetrics(deps.Telemetry.Meter(httpInstrumentationName), logger.Underlying())
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		store:     deps.Store,
		pipelines: deps.Pipelines,
		agents:    deps.Agents,
		logger:    logger,
		metrics:   metrics,
		config:    cfg,
	}
	s.registerRoutes(deps.Gatherer)
	return s, nil
}

// Echo exposes the router for additional routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/workflows", s.handleListWorkflows)
	v1.POST("/workflows", s.handleCreateWorkflow)
	v1.GET("/workflows/:id", s.handleGetWorkflow)
	v1.PATCH("/workflows/:id", s.handleUpdateWorkflow)
	v1.DELETE("/workflows/:id", s.handleArchiveWorkflow)
	v1.POST("/workflows/:id/pipeline", s.handleStartPipeline)
	v1.GET("/agents", s.handleListAgents)
}

func (s *Server) handleHealth(c echo.Context) error {
	services := map[string]string{"state": "ok", "pipeline": "ok"}
	if s.pipelines == nil {
		services["pipeline"] = "disabled"
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Services: services})
}

func (s *Server) handleListWorkflows(c echo.Context) error {
	f := state.Filter{
		Status:          state.Status(c.QueryParam("status")),
		Phase:           state.Phase(c.QueryParam("phase")),
		IncludeArchived: c.QueryParam("archived") == "true",
	}
	if f.Status != "" && !f.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	if f.Phase != "" && !f.Phase.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown phase")
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		f.Limit = n
	}

	list, err := s.store.List(c.Request().Context(), f)
	if err != nil {
		return s.storeError(c, err)
	}
	if list == nil {
		list = []*state.WorkflowState{}
	}
	return c.JSON(http.StatusOK, WorkflowListResponse{Workflows: list, Count: len(list)})
}

func (s *Server) handleCreateWorkflow(c echo.Context) error {
	var req CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	st := &state.WorkflowState{
		ID:          req.ID,
		IssueNumber: req.IssueNumber,
		PRNumber:    req.PRNumber,
	}
	if req.Phase != "" {
		p, err := state.ParsePhase(req.Phase)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		st.Phase = p
	}
	if req.BranchName != "" {
		st.BranchName = &req.BranchName
	}
	if req.WorktreePath != "" {
		st.WorktreePath = &req.WorktreePath
		st.WorktreeExists = true
	}

	created, err := s.store.Create(c.Request().Context(), st)
	if err != nil {
		err = s.storeError(c, err)
		s.metrics.mutation(c.Request().Context(), "create", err)
		return err
	}
	s.metrics.mutation(c.Request().Context(), "create", nil)
	s.logger.Info(logging.WithWorkflowID(c.Request().Context(), created.ID), "workflow created")
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	st, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleUpdateWorkflow(c echo.Context) error {
	var req UpdateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u := state.Update{
		IssueNumber:  req.IssueNumber,
		PRNumber:     req.PRNumber,
		BranchName:   req.BranchName,
		WorktreePath: req.WorktreePath,
		BackendPort:  req.BackendPort,
		FrontendPort: req.FrontendPort,
	}
	if req.WorktreePath != nil {
		u.WorktreeExists = state.Ptr(true)
	}
	if u.IsEmpty() {
		return echo.NewHTTPError(http.StatusBadRequest, "no fields to update")
	}
	st, err := s.store.Update(c.Request().Context(), c.Param("id"), u)
	if err != nil {
		err = s.storeError(c, err)
	}
	s.metrics.mutation(c.Request().Context(), "update", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleArchiveWorkflow(c echo.Context) error {
	err := s.store.Archive(c.Request().Context(), c.Param("id"))
	if err != nil {
		err = s.storeError(c, err)
	}
	s.metrics.mutation(c.Request().Context(), "archive", err)
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStartPipeline(c echo.Context) error {
	if s.pipelines == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "pipeline driver not configured")
	}
	ctx := c.Request().Context()
	id := c.Param("id")

	var req StartPipelineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in := pipeline.Input{WorkflowID: id, Options: req.options()}
	for _, p := range []struct {
		raw string
		dst *phases.Kind
	}{{req.From, &in.From}, {req.Through, &in.Through}} {
		if p.raw == "" {
			continue
		}
		k, err := phases.ParseKind(p.raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		*p.dst = k
	}

	if _, err := s.store.Get(ctx, id); err != nil {
		s.metrics.pipelineStart(ctx, outcomeRejected)
		return s.storeError(c, err)
	}
	run, err := s.pipelines.Start(ctx, in)
	if err != nil {
		s.metrics.pipelineStart(ctx, outcomeError)
		s.logger.Error(logging.WithWorkflowID(ctx, id), "pipeline start failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to start pipeline")
	}
	s.metrics.pipelineStart(ctx, outcomeOK)
	return c.JSON(http.StatusAccepted, StartPipelineResponse{
		WorkflowID:         id,
		TemporalWorkflowID: run.ID,
		RunID:              run.RunID,
	})
}

func (s *Server) handleListAgents(c echo.Context) error {
	if s.agents == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session registry not configured")
	}
	agents, err := s.agents.List(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing agents failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list agents")
	}
	if agents == nil {
		agents = []*session.Agent{}
	}
	return c.JSON(http.StatusOK, agents)
}

func (s *Server) storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	case errors.Is(err, state.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "workflow already exists")
	case errors.Is(err, state.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.Error(c.Request().Context(), "state store error", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "state store error")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
