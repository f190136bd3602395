package services

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/config"
	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/platform"
	"github.com/fyrsmithlabs/shipyard/internal/session"
	"github.com/fyrsmithlabs/shipyard/internal/state"
	"github.com/fyrsmithlabs/shipyard/internal/telemetry"
	"github.com/fyrsmithlabs/shipyard/internal/vcs"
	"github.com/fyrsmithlabs/shipyard/internal/worktree"
)

// Registry provides access to all shipyard services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Config() *config.Config
	Logger() *logging.Logger
	Telemetry() *telemetry.Telemetry
	Store() state.Store
	Sessions() *session.Registry
	Git() *vcs.Repo
	Worktrees() *worktree.Manager
	Platform() platform.Platform
	Agent() agent.Invoker
	Engine() *phases.Engine
	Metrics() *prometheus.Registry
}

// Options configures the registry with service instances.
type Options struct {
	Config    *config.Config
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
	Store     state.Store
	Sessions  *session.Registry
	Git       *vcs.Repo
	Worktrees *worktree.Manager
	Platform  platform.Platform
	Agent     agent.Invoker
	Engine    *phases.Engine
	Metrics   *prometheus.Registry
}

// registry is the concrete implementation of Registry.
type registry struct {
	config    *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     state.Store
	sessions  *session.Registry
	git       *vcs.Repo
	worktrees *worktree.Manager
	platform  platform.Platform
	agent     agent.Invoker
	engine    *phases.Engine
	metrics   *prometheus.Registry
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		config:    opts.Config,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
		store:     opts.Store,
		sessions:  opts.Sessions,
		git:       opts.Git,
		worktrees: opts.Worktrees,
		platform:  opts.Platform,
		agent:     opts.Agent,
		engine:    opts.Engine,
		metrics:   opts.Metrics,
	}
}

func (r *registry) Config() *config.Config          { return r.config }
func (r *registry) Logger() *logging.Logger         { return r.logger }
func (r *registry) Telemetry() *telemetry.Telemetry { return r.telemetry }
func (r *registry) Store() state.Store              { return r.store }
func (r *registry) Sessions() *session.Registry     { return r.sessions }
func (r *registry) Git() *vcs.Repo                  { return r.git }
func (r *registry) Worktrees() *worktree.Manager    { return r.worktrees }
func (r *registry) Platform() platform.Platform     { return r.platform }
func (r *registry) Agent() agent.Invoker            { return r.agent }
func (r *registry) Engine() *phases.Engine          { return r.engine }
func (r *registry) Metrics() *prometheus.Registry   { return r.metrics }
