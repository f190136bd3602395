package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

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

// Container is a built Registry that owns open resources.
type Container struct {
	Registry
	closers []func() error
}

// Close releases databases in reverse open order.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Build wires every service from cfg. logger and tel may be nil.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Container{}
	fail := func(err error) (*Container, error) {
		_ = c.Close()
		return nil, err
	}

	root, err := resolveRepoRoot(ctx, cfg.Workflow.RepoRoot)
	if err != nil {
		return fail(err)
	}
	git := vcs.Open(root, vcs.WithLogger(logger.Underlying().Named("git")))

	store, sessionDB, err := c.openState(ctx, cfg.State, root)
	if err != nil {
		return fail(err)
	}
	sessions := session.NewRegistry(sessionDB.DB(), logger.Underlying())

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	invoker := agent.NewSerialized(agent.NewClaudeCLI(cfg.Agent, sessions, agent.NewMetrics(metrics), logger))

	plat, err := newPlatform(ctx, cfg, root, logger.Underlying())
	if err != nil {
		return fail(err)
	}

	trees := worktree.NewManager(root, cfg.Workflow.TreesDir, git, logger.Underlying().Named("worktree"))

	deps := phases.Deps{
		Store:      store,
		Workspaces: trees,
		Git:        git,
		Agent:      invoker,
		Logger:     logger,
		Telemetry:  tel,
	}
	// a nil *GitHub must not become a non-nil interface
	if plat != nil {
		deps.Platform = plat
	}
	engine, err := phases.New(deps, phases.SettingsFromConfig(cfg))
	if err != nil {
		return fail(err)
	}

	logger.Info(ctx, "services ready",
		zap.String("repo_root", root),
		zap.String("state_driver", cfg.State.Driver),
		zap.Bool("github", plat != nil),
	)

	c.Registry = NewRegistry(Options{
		Config:    cfg,
		Logger:    logger,
		Telemetry: tel,
		Store:     store,
		Sessions:  sessions,
		Git:       git,
		Worktrees: trees,
		Platform:  deps.Platform,
		Agent:     invoker,
		Engine:    engine,
		Metrics:   metrics,
	})
	return c, nil
}

// openState opens the configured store. The session registry always lives
// in the SQLite file, so a Postgres store opens that file alongside.
func (c *Container) openState(ctx context.Context, cfg config.StateConfig, root string) (state.Store, *state.SQLiteStore, error) {
	path := cfg.Path
	if path != ":memory:" && !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	local, err := state.OpenSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite state: %w", err)
	}
	c.closers = append(c.closers, local.Close)

	if cfg.Driver != "postgres" {
		return local, local, nil
	}
	pg, err := state.OpenPostgres(ctx, cfg.DSN.Value())
	if err != nil {
		return nil, nil, fmt.Errorf("opening postgres state: %w", err)
	}
	c.closers = append(c.closers, pg.Close)
	return pg, local, nil
}

func resolveRepoRoot(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		abs, err := filepath.Abs(configured)
		if err != nil {
			return "", fmt.Errorf("resolving repo root: %w", err)
		}
		return abs, nil
	}
	root, err := vcs.Open("").MainRepoRoot(ctx)
	if err != nil {
		return "", fmt.Errorf("finding repository root: %w", err)
	}
	return root, nil
}

// newPlatform returns nil without a token. Owner and repo default to the
// configured remote's slug.
func newPlatform(ctx context.Context, cfg *config.Config, root string, logger *zap.Logger) (*platform.GitHub, error) {
	gh := cfg.GitHub
	if !gh.Token.IsSet() {
		logger.Warn("github token not set, issue comments and merges disabled")
		return nil, nil
	}
	if gh.Owner == "" || gh.Repo == "" {
		owner, name, err := worktree.RemoteSlug(root, cfg.Workflow.Remote)
		if err != nil {
			return nil, fmt.Errorf("github owner/repo not configured: %w", err)
		}
		if gh.Owner == "" {
			gh.Owner = owner
		}
		if gh.Repo == "" {
			gh.Repo = name
		}
	}
	return platform.NewGitHub(ctx, gh, logger.Named("github"))
}
