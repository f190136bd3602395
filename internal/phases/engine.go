// Package phases implements the build, test, review, document and ship
// executors that advance a workflow through its lifecycle.
//
// Every executor follows the same template: load the state row, check the
// incoming phase, validate the worktree, invoke the agent, auto-resolve
// failures, commit and push any changes, comment on the issue, and persist
// the exit phase. The exit phase is written on success and on failure.
package phases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/config"
	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/platform"
	"github.com/fyrsmithlabs/shipyard/internal/retry"
	"github.com/fyrsmithlabs/shipyard/internal/review"
	"github.com/fyrsmithlabs/shipyard/internal/secrets"
	"github.com/fyrsmithlabs/shipyard/internal/state"
	"github.com/fyrsmithlabs/shipyard/internal/telemetry"
	"github.com/fyrsmithlabs/shipyard/internal/vcs"
	"github.com/fyrsmithlabs/shipyard/internal/worktree"
)

const instrumentationName = "github.com/fyrsmithlabs/shipyard/internal/phases"

// Workspaces is the worktree manager used by the engine.
type Workspaces interface {
	PathFor(workflowID string) string
	Validate(ctx context.Context, workflowID, path, branch string) worktree.ValidationResult
	RemoveAt(ctx context.Context, workflowID, path string) bool
}

// Settings are the engine's tunables.
type Settings struct {
	AgentName          string `validate:"required"`
	MaxResolveAttempts int    `validate:"min=0"`
	StrictPhaseOrder   bool
	DocsDir            string `validate:"required"`
	ScreenshotsDir     string `validate:"required"`
	PortsFile          string `validate:"required"`
	MainBranch         string `validate:"required"`
	Remote             string `validate:"required"`
	CleanupWorktree    bool
	MergeMethod        string `validate:"oneof=squash merge rebase"`
	SkipPermissions    bool
	PushRetry          retry.Config
	MergeRetry         retry.Config
}

// DefaultSettings mirrors the embedded configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		AgentName:          "claude",
		MaxResolveAttempts: 2,
		DocsDir:            "app_docs",
		ScreenshotsDir:     "screenshots",
		PortsFile:          ".ports.env",
		MainBranch:         "main",
		Remote:             "origin",
		CleanupWorktree:    true,
		MergeMethod:        platform.MergeSquash,
		SkipPermissions:    true,
		PushRetry:          retry.DefaultConfig(),
		MergeRetry:         retry.DefaultConfig(),
	}
}

// SettingsFromConfig builds Settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		AgentName:          cfg.Agent.Name,
		MaxResolveAttempts: cfg.Workflow.MaxResolveAttempts,
		StrictPhaseOrder:   cfg.Workflow.StrictPhaseOrder,
		DocsDir:            cfg.Workflow.DocsDir,
		ScreenshotsDir:     cfg.Workflow.ScreenshotsDir,
		PortsFile:          cfg.Workflow.PortsFile,
		MainBranch:         cfg.Workflow.MainBranch,
		Remote:             cfg.Workflow.Remote,
		CleanupWorktree:    cfg.Workflow.CleanupWorktree,
		MergeMethod:        cfg.GitHub.MergeMethod,
		SkipPermissions:    cfg.Agent.SkipPermissions,
		PushRetry:          retry.FromAppConfig(cfg.Workflow.PushRetry),
		MergeRetry:         retry.FromAppConfig(cfg.Workflow.MergeRetry),
	}
}

// Deps are the engine's collaborators. Platform may be nil, in which case
// comments are skipped and ship fails its preconditions.
type Deps struct {
	Store      state.Store
	Workspaces Workspaces
	Git        *vcs.Repo
	Agent      agent.Invoker
	Platform   platform.Platform
	Classifier review.Classifier
	// SecretGuard scans the staged diff; defaults to secrets.Guard.
	SecretGuard func(content, dir string) error
	Logger      *logging.Logger
	Telemetry   *telemetry.Telemetry
}

// Options tune a single phase run.
type Options struct {
	// Force runs the phase even when strict ordering would refuse it.
	Force bool
	// PlanFile is the implementation plan passed to /implement.
	PlanFile string
	// E2E adds the end-to-end test track.
	E2E bool
	// SpecFile is passed to /review as context.
	SpecFile string
	// AutoApprove requests approval before merge; unsupported, warns only.
	AutoApprove bool
	// CleanupWorktree overrides Settings.CleanupWorktree for ship.
	CleanupWorktree *bool
}

// Engine runs phase executors.
type Engine struct {
	store      state.Store
	workspaces Workspaces
	git        *vcs.Repo
	agent      agent.Invoker
	platform   platform.Platform
	classifier review.Classifier
	guard      func(content, dir string) error
	logger     *logging.Logger
	tracer     trace.Tracer
	settings   Settings
	now        func() time.Time

	executions metric.Int64Counter
	duration   metric.Float64Histogram
	resolves   metric.Int64Counter
	commits    metric.Int64Counter
}

var validate = validator.New()

// New validates settings and builds an Engine.
func New(deps Deps, settings Settings) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("state store is required")
	}
	if deps.Workspaces == nil {
		return nil, errors.New("workspace manager is required")
	}
	if deps.Agent == nil {
		return nil, errors.New("agent invoker is required")
	}
	if err := validate.Struct(settings); err != nil {
		return nil, fmt.Errorf("invalid phase settings: %w", err)
	}
	if deps.Git == nil {
		deps.Git = vcs.Open("")
	}
	if deps.Classifier == nil {
		deps.Classifier = review.Default()
	}
	if deps.SecretGuard == nil {
		deps.SecretGuard = secrets.Guard
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}

	e := &Engine{
		store:      deps.Store,
		workspaces: deps.Workspaces,
		git:        deps.Git,
		agent:      deps.Agent,
		platform:   deps.Platform,
		classifier: deps.Classifier,
		guard:      deps.SecretGuard,
		logger:     deps.Logger.Named("phases"),
		tracer:     deps.Telemetry.Tracer(instrumentationName),
		settings:   settings,
		now:        time.Now,
	}
	e.initMetrics(deps.Telemetry.Meter(instrumentationName))
	return e, nil
}

func (e *Engine) initMetrics(meter metric.Meter) {
	var err error
	e.executions, err = meter.Int64Counter("shipyard.phase.executions",
		metric.WithDescription("Phase executions by phase and outcome"),
		metric.WithUnit("{execution}"))
	if err != nil {
		e.logger.Warn(context.Background(), "failed to create executions counter", zap.Error(err))
	}
	e.duration, err = meter.Float64Histogram("shipyard.phase.duration",
		metric.WithDescription("Phase execution duration"),
		metric.WithUnit("s"))
	if err != nil {
		e.logger.Warn(context.Background(), "failed to create duration histogram", zap.Error(err))
	}
	e.resolves, err = meter.Int64Counter("shipyard.phase.resolve_attempts",
		metric.WithDescription("Auto-resolution attempts"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		e.logger.Warn(context.Background(), "failed to create resolve counter", zap.Error(err))
	}
	e.commits, err = meter.Int64Counter("shipyard.phase.commits",
		metric.WithDescription("Commits created by phases"),
		metric.WithUnit("{commit}"))
	if err != nil {
		e.logger.Warn(context.Background(), "failed to create commits counter", zap.Error(err))
	}
}

// Settings returns the engine configuration.
func (e *Engine) Settings() Settings { return e.settings }

// Run dispatches to the executor named k.
func (e *Engine) Run(ctx context.Context, k Kind, workflowID string, opts Options) (*Result, error) {
	switch k {
	case Build:
		return e.Build(ctx, workflowID, opts)
	case Test:
		return e.Test(ctx, workflowID, opts)
	case Review:
		return e.Review(ctx, workflowID, opts)
	case Document:
		return e.Document(ctx, workflowID, opts)
	case Ship:
		return e.Ship(ctx, workflowID, opts)
	}
	return nil, fmt.Errorf("unknown phase executor %q", k)
}

// run carries the state of one executor invocation.
type run struct {
	e       *Engine
	ctx     context.Context
	kind    Kind
	opts    Options
	state   *state.WorkflowState
	path    string
	repo    *vcs.Repo
	result  *Result
	comment *commentBuilder

	// completed marks a successful ship.
	completed bool
	// extra is merged into the final state write.
	extra state.Update
}

func (r *run) log() *logging.Logger { return r.e.logger }

// execute is the shared executor template. body performs the
// phase-specific steps; validateWorkspace controls step 3.
func (e *Engine) execute(ctx context.Context, k Kind, workflowID string, opts Options, validateWorkspace bool, body func(*run) error) (res *Result, err error) {
	ctx = logging.WithPhase(logging.WithWorkflowID(ctx, workflowID), string(k))
	ctx, span := e.tracer.Start(ctx, "shipyard.phase."+string(k),
		trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer span.End()
	start := e.now()

	st, err := e.store.Get(ctx, workflowID)
	if errors.Is(err, state.ErrNotFound) {
		err = critical(k, "load state", fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID))
		e.finishSpan(span, nil, err)
		return nil, err
	}
	if err != nil {
		err = critical(k, "load state", err)
		e.finishSpan(span, nil, err)
		return nil, err
	}

	if err := e.checkOrder(ctx, k, st, opts); err != nil {
		e.finishSpan(span, nil, err)
		return nil, err
	}

	r := &run{
		e:       e,
		ctx:     ctx,
		kind:    k,
		opts:    opts,
		state:   st,
		result:  newResult(),
		comment: newComment(k),
	}
	r.path = st.Worktree()
	if r.path == "" {
		r.path = e.workspaces.PathFor(workflowID)
	}
	r.repo = e.git.At(r.path)

	defer func() {
		if p := recover(); p != nil {
			err = critical(k, "execute", fmt.Errorf("panic: %v", p))
			e.logger.Error(ctx, "phase panicked", zap.Any("panic", p))
		}
		res, err = e.finish(r, err)
		e.record(ctx, k, res, err, e.now().Sub(start))
		e.finishSpan(span, res, err)
	}()

	if validateWorkspace {
		v := e.workspaces.Validate(ctx, workflowID, r.path, st.Branch())
		if !v.IsValid {
			return nil, critical(k, "validate workspace", fmt.Errorf("%w: %s", ErrWorkspaceInvalid, v.Error))
		}
	}

	return nil, body(r)
}

// finish posts the comment and persists the exit phase. It runs for every
// outcome once the state row was loaded.
func (e *Engine) finish(r *run, runErr error) (*Result, error) {
	ctx := context.WithoutCancel(r.ctx)
	res := r.result

	status := state.StatusActive
	switch {
	case runErr != nil:
		status = state.StatusFailed
		res.Success = false
		if res.Error == "" {
			res.Error = runErr.Error()
		}
		if res.Message == "" {
			res.Message = fmt.Sprintf("%s phase failed", r.kind)
		}
	case !res.Success:
		status = state.StatusFailed
	case r.completed:
		status = state.StatusCompleted
	}

	e.postComment(ctx, r, runErr)

	update := r.extra
	update.Phase = state.Ptr(r.kind.Exit())
	update.Status = &status
	if status == state.StatusCompleted {
		update.CompletedAt = state.Ptr(e.now().UTC())
	}
	if _, err := e.store.Update(ctx, r.state.ID, update); err != nil {
		e.logger.Error(ctx, "persisting phase outcome failed", zap.Error(err))
		if runErr == nil {
			runErr = critical(r.kind, "persist state", err)
		}
	}

	e.logger.Info(ctx, "phase finished",
		zap.Bool("success", res.Success),
		zap.String("status", string(status)),
		zap.String("exit_phase", string(r.kind.Exit())),
		zap.String("message", res.Message),
	)
	if runErr != nil {
		return nil, runErr
	}
	return res, nil
}

// checkOrder gates a phase on the incoming state. A refusal never writes.
func (e *Engine) checkOrder(ctx context.Context, k Kind, st *state.WorkflowState, opts Options) error {
	inOrder := st.Phase == k.Entry() && st.Status == state.StatusActive
	if inOrder {
		return nil
	}
	fields := []zap.Field{
		zap.String("current_phase", string(st.Phase)),
		zap.String("current_status", string(st.Status)),
		zap.String("expected_phase", string(k.Entry())),
	}
	if !e.settings.StrictPhaseOrder || opts.Force {
		e.logger.Warn(ctx, "phase running out of order", fields...)
		return nil
	}
	return critical(k, "check phase order", fmt.Errorf("%w: workflow %s is %s/%s, %s requires %s/active",
		ErrPhaseOrder, st.ID, st.Phase, st.Status, k, k.Entry()))
}

func (e *Engine) record(ctx context.Context, k Kind, res *Result, err error, d time.Duration) {
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case res == nil || !res.Success:
		outcome = "failure"
	}
	attrs := metric.WithAttributes(attribute.String("phase", string(k)), attribute.String("outcome", outcome))
	if e.executions != nil {
		e.executions.Add(ctx, 1, attrs)
	}
	if e.duration != nil {
		e.duration.Record(ctx, d.Seconds(), attrs)
	}
}

func (e *Engine) finishSpan(span trace.Span, res *Result, err error) {
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res != nil && !res.Success:
		span.SetStatus(codes.Error, res.Message)
	default:
		span.SetStatus(codes.Ok, "")
	}
	if res != nil {
		span.SetAttributes(attribute.Bool("phase.success", res.Success))
	}
}

// invoke runs one agent command in the worktree.
func (r *run) invoke(cmd agent.SlashCommand, args ...string) (*agent.Response, error) {
	resp, err := r.e.agent.Execute(r.ctx, agent.Request{
		WorkflowID:            r.state.ID,
		AgentName:             r.e.settings.AgentName,
		SlashCommand:          cmd,
		Args:                  args,
		WorkingDir:            r.path,
		SkipPermissionPrompts: r.e.settings.SkipPermissions,
	})
	if err != nil {
		return nil, critical(r.kind, "invoke "+string(cmd), err)
	}
	if resp == nil {
		resp = agent.Failed("agent returned no response")
	}
	return resp, nil
}

// resolveLoop re-runs attempt after each resolve until it passes or max
// resolutions were made. It returns whether the final attempt passed and
// how many resolutions ran.
func (r *run) resolveLoop(attempt func() (bool, error), resolve func(n int) error) (bool, int, error) {
	passed, err := attempt()
	if err != nil {
		return false, 0, err
	}
	n := 0
	for !passed && n < r.e.settings.MaxResolveAttempts {
		n++
		if r.e.resolves != nil {
			r.e.resolves.Add(r.ctx, 1, metric.WithAttributes(attribute.String("phase", string(r.kind))))
		}
		r.log().Info(r.ctx, "auto-resolving failure",
			zap.Int("attempt", n),
			zap.Int("max_attempts", r.e.settings.MaxResolveAttempts),
		)
		if err := resolve(n); err != nil {
			return false, n, err
		}
		if passed, err = attempt(); err != nil {
			return false, n, err
		}
	}
	return passed, n, nil
}
