// Package config provides configuration loading for shipyard.
//
// Configuration is layered: embedded defaults, then an optional YAML file,
// then SHIPYARD_* environment variables.
package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config holds the complete shipyard configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	State     StateConfig     `koanf:"state"`
	GitHub    GitHubConfig    `koanf:"github"`
	Agent     AgentConfig     `koanf:"agent"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Host            string   `koanf:"host" validate:"required"`
	Port            int      `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StateConfig selects the workflow state backend.
type StateConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	// Path is the SQLite database file. The session registry always lives here.
	Path string `koanf:"path" validate:"required"`
	// DSN is the Postgres connection string, used when Driver is postgres.
	DSN Secret `koanf:"dsn"`
}

// GitHubConfig holds issue/review platform settings.
type GitHubConfig struct {
	Token             Secret  `koanf:"token"`
	Owner             string  `koanf:"owner"`
	Repo              string  `koanf:"repo"`
	BaseURL           string  `koanf:"base_url"`
	MergeMethod       string  `koanf:"merge_method" validate:"oneof=squash merge rebase"`
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
}

// AgentConfig controls how the reasoning agent CLI is invoked.
type AgentConfig struct {
	Name            string   `koanf:"name" validate:"required"`
	Command         string   `koanf:"command" validate:"required"`
	Model           string   `koanf:"model"`
	SkipPermissions bool     `koanf:"skip_permissions"`
	ResumeSessions  bool     `koanf:"resume_sessions"`
	Timeout         Duration `koanf:"timeout"`
}

// RetryConfig bounds retried network operations.
type RetryConfig struct {
	MaxAttempts    int      `koanf:"max_attempts" validate:"min=1,max=10"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	Multiplier     float64  `koanf:"multiplier" validate:"gte=1"`
}

// WorkflowConfig holds phase engine settings.
type WorkflowConfig struct {
	MaxResolveAttempts int    `koanf:"max_resolve_attempts" validate:"min=0,max=10"`
	StrictPhaseOrder   bool   `koanf:"strict_phase_order"`
	RepoRoot           string `koanf:"repo_root"`
	TreesDir           string `koanf:"trees_dir" validate:"required"`
	DocsDir            string `koanf:"docs_dir" validate:"required"`
	ScreenshotsDir     string `koanf:"screenshots_dir" validate:"required"`
	PortsFile          string `koanf:"ports_file" validate:"required"`
	MainBranch         string `koanf:"main_branch" validate:"required"`
	Remote             string `koanf:"remote" validate:"required"`
	CleanupWorktree    bool   `koanf:"cleanup_worktree"`

	PushRetry  RetryConfig `koanf:"push_retry"`
	MergeRetry RetryConfig `koanf:"merge_retry"`
}

// TemporalConfig holds pipeline driver settings.
type TemporalConfig struct {
	Host      string `koanf:"host" validate:"required"`
	Namespace string `koanf:"namespace" validate:"required"`
	TaskQueue string `koanf:"task_queue" validate:"required"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol" validate:"omitempty,oneof=grpc http/protobuf"`
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	SampleRate     float64  `koanf:"sample_rate" validate:"gte=0,lte=1"`
	ExportInterval Duration `koanf:"export_interval"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	OTEL   bool   `koanf:"otel"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if c.State.Driver == "postgres" && !c.State.DSN.IsSet() {
		return errors.New("state.dsn is required when state.driver is postgres")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	if c.Workflow.PushRetry.MaxBackoff.Duration() < c.Workflow.PushRetry.InitialBackoff.Duration() {
		return errors.New("workflow.push_retry.max_backoff must be >= initial_backoff")
	}
	if c.Workflow.MergeRetry.MaxBackoff.Duration() < c.Workflow.MergeRetry.InitialBackoff.Duration() {
		return errors.New("workflow.merge_retry.max_backoff must be >= initial_backoff")
	}
	return nil
}

// HasGitHub reports whether enough GitHub settings exist to talk to the API.
func (c *Config) HasGitHub() bool {
	return c.GitHub.Token.IsSet() && c.GitHub.Owner != "" && c.GitHub.Repo != ""
}
