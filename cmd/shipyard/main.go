// Package main implements the shipyard CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/config"
	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/services"
	"github.com/fyrsmithlabs/shipyard/internal/telemetry"
)

var (
	// configPath overrides ~/.config/shipyard/config.yaml
	configPath string
	// logLevel overrides logging.level
	logLevel string
	// version information
	version = "dev"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shipyard",
	Short: "Phase-sequenced workflow engine for agent-driven development",
	Long: `shipyard moves a workflow through build, test, review, document and ship.

Each phase invokes the reasoning agent in the workflow's git worktree,
auto-resolves failures a bounded number of times, commits and pushes the
result, and reports back on the workflow's issue.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/shipyard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
}

// app holds process-wide setup shared by subcommands.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if reason := tel.DegradedReason(); reason != nil {
		logger.Warn(ctx, "telemetry degraded", zap.Error(reason))
	}
	return &app{cfg: cfg, logger: logger, tel: tel}, nil
}

// services builds the component graph; callers Close the container.
func (a *app) services(ctx context.Context) (*services.Container, error) {
	return services.Build(ctx, a.cfg, a.logger, a.tel)
}

// close flushes telemetry; it runs after the command context is canceled.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
