package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/shipyard/internal/http"
	"github.com/fyrsmithlabs/shipyard/internal/pipeline"
)

var serveNoPipeline bool

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	serveCmd.Flags().BoolVar(&serveNoPipeline, "no-pipeline", false, "do not connect to Temporal; pipeline routes answer 503")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow HTTP API",
	Long: `Serve workflow state, pipeline launch, agent listing, health and
Prometheus metrics over HTTP.

Examples:
  shipyard serve
  SHIPYARD_SERVER_PORT=9090 shipyard serve --no-pipeline`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a pipeline worker",
	Long: `Host the pipeline workflow and its phase activities on the configured
Temporal task queue. Phases run in this process against the local repository.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := a.services(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	deps := httpserver.Deps{
		Store:     svc.Store(),
		Agents:    svc.Sessions(),
		Gatherer:  svc.Metrics(),
		Logger:    a.logger,
		Telemetry: a.tel,
	}
	if !serveNoPipeline {
		c, err := pipeline.Dial(a.cfg.Temporal, a.logger.Underlying())
		if err != nil {
			a.logger.Warn(ctx, "temporal unavailable, pipeline routes disabled", zap.Error(err))
		} else {
			defer c.Close()
			deps.Pipelines = pipeline.NewStarter(c, a.cfg.Temporal.TaskQueue, a.logger)
		}
	}

	server, err := httpserver.NewServer(deps, &httpserver.Config{
		Host: a.cfg.Server.Host,
		Port: a.cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Or(10*time.Second))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(shutdownCtx, "server shutdown error", zap.Error(err))
		return err
	}
	a.logger.Info(shutdownCtx, "server stopped gracefully")
	return nil
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := a.services(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	c, err := pipeline.Dial(a.cfg.Temporal, a.logger.Underlying())
	if err != nil {
		return err
	}
	defer c.Close()

	w := pipeline.NewWorker(c, a.cfg.Temporal.TaskQueue, pipeline.NewActivities(svc.Engine(), svc.Store()))
	if err := w.Start(); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	a.logger.Info(ctx, "worker started",
		zap.String("host", a.cfg.Temporal.Host),
		zap.String("task_queue", a.cfg.Temporal.TaskQueue),
	)

	<-ctx.Done()
	w.Stop()
	a.logger.Info(context.Background(), "worker stopped gracefully")
	return nil
}
