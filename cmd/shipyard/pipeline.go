package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/pipeline"
)

var (
	pipelineOpts    phaseFlags
	pipelineFrom    string
	pipelineThrough string
	pipelineWait    bool
	pipelineTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineOpts.bind(pipelineCmd.Flags())
	pipelineCmd.Flags().StringVar(&pipelineFrom, "from", "", "first phase to run (default: resume from stored phase)")
	pipelineCmd.Flags().StringVar(&pipelineThrough, "through", "", "last phase to run (default: ship)")
	pipelineCmd.Flags().BoolVar(&pipelineWait, "wait", false, "block until the pipeline finishes")
	pipelineCmd.Flags().DurationVar(&pipelineTimeout, "phase-timeout", pipeline.DefaultPhaseTimeout, "upper bound for a single phase")
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline <workflow-id>",
	Short: "Start a durable pipeline run on the worker task queue",
	Long: `Start the phase pipeline for a workflow as a Temporal workflow.

A "shipyard worker" process must be running against the same task queue.
Only one pipeline may run per workflow id.

Examples:
  # Resume from wherever the workflow is
  shipyard pipeline wf-42 --wait

  # Build and test only
  shipyard pipeline wf-42 --from build --through test --plan specs/login.md`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func pipelineInput(workflowID string) (pipeline.Input, error) {
	in := pipeline.Input{
		WorkflowID:   workflowID,
		Options:      pipelineOpts.options(),
		PhaseTimeout: pipelineTimeout,
	}
	var err error
	if pipelineFrom != "" {
		if in.From, err = phases.ParseKind(pipelineFrom); err != nil {
			return in, err
		}
	}
	if pipelineThrough != "" {
		if in.Through, err = phases.ParseKind(pipelineThrough); err != nil {
			return in, err
		}
	}
	return in, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	in, err := pipelineInput(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	c, err := pipeline.Dial(a.cfg.Temporal, a.logger.Underlying())
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := pipeline.NewStarter(c, a.cfg.Temporal.TaskQueue, a.logger).Start(ctx, in)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pipeline started: %s (run %s)\n", run.ID, run.RunID)
	if !pipelineWait {
		return nil
	}

	a.logger.Info(ctx, "waiting for pipeline", zap.String("temporal_workflow_id", run.ID))
	res, err := run.Wait(ctx)
	if err != nil {
		return err
	}
	printOutput(out, res)
	if !res.Completed {
		return fmt.Errorf("pipeline stopped at %s", res.StoppedAt)
	}
	return nil
}

func printOutput(w io.Writer, out *pipeline.Output) {
	for _, s := range out.Steps {
		status := "passed"
		if !s.Success {
			status = "failed"
		}
		fmt.Fprintf(w, "  %-8s %s: %s\n", s.Phase, status, s.Message)
	}
	if out.Completed {
		fmt.Fprintln(w, "pipeline completed")
		return
	}
	fmt.Fprintf(w, "pipeline stopped at %s: %s\n", out.StoppedAt, out.Reason)
}
