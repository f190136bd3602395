package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fyrsmithlabs/shipyard/internal/phases"
)

// phaseFlags are the per-run options shared by phase and pipeline.
type phaseFlags struct {
	planFile    string
	specFile    string
	e2e         bool
	force       bool
	autoApprove bool
	keepTree    bool
}

func (f *phaseFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.planFile, "plan", "", "implementation plan passed to /implement (build)")
	fs.StringVar(&f.specFile, "spec", "", "spec file passed to /review and /document")
	fs.BoolVar(&f.e2e, "e2e", false, "run the end-to-end test track (test)")
	fs.BoolVar(&f.force, "force", false, "run even when strict phase ordering would refuse")
	fs.BoolVar(&f.autoApprove, "auto-approve", false, "request pull request approval before merge (ship)")
	fs.BoolVar(&f.keepTree, "keep-worktree", false, "do not remove the worktree after merge (ship)")
}

func (f *phaseFlags) options() phases.Options {
	opts := phases.Options{
		Force:       f.force,
		PlanFile:    f.planFile,
		E2E:         f.e2e,
		SpecFile:    f.specFile,
		AutoApprove: f.autoApprove,
	}
	if f.keepTree {
		keep := false
		opts.CleanupWorktree = &keep
	}
	return opts
}

var (
	phaseOpts phaseFlags
	phaseJSON bool
)

func init() {
	rootCmd.AddCommand(phaseCmd)
	phaseOpts.bind(phaseCmd.Flags())
	phaseCmd.Flags().BoolVar(&phaseJSON, "json", false, "Output the result as JSON")
}

var phaseCmd = &cobra.Command{
	Use:   "phase <build|test|review|document|ship> <workflow-id>",
	Short: "Run a single phase for a workflow",
	Long: `Run one phase executor synchronously in this process.

Examples:
  # Implement a plan
  shipyard phase build wf-42 --plan specs/login.md

  # Run unit and end-to-end tests
  shipyard phase test wf-42 --e2e

  # Merge without removing the worktree
  shipyard phase ship wf-42 --keep-worktree`,
	Args: cobra.ExactArgs(2),
	RunE: runPhase,
}

func runPhase(cmd *cobra.Command, args []string) error {
	kind, err := phases.ParseKind(args[0])
	if err != nil {
		return err
	}
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

	res, err := svc.Engine().Run(ctx, kind, args[1], phaseOpts.options())
	if err != nil {
		return err
	}
	if err := printResult(cmd.OutOrStdout(), kind, res, phaseJSON); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s phase did not pass", kind)
	}
	return nil
}

func printResult(w io.Writer, kind phases.Kind, res *phases.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	status := "passed"
	if !res.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "%s %s: %s\n", kind, status, res.Message)
	if res.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", truncate(res.Error, 500))
	}
	keys := make([]string, 0, len(res.Data))
	for k := range res.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, res.Data[k])
	}
	return nil
}

// truncate shortens s to maxLen, ending in "..." when cut.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
