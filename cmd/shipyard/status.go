package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shipyard/internal/state"
)

var (
	statusJSON     bool
	statusAll      bool
	statusPhase    string
	createID       string
	createIssue    int
	createBranch   string
	createWorktree string
	createPhase    string
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(createCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output results as JSON")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "Include archived workflows")
	statusCmd.Flags().StringVar(&statusPhase, "phase", "", "Only show workflows in this phase")

	createCmd.Flags().StringVar(&createID, "id", "", "Workflow id (default: generated)")
	createCmd.Flags().IntVar(&createIssue, "issue", 0, "Issue number progress comments are posted to")
	createCmd.Flags().StringVar(&createBranch, "branch", "", "Branch the worktree is expected to be on")
	createCmd.Flags().StringVar(&createWorktree, "worktree", "", "Worktree path (default: <trees_dir>/<id> when --branch is set)")
	createCmd.Flags().StringVar(&createPhase, "phase", "", "Starting phase (default: planned)")
}

var statusCmd = &cobra.Command{
	Use:   "status [workflow-id]",
	Short: "Show workflow state",
	Long: `Show one workflow's state, or list workflows.

Examples:
  shipyard status
  shipyard status --phase built
  shipyard status wf-42 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a workflow",
	Long: `Register a workflow so phases can run against it.

Examples:
  shipyard create --id wf-42 --issue 42 --branch feat-issue-42-login`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		st, err := svc.Store().Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, st)
	}

	f := state.Filter{IncludeArchived: statusAll}
	if statusPhase != "" {
		if f.Phase, err = state.ParsePhase(statusPhase); err != nil {
			return err
		}
	}
	list, err := svc.Store().List(ctx, f)
	if err != nil {
		return err
	}
	if statusJSON {
		return printJSON(out, list)
	}
	printTable(out, list)
	return nil
}

func runCreate(cmd *cobra.Command, _ []string) error {
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

	st := &state.WorkflowState{ID: createID}
	if st.ID == "" {
		st.ID = uuid.NewString()[:8]
	}
	if createPhase != "" {
		if st.Phase, err = state.ParsePhase(createPhase); err != nil {
			return err
		}
	}
	if createIssue > 0 {
		st.IssueNumber = &createIssue
	}
	if createBranch != "" {
		st.BranchName = &createBranch
		if createWorktree == "" {
			createWorktree = svc.Worktrees().PathFor(st.ID)
		}
	}
	if createWorktree != "" {
		st.WorktreePath = &createWorktree
		st.WorktreeExists = true
	}

	created, err := svc.Store().Create(ctx, st)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), created)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, list []*state.WorkflowState) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No workflows found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPHASE\tSTATUS\tISSUE\tBRANCH\tUPDATED")
	for _, st := range list {
		issue := "-"
		if st.IssueNumber != nil {
			issue = fmt.Sprintf("#%d", *st.IssueNumber)
		}
		branch := st.Branch()
		if branch == "" {
			branch = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			st.ID, st.Phase, st.Status, issue, truncate(branch, 40),
			st.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}
