package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harrison/relay/internal/history"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Show runs recorded in the history database (.relay/history.db by default).

Without arguments the most recent runs are listed. With a run id (or any
unambiguous prefix of one listed) the run and its steps are shown.

Examples:
  relay history
  relay history --limit 50
  relay history 3f2a9c1e`,
		Args: cobra.MaximumNArgs(1),
		RunE: historyCommand,
	}
	cmd.Flags().String("config", "", "Path to config file (default: .relay/config.yaml)")
	cmd.Flags().String("db", "", "Path to the history database (overrides config)")
	cmd.Flags().Int("limit", 20, "Number of runs to list (0 = all)")
	return cmd
}

func historyCommand(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dbPath = cfg.History.DBPath
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "No run history at %s\n", dbPath)
		return nil
	}

	store, err := history.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		return printRuns(out, runs)
	}

	run, err := findRun(cmd, store, args[0])
	if err != nil {
		return err
	}
	steps, err := store.GetSteps(ctx, run.ID)
	if err != nil {
		return err
	}
	return printRun(out, run, steps)
}

// findRun resolves a full run id or a unique prefix of one.
func findRun(cmd *cobra.Command, store *history.Store, id string) (*history.Run, error) {
	ctx := cmd.Context()
	run, err := store.GetRun(ctx, id)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, history.ErrRunNotFound) {
		return nil, err
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}
	var matches []*history.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run %s: %w", id, history.ErrRunNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous (%d runs)", id, len(matches))
	}
}

func printRuns(out io.Writer, runs []*history.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPROCESS\tSTATUS\tSTARTED\tDURATION\tARTIFACTS")
	for _, r := range runs {
		status := r.Status
		if r.Status == history.StatusFailed && r.FailedStep != "" {
			status = fmt.Sprintf("%s (%s)", r.Status, r.FailedStep)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			shortRunID(r.ID), r.ProcessID, status, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Duration.Round(time.Millisecond), r.ArtifactCount)
	}
	return w.Flush()
}

func printRun(out io.Writer, run *history.Run, steps []*history.StepExecution) error {
	fmt.Fprintf(out, "Run:       %s\n", run.ID)
	fmt.Fprintf(out, "Process:   %s\n", run.ProcessID)
	fmt.Fprintf(out, "Status:    %s\n", run.Status)
	fmt.Fprintf(out, "Started:   %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "Finished:  %s\n", run.FinishedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Duration:  %s\n", run.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Artifacts: %d\n", run.ArtifactCount)
	if run.Status == history.StatusFailed {
		fmt.Fprintf(out, "Failed at: %s (%s)\n", run.FailedStep, run.FailurePhase)
		fmt.Fprintf(out, "Error:     %s\n", run.ErrorMessage)
	}

	if len(run.Summary) > 0 {
		fmt.Fprintln(out, "\nSummary:")
		keys := make([]string, 0, len(run.Summary))
		for k := range run.Summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %v\n", k, run.Summary[k])
		}
	}

	fmt.Fprintln(out, "\nSteps:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  STEP\tTASK\tSTATUS\tDURATION\tARTIFACTS")
	for _, s := range steps {
		status := s.Status
		if s.FailurePhase != "" {
			status = fmt.Sprintf("%s (%s)", s.Status, s.FailurePhase)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\n", s.Step, s.Task, status, s.Duration.Round(time.Millisecond), s.ArtifactCount)
	}
	return w.Flush()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
