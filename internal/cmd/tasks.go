package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/harrison/relay/internal/definition"
	"github.com/harrison/relay/internal/task"
	"github.com/spf13/cobra"
)

// NewTasksCommand creates the tasks command
func NewTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks <process-file>",
		Short: "List the tasks a process file declares",
		Long: `List the registered tasks of a process file with their kind and labels,
followed by the steps and the earlier steps each one reads.

Examples:
  relay tasks review.yaml
  relay tasks review.yaml --label research`,
		Args: cobra.ExactArgs(1),
		RunE: tasksCommand,
	}
	cmd.Flags().String("label", "", "Only list tasks carrying this label")
	return cmd
}

func tasksCommand(cmd *cobra.Command, args []string) error {
	proc, err := definition.LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to load process file: %w", err)
	}
	label, _ := cmd.Flags().GetString("label")

	var defs []*task.Definition
	if label != "" {
		defs = proc.Tasks.WithLabel(label)
	} else {
		for _, name := range proc.Tasks.Names() {
			def, _ := proc.Tasks.Lookup(name)
			defs = append(defs, def)
		}
	}

	out := cmd.OutOrStdout()
	if len(defs) == 0 {
		fmt.Fprintf(out, "No tasks with label %q in %s\n", label, proc.Definition.ID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tKIND\tLABELS")
	for _, def := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", def.Name(), proc.Kinds[def.Name()], strings.Join(def.Labels(), ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if label != "" {
		return nil
	}

	fmt.Fprintf(out, "\nSteps of %s:\n", proc.Definition.ID)
	for _, name := range proc.Definition.StepNames() {
		deps := proc.Dependencies[name]
		if len(deps) == 0 {
			fmt.Fprintf(out, "  %s\n", name)
			continue
		}
		fmt.Fprintf(out, "  %s <- %s\n", name, strings.Join(deps, ", "))
	}
	return nil
}
