package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for relay
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Declarative pipeline execution for agent workflows",
		Long: `Relay executes process definitions: ordered pipelines of tasks that are
delegated to agents, external commands or in-process workers.

Process files (YAML or Markdown) declare the tasks, the steps that invoke
them, and how step results are aggregated into the final run summary.
Every step result is validated against its task's result schema.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewTasksCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
