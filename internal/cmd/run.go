package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/harrison/relay/internal/definition"
	"github.com/harrison/relay/internal/history"
	"github.com/harrison/relay/internal/logger"
	"github.com/harrison/relay/internal/pipeline"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <process-file>",
		Short: "Execute a process definition",
		Long: `Execute a process definition and print the aggregated result as JSON.

The process file (Markdown or YAML) is loaded and checked, inputs are
resolved against the declared inputs, and every step runs in order.
Agent tasks are delegated to the Claude CLI, command tasks run their
worker command, and local tasks echo their arguments as the result.

Configuration is loaded from .relay/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  relay run review.yaml --input subject=acme
  relay run review.md --inputs inputs.json --input deep_dive=true
  relay run --dry-run review.yaml --input subject=acme   # Stub every task
  relay run --io-backend memory review.yaml              # Keep task IO in memory
  relay run --timeout 1h review.yaml                     # Abort the run after an hour`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .relay/config.yaml)")
	cmd.Flags().StringArrayP("input", "i", nil, "Process input as key=value (repeatable)")
	cmd.Flags().String("inputs", "", "JSON file with process inputs")
	cmd.Flags().Bool("dry-run", false, "Run the process against schema-conformant stub workers")
	cmd.Flags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().String("io-backend", "", "Task IO backend (file, s3, memory)")
	cmd.Flags().String("io-dir", "", "Root directory for the file IO backend")
	cmd.Flags().String("timeout", "", "Maximum run time (e.g., 30m, 2h)")
	cmd.Flags().Bool("no-history", false, "Do not record the run in the history database")
	cmd.Flags().Bool("verbose", false, "Show debug output")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cfg.MergeWithFlags(
		changedString(cmd, "log-level"),
		changedString(cmd, "log-dir"),
		changedString(cmd, "io-backend"),
		changedString(cmd, "io-dir"),
	)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noHistory, _ := cmd.Flags().GetBool("no-history")
	verbose, _ := cmd.Flags().GetBool("verbose")
	pairs, _ := cmd.Flags().GetStringArray("input")
	inputsFile, _ := cmd.Flags().GetString("inputs")

	var timeout time.Duration
	if timeoutStr, _ := cmd.Flags().GetString("timeout"); timeoutStr != "" {
		timeout, err = time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("invalid timeout format %q: %w", timeoutStr, err)
		}
	}

	proc, err := definition.LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to load process file: %w", err)
	}

	given, err := collectInputs(pairs, inputsFile)
	if err != nil {
		return err
	}
	inputs, err := proc.ResolveInputs(given)
	if err != nil {
		return err
	}

	logLevel := cfg.LogLevel
	if verbose {
		logLevel = "debug"
	}

	// Progress goes to stderr so stdout carries only the JSON result
	consoleLog := logger.NewConsoleLogger(cmd.ErrOrStderr(), logLevel)
	sinks := []logger.Sink{consoleLog}
	if !dryRun {
		fileLog, err := logger.NewFileLoggerWithDirAndLevel(cfg.LogDir, logLevel)
		if err != nil {
			return fmt.Errorf("failed to create file logger: %w", err)
		}
		defer fileLog.Close()
		sinks = append(sinks, fileLog)
	}
	log := logger.NewMultiLogger(sinks...)

	opts := []pipeline.ExecutorOption{pipeline.WithObserver(log)}
	if cfg.History.Enabled && !dryRun && !noHistory {
		store, err := history.NewStore(cfg.History.DBPath)
		if err != nil {
			// The run proceeds without history
			consoleLog.LogWarn(fmt.Sprintf("history disabled: %v", err))
		} else {
			defer store.Close()
			opts = append(opts, pipeline.WithObserver(history.NewRecorder(store, log)))
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rt, err := newRuntime(ctx, cfg, dryRun, log)
	if err != nil {
		return err
	}

	result, err := pipeline.NewExecutor(opts...).Process(ctx, proc.Definition, inputs, rt)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// changedString returns a pointer to the flag value when the flag was set.
func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}
