package cmd

import (
	"context"
	"fmt"

	"github.com/harrison/relay/internal/claude"
	"github.com/harrison/relay/internal/config"
	"github.com/harrison/relay/internal/execution"
	"github.com/harrison/relay/internal/iostore"
	"github.com/harrison/relay/internal/logger"
	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/worker"
	"github.com/spf13/cobra"
)

// loadConfig resolves configuration for a command: an explicit --config file,
// otherwise .relay/config.yaml in the working directory. .env and RELAY_*
// variables are applied in both cases.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		cfg, err := config.Load(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	if err := config.LoadDotEnv("."); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newStore creates the IO store selected by the io section.
func newStore(ctx context.Context, io config.IOConfig) (iostore.Store, error) {
	switch io.Backend {
	case config.BackendFile:
		return iostore.NewFileStore(io.Dir), nil
	case config.BackendMemory:
		return iostore.NewMemoryStore(), nil
	case config.BackendS3:
		store, err := iostore.NewObjectStore(io.S3.ObjectConfig())
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx, io.S3.Region); err != nil {
			return nil, fmt.Errorf("prepare bucket %s: %w", io.S3.Bucket, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown io backend %q", io.Backend)
	}
}

// newInvoker configures the Claude CLI client from the claude section.
func newInvoker(cfg config.ClaudeConfig, log claude.WaitLogger) *claude.Invoker {
	inv := claude.NewInvoker()
	inv.ClaudePath = cfg.Path
	inv.Timeout = cfg.Timeout
	inv.MaxRateLimitWait = cfg.MaxRateLimitWait
	if cfg.SystemPrompt != "" {
		inv.SystemPrompt = cfg.SystemPrompt
	}
	inv.Logger = log
	return inv
}

// newRuntime builds the execution context for a run. Dry runs answer every
// task with a schema-conformant stub and keep IO in memory.
func newRuntime(ctx context.Context, cfg *config.Config, dryRun bool, log *logger.MultiLogger) (*execution.Runtime, error) {
	if dryRun {
		return execution.NewRuntime(
			execution.WithLogger(log),
			execution.WithStore(iostore.NewMemoryStore()),
			execution.WithWorker(models.KindAgent, worker.Stub{}),
			execution.WithWorker(models.KindLocal, worker.Stub{}),
			execution.WithWorker(models.KindCommand, worker.Stub{}),
		), nil
	}

	store, err := newStore(ctx, cfg.IO)
	if err != nil {
		return nil, fmt.Errorf("failed to create io store: %w", err)
	}

	agent := worker.NewAgentWorker(newInvoker(cfg.Claude, log))
	agent.BypassPerms = cfg.Claude.BypassPermissions

	return execution.NewRuntime(
		execution.WithLogger(log),
		execution.WithStore(store),
		execution.WithWorker(models.KindAgent, agent),
		execution.WithWorker(models.KindLocal, worker.Passthrough),
		execution.WithWorker(models.KindCommand, &worker.CommandWorker{
			Dir:     cfg.Command.Dir,
			Timeout: cfg.Command.Timeout,
		}),
	), nil
}
