// Package claude invokes the Claude CLI as the delegated agent behind
// agent-kind tasks.
package claude

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// DefaultSystemPrompt is the standard system prompt enforcing JSON-only output.
const DefaultSystemPrompt = "You are a process step executor. Your ONLY output must be valid JSON matching the provided schema. No markdown, no code fences, no XML tags, no prose, no explanations. Output raw JSON only."

// rateLimitSafetyBuffer is added to every rate limit wait.
var rateLimitSafetyBuffer = 5 * time.Second

// DefaultMaxRateLimitWait bounds how long Invoke waits for a rate limit reset.
const DefaultMaxRateLimitWait = 15 * time.Minute

// Invoker is a reusable client for invoking Claude CLI commands.
// Create once, use many times. Safe for concurrent use.
type Invoker struct {
	// ClaudePath is the path to the claude CLI binary. Defaults to "claude".
	ClaudePath string

	// Timeout is the default timeout for invocations.
	Timeout time.Duration

	// SystemPrompt is sent with all invocations.
	SystemPrompt string

	// MaxRateLimitWait bounds the single wait-and-retry on a rate limit.
	// Zero disables the retry.
	MaxRateLimitWait time.Duration

	// Logger receives rate limit wait notifications. Can be nil.
	Logger WaitLogger

	// run executes the CLI. Replaced in tests.
	run func(ctx context.Context, path string, args []string) ([]byte, error)
}

// Request holds per-invocation configuration for a Claude CLI call.
type Request struct {
	// Prompt is the user prompt (required).
	Prompt string

	// Schema is the JSON schema for structured output, passed via --json-schema.
	Schema string

	// AgentJSON is the serialized agent definition for --agents.
	// Format: {"agent-name": {"description": "...", "prompt": "..."}}
	AgentJSON string

	// BypassPerms enables --permission-mode bypassPermissions.
	BypassPerms bool
}

// Response holds the raw output from a Claude CLI invocation.
type Response struct {
	RawOutput []byte
}

// NewInvoker creates a new Invoker with default settings.
func NewInvoker() *Invoker {
	return &Invoker{
		ClaudePath:       "claude",
		SystemPrompt:     DefaultSystemPrompt,
		MaxRateLimitWait: DefaultMaxRateLimitWait,
	}
}

// Invoke executes a Claude CLI command. On a detected rate limit whose reset
// falls within MaxRateLimitWait it waits and retries once.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	ctxToUse := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	resp, err := inv.invoke(ctxToUse, req)
	if err == nil || inv.MaxRateLimitWait <= 0 {
		return resp, err
	}

	now := time.Now()
	info := ParseRateLimit(err.Error(), now)
	waiter := &rateLimitWaiter{
		maxWait:      inv.MaxRateLimitWait,
		safetyBuffer: rateLimitSafetyBuffer,
		logger:       inv.Logger,
	}
	if !waiter.ShouldWait(info, now) {
		return nil, err
	}
	if waitErr := waiter.Wait(ctxToUse, info, now); waitErr != nil {
		return nil, fmt.Errorf("rate limit wait interrupted: %w", waitErr)
	}
	return inv.invoke(ctxToUse, req)
}

// Args builds the CLI argument list for req.
// Always includes --system-prompt, -p, --output-format json and --settings.
func (inv *Invoker) Args(req Request) ([]string, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	args := []string{}
	if req.AgentJSON != "" {
		args = append(args, "--agents", req.AgentJSON)
	}

	systemPrompt := inv.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	args = append(args, "--system-prompt", systemPrompt)
	args = append(args, "-p", req.Prompt)

	if req.Schema != "" {
		args = append(args, "--json-schema", req.Schema)
	}
	args = append(args, "--output-format", "json")

	if req.BypassPerms {
		args = append(args, "--permission-mode", "bypassPermissions")
	}

	// Disable hooks for automation
	args = append(args, "--settings", `{"disableAllHooks": true}`)
	return args, nil
}

func (inv *Invoker) invoke(ctx context.Context, req Request) (*Response, error) {
	args, err := inv.Args(req)
	if err != nil {
		return nil, err
	}

	claudePath := inv.ClaudePath
	if claudePath == "" {
		claudePath = "claude"
	}

	run := inv.run
	if run == nil {
		run = runCLI
	}

	output, err := run(ctx, claudePath, args)
	if err != nil {
		return nil, fmt.Errorf("claude invocation failed: %w (output: %s)", err, truncate(string(output), 500))
	}
	return &Response{RawOutput: output}, nil
}

func runCLI(ctx context.Context, path string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	SetCleanEnv(cmd)
	return cmd.CombinedOutput()
}

// truncate returns s truncated to maxLen characters with "..." suffix if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
