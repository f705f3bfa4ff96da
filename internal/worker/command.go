package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/harrison/relay/internal/models"
)

// CommandWorker runs the task's worker command as an external process.
// The Request document is written to stdin; the JSON result is read from stdout.
type CommandWorker struct {
	Dir     string        // Working directory; empty means current
	Env     []string      // Extra environment entries (KEY=VALUE)
	Timeout time.Duration // Per-invocation timeout; zero means none
}

// Execute runs spec.Worker.Command.
func (w *CommandWorker) Execute(ctx context.Context, spec models.TaskSpec, args models.Args) (json.RawMessage, error) {
	argv := spec.Worker.Command
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("task %s: worker command is empty", spec.Name)
	}

	input, err := json.Marshal(NewRequest(spec, args))
	if err != nil {
		return nil, fmt.Errorf("encode request for task %s: %w", spec.Name, err)
	}

	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = w.Dir
	cmd.Env = append(os.Environ(), w.Env...)
	cmd.Env = append(cmd.Env, "RELAY_TASK="+spec.Name)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command %s: %w", argv[0], ctx.Err())
		}
		return nil, fmt.Errorf("command %s failed: %w (stderr: %s)", argv[0], err, strings.TrimSpace(stderr.String()))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, fmt.Errorf("command %s produced no output", argv[0])
	}
	return json.RawMessage(out), nil
}
