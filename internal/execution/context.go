// Package execution provides the per-run Execution Context handed to the
// pipeline executor: a clock, a leveled logger and the task delegation
// primitive.
package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/relay/internal/models"
)

// Level is a log severity.
type Level int

// Log levels, lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses a level name. Accepts "warning" for warn.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger receives log lines. Implementations must not block for long.
type Logger interface {
	Log(level Level, msg string)
}

// LoggerFunc adapts a function into a Logger.
type LoggerFunc func(level Level, msg string)

// Log implements Logger.
func (f LoggerFunc) Log(level Level, msg string) {
	f(level, msg)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Log(Level, string) {}

// SafeLog forwards to l, recovering any panic raised by the sink.
// Logging never interrupts a run.
func SafeLog(l Logger, level Level, msg string) {
	if l == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	l.Log(level, msg)
}

// Context is what the pipeline executor needs from its environment.
type Context interface {
	// Now reads the run clock.
	Now() time.Time

	// Log emits a line to the run's logger. It never fails.
	Log(level Level, msg string)

	// Task runs spec to completion with args and returns its validated result.
	Task(ctx context.Context, spec models.TaskSpec, args models.Args) (models.StepResult, error)
}
