package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/relay/internal/execution"
	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/pipeline"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger logs run progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps for tracking execution flow.
// Color output is enabled when writing to a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// NO_COLOR disables color.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// shouldLog checks if a message at the given level should be logged.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// Log implements execution.Logger.
func (cl *ConsoleLogger) Log(level execution.Level, msg string) {
	cl.logWithLevel(strings.ToUpper(fromExecutionLevel(level)), msg)
}

// LogRateLimitWait implements claude.WaitLogger.
func (cl *ConsoleLogger) LogRateLimitWait(remaining time.Duration) {
	cl.LogWarn(fmt.Sprintf("Rate limit reached, retrying in %s", formatDuration(remaining)))
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string
	if cl.colorOutput {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, colorLevel(level), message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}
	cl.writer.Write([]byte(formatted))
}

// writeLine writes an INFO-level line that is not prefixed with a level tag.
func (cl *ConsoleLogger) writeLine(line string) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writer.Write([]byte(fmt.Sprintf("[%s] %s\n", timestamp(), line)))
}

func colorLevel(level string) string {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}

func (cl *ConsoleLogger) paint(attr color.Attribute, s string) string {
	if !cl.colorOutput {
		return s
	}
	return color.New(attr).Sprint(s)
}

// RunStarted implements pipeline.Observer.
func (cl *ConsoleLogger) RunStarted(run pipeline.RunInfo, steps []string) {
	stepLabel := "step"
	if len(steps) != 1 {
		stepLabel = "steps"
	}
	cl.writeLine(fmt.Sprintf("Starting %s (run %s): %d %s",
		cl.paint(color.Bold, run.ProcessID), shortID(run.RunID), len(steps), stepLabel))
}

// StepStarted implements pipeline.Observer.
func (cl *ConsoleLogger) StepStarted(run pipeline.RunInfo, step string, spec models.TaskSpec) {
	title := spec.Title
	if title == "" {
		title = spec.Name
	}
	cl.writeLine(fmt.Sprintf("%s %s: %s [%s]", cl.paint(color.FgCyan, "▶"), step, title, spec.Kind))
}

// StepSkipped implements pipeline.Observer.
func (cl *ConsoleLogger) StepSkipped(run pipeline.RunInfo, step string) {
	cl.writeLine(fmt.Sprintf("%s %s: skipped", cl.paint(color.FgHiBlack, "○"), step))
}

// StepCompleted implements pipeline.Observer.
func (cl *ConsoleLogger) StepCompleted(run pipeline.RunInfo, step string, result models.StepResult, elapsed time.Duration) {
	count := len(result.Artifacts())
	artifactLabel := "artifact"
	if count != 1 {
		artifactLabel = "artifacts"
	}
	cl.writeLine(fmt.Sprintf("%s %s: done in %s (%d %s)",
		cl.paint(color.FgGreen, "✓"), step, formatDuration(elapsed), count, artifactLabel))
}

// StepFailed implements pipeline.Observer.
func (cl *ConsoleLogger) StepFailed(run pipeline.RunInfo, step string, err error) {
	cl.writeLine(fmt.Sprintf("%s %s: %v", cl.paint(color.FgRed, "✗"), step, err))
}

// RunCompleted implements pipeline.Observer. It prints the run summary.
func (cl *ConsoleLogger) RunCompleted(run pipeline.RunInfo, result *models.PipelineResult) {
	if cl.writer == nil || !cl.shouldLog("info") || result == nil {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n[%s] === %s ===\n", ts, cl.paint(color.Bold, "RUN SUMMARY")))
	sb.WriteString(fmt.Sprintf("[%s] Process:   %s\n", ts, run.ProcessID))
	sb.WriteString(fmt.Sprintf("[%s] Run:       %s\n", ts, run.RunID))
	sb.WriteString(fmt.Sprintf("[%s] Status:    %s\n", ts, cl.paint(color.FgGreen, "SUCCESS")))
	sb.WriteString(fmt.Sprintf("[%s] Duration:  %s\n", ts, formatDuration(result.Duration)))
	sb.WriteString(fmt.Sprintf("[%s] Artifacts: %d\n", ts, len(result.Artifacts)))

	keys := make([]string, 0, len(result.Summary))
	for k := range result.Summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("[%s]   %s: %s\n", ts, k, truncate(fmt.Sprint(result.Summary[k]), 120)))
	}

	cl.writer.Write([]byte(sb.String()))
}

// RunFailed implements pipeline.Observer.
func (cl *ConsoleLogger) RunFailed(run pipeline.RunInfo, err error) {
	step, ok := pipeline.FailedStep(err)
	if !ok {
		step = "definition"
	}
	cl.writeLine(fmt.Sprintf("%s %s failed at %s", cl.paint(color.FgRed, "RUN FAILED:"), run.ProcessID, step))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// NoOpLogger discards everything.
type NoOpLogger struct {
	pipeline.NopObserver
}

// NewNoOpLogger creates a NoOpLogger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Log implements execution.Logger.
func (n *NoOpLogger) Log(level execution.Level, msg string) {}

// LogRateLimitWait implements claude.WaitLogger.
func (n *NoOpLogger) LogRateLimitWait(remaining time.Duration) {}
