package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/relay/internal/execution"
	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/pipeline"
)

// FileLogger logs run events to files in the .relay/logs/ directory.
// It creates a timestamped log file per invocation, a detailed log per
// completed step under steps/, and maintains a latest.log symlink pointing
// to the most recent log.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	stepsDir string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger in .relay/logs with level "info".
func NewFileLogger() (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(filepath.Join(".relay", "logs"), "info")
}

// NewFileLoggerWithDirAndLevel creates a FileLogger with a custom log directory and level.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	stepsDir := filepath.Join(logDir, "steps")
	if err := os.MkdirAll(stepsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create steps directory: %w", err)
	}

	// Generate timestamped filename: run-YYYYMMDD-HHMMSS.log
	ts := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", ts))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		stepsDir: stepsDir,
		logLevel: normalizeLogLevel(logLevel),
	}

	fl.writeRunLog("=== Relay Run Log ===\n")
	fl.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))
	return fl, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// Close closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return nil
	}
	err := fl.runLog.Close()
	fl.runLog = nil
	return err
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// Log implements execution.Logger.
func (fl *FileLogger) Log(level execution.Level, msg string) {
	name := fromExecutionLevel(level)
	if !fl.shouldLog(name) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), strings.ToUpper(name), msg))
}

// LogRateLimitWait implements claude.WaitLogger.
func (fl *FileLogger) LogRateLimitWait(remaining time.Duration) {
	fl.Log(execution.LevelWarn, fmt.Sprintf("rate limit reached, retrying in %s", formatDuration(remaining)))
}

func (fl *FileLogger) info(format string, args ...interface{}) {
	if !fl.shouldLog("info") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] %s\n", timestamp(), fmt.Sprintf(format, args...)))
}

// RunStarted implements pipeline.Observer.
func (fl *FileLogger) RunStarted(run pipeline.RunInfo, steps []string) {
	fl.info("Starting %s (run %s): %s", run.ProcessID, run.RunID, strings.Join(steps, ", "))
}

// StepStarted implements pipeline.Observer.
func (fl *FileLogger) StepStarted(run pipeline.RunInfo, step string, spec models.TaskSpec) {
	fl.info("Step %s started: task=%s kind=%s input=%s output=%s",
		step, spec.Name, spec.Kind, spec.IO.InputPath, spec.IO.OutputPath)
}

// StepSkipped implements pipeline.Observer.
func (fl *FileLogger) StepSkipped(run pipeline.RunInfo, step string) {
	fl.info("Step %s skipped", step)
}

// StepCompleted implements pipeline.Observer. The full result is written to
// steps/<run>-<step>.json.
func (fl *FileLogger) StepCompleted(run pipeline.RunInfo, step string, result models.StepResult, elapsed time.Duration) {
	fl.info("Step %s completed in %.1fs (%d artifacts)", step, elapsed.Seconds(), len(result.Artifacts()))

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fl.Log(execution.LevelWarn, fmt.Sprintf("failed to encode result of step %s: %v", step, err))
		return
	}
	path := filepath.Join(fl.stepsDir, fmt.Sprintf("%s-%s.json", shortID(run.RunID), sanitize(step)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		fl.Log(execution.LevelWarn, fmt.Sprintf("failed to write step log %s: %v", path, err))
	}
}

// StepFailed implements pipeline.Observer.
func (fl *FileLogger) StepFailed(run pipeline.RunInfo, step string, err error) {
	fl.writeRunLog(fmt.Sprintf("[%s] [ERROR] Step %s failed: %v\n", timestamp(), step, err))
}

// RunCompleted implements pipeline.Observer.
func (fl *FileLogger) RunCompleted(run pipeline.RunInfo, result *models.PipelineResult) {
	if result == nil || !fl.shouldLog("info") {
		return
	}
	ts := timestamp()
	fl.writeRunLog(fmt.Sprintf(
		"\n[%s] === RUN SUMMARY ===\n"+
			"[%s] Process:      %s\n"+
			"[%s] Run:          %s\n"+
			"[%s] Status:       SUCCESS\n"+
			"[%s] Total time:   %.1fs\n"+
			"[%s] Artifacts:    %d\n"+
			"[%s] Completed at: %s\n",
		ts,
		ts, run.ProcessID,
		ts, run.RunID,
		ts,
		ts, result.Duration.Seconds(),
		ts, len(result.Artifacts),
		ts, time.Now().Format(time.RFC3339),
	))
}

// RunFailed implements pipeline.Observer.
func (fl *FileLogger) RunFailed(run pipeline.RunInfo, err error) {
	fl.writeRunLog(fmt.Sprintf("\n[%s] === RUN FAILED ===\n[%s] %v\n", timestamp(), timestamp(), err))
}

func (fl *FileLogger) writeRunLog(s string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return
	}
	fl.runLog.WriteString(s)
}

// sanitize makes a step name safe for use in a file name.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
