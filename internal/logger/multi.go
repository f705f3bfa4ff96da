package logger

import (
	"time"

	"github.com/harrison/relay/internal/execution"
	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/pipeline"
)

// Sink is a logger that accepts both log lines and run events.
type Sink interface {
	execution.Logger
	pipeline.Observer
}

// MultiLogger fans out every call to all of its sinks.
type MultiLogger struct {
	sinks []Sink
}

// NewMultiLogger creates a MultiLogger. Nil sinks are dropped.
func NewMultiLogger(sinks ...Sink) *MultiLogger {
	m := &MultiLogger{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Log implements execution.Logger.
func (m *MultiLogger) Log(level execution.Level, msg string) {
	for _, s := range m.sinks {
		s.Log(level, msg)
	}
}

// LogRateLimitWait implements claude.WaitLogger for sinks that support it.
func (m *MultiLogger) LogRateLimitWait(remaining time.Duration) {
	for _, s := range m.sinks {
		if w, ok := s.(interface{ LogRateLimitWait(time.Duration) }); ok {
			w.LogRateLimitWait(remaining)
		}
	}
}

// RunStarted implements pipeline.Observer.
func (m *MultiLogger) RunStarted(run pipeline.RunInfo, steps []string) {
	for _, s := range m.sinks {
		s.RunStarted(run, steps)
	}
}

// StepStarted implements pipeline.Observer.
func (m *MultiLogger) StepStarted(run pipeline.RunInfo, step string, spec models.TaskSpec) {
	for _, s := range m.sinks {
		s.StepStarted(run, step, spec)
	}
}

// StepSkipped implements pipeline.Observer.
func (m *MultiLogger) StepSkipped(run pipeline.RunInfo, step string) {
	for _, s := range m.sinks {
		s.StepSkipped(run, step)
	}
}

// StepCompleted implements pipeline.Observer.
func (m *MultiLogger) StepCompleted(run pipeline.RunInfo, step string, result models.StepResult, elapsed time.Duration) {
	for _, s := range m.sinks {
		s.StepCompleted(run, step, result, elapsed)
	}
}

// StepFailed implements pipeline.Observer.
func (m *MultiLogger) StepFailed(run pipeline.RunInfo, step string, err error) {
	for _, s := range m.sinks {
		s.StepFailed(run, step, err)
	}
}

// RunCompleted implements pipeline.Observer.
func (m *MultiLogger) RunCompleted(run pipeline.RunInfo, result *models.PipelineResult) {
	for _, s := range m.sinks {
		s.RunCompleted(run, result)
	}
}

// RunFailed implements pipeline.Observer.
func (m *MultiLogger) RunFailed(run pipeline.RunInfo, err error) {
	for _, s := range m.sinks {
		s.RunFailed(run, err)
	}
}
