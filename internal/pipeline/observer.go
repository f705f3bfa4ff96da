package pipeline

import (
	"sync"
	"time"

	"github.com/harrison/relay/internal/models"
)

// RunInfo identifies the run an event belongs to.
type RunInfo struct {
	ProcessID string
	RunID     string
	StartedAt time.Time
}

// Observer receives run lifecycle events. Events of one run are delivered
// one at a time; observers never affect control flow, and a panicking
// observer is ignored.
type Observer interface {
	RunStarted(run RunInfo, steps []string)
	StepStarted(run RunInfo, step string, spec models.TaskSpec)
	StepSkipped(run RunInfo, step string)
	StepCompleted(run RunInfo, step string, result models.StepResult, elapsed time.Duration)
	StepFailed(run RunInfo, step string, err error)
	RunCompleted(run RunInfo, result *models.PipelineResult)
	RunFailed(run RunInfo, err error)
}

// NopObserver implements Observer with no-ops. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo, []string) {}
func (NopObserver) StepStarted(RunInfo, string, models.TaskSpec) {}
func (NopObserver) StepSkipped(RunInfo, string) {}
func (NopObserver) StepCompleted(RunInfo, string, models.StepResult, time.Duration) {}
func (NopObserver) StepFailed(RunInfo, string, error) {}
func (NopObserver) RunCompleted(RunInfo, *models.PipelineResult) {}
func (NopObserver) RunFailed(RunInfo, error) {}

// notifier fans events out to observers, serialized per run.
type notifier struct {
	mu        sync.Mutex
	observers []Observer
}

func (n *notifier) each(fn func(o Observer)) {
	if len(n.observers) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, o := range n.observers {
		func() {
			defer func() { _ = recover() }()
			fn(o)
		}()
	}
}
