package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/relay/internal/execution"
	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/pipeline"
)

// Recorder writes run lifecycle events to a Store. It implements
// pipeline.Observer. Write failures are logged and never reach the run.
type Recorder struct {
	store  *Store
	logger execution.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder. logger may be nil.
func NewRecorder(store *Store, logger execution.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

func (r *Recorder) warn(err error) {
	if err != nil {
		execution.SafeLog(r.logger, execution.LevelWarn, fmt.Sprintf("history: %v", err))
	}
}

// RunStarted implements pipeline.Observer.
func (r *Recorder) RunStarted(run pipeline.RunInfo, steps []string) {
	r.warn(r.store.StartRun(context.Background(), &Run{
		ID:        run.RunID,
		ProcessID: run.ProcessID,
		StepCount: len(steps),
		StartedAt: run.StartedAt,
	}))
}

// StepStarted implements pipeline.Observer.
func (r *Recorder) StepStarted(run pipeline.RunInfo, step string, spec models.TaskSpec) {
	_, err := r.store.RecordStep(context.Background(), &StepExecution{
		RunID:  run.RunID,
		Step:   step,
		Task:   spec.Name,
		Kind:   spec.Kind.String(),
		Title:  spec.Title,
		Status: StepRunning,
	})
	r.warn(err)
}

// StepSkipped implements pipeline.Observer.
func (r *Recorder) StepSkipped(run pipeline.RunInfo, step string) {
	_, err := r.store.RecordStep(context.Background(), &StepExecution{
		RunID:  run.RunID,
		Step:   step,
		Status: StepSkipped,
	})
	r.warn(err)
}

// StepCompleted implements pipeline.Observer.
func (r *Recorder) StepCompleted(run pipeline.RunInfo, step string, result models.StepResult, elapsed time.Duration) {
	data, err := json.Marshal(result)
	if err != nil {
		r.warn(fmt.Errorf("encode result of step %s: %w", step, err))
	}
	r.warn(r.store.FinishStep(context.Background(), &StepExecution{
		RunID:         run.RunID,
		Step:          step,
		Status:        StepCompleted,
		Duration:      elapsed,
		ArtifactCount: len(result.Artifacts()),
		Result:        string(data),
	}))
}

// StepFailed implements pipeline.Observer.
func (r *Recorder) StepFailed(run pipeline.RunInfo, step string, err error) {
	r.warn(r.store.FinishStep(context.Background(), &StepExecution{
		RunID:        run.RunID,
		Step:         step,
		Status:       StepFailed,
		ErrorMessage: err.Error(),
		FailurePhase: PhaseName(err),
	}))
}

// RunCompleted implements pipeline.Observer.
func (r *Recorder) RunCompleted(run pipeline.RunInfo, result *models.PipelineResult) {
	if result == nil {
		return
	}
	r.warn(r.store.FinishRun(context.Background(), run.RunID, r.now(), result.Duration, len(result.Artifacts), result.Summary))
}

// RunFailed implements pipeline.Observer.
func (r *Recorder) RunFailed(run pipeline.RunInfo, err error) {
	step, _ := pipeline.FailedStep(err)
	r.warn(r.store.FailRun(context.Background(), run.RunID, r.now(), step, PhaseName(err), err.Error()))
}

// PhaseName returns the short name of the failure phase in err's chain, or
// "definition" for definition errors and "" when none matches.
func PhaseName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pipeline.ErrBuild):
		return "build"
	case errors.Is(err, pipeline.ErrDelegation):
		return "delegation"
	case errors.Is(err, pipeline.ErrValidation):
		return "validation"
	case errors.Is(err, pipeline.ErrCancelled):
		return "cancelled"
	case errors.Is(err, pipeline.ErrAggregation):
		return "aggregation"
	case errors.Is(err, models.ErrDefinition):
		return "definition"
	default:
		return ""
	}
}
