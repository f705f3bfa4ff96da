package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/relay/internal/execution"
	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/schema"
	"github.com/harrison/relay/internal/task"
	"golang.org/x/sync/errgroup"
)

// Run is the mutable, single-owner state of one pipeline execution.
type Run struct {
	ID        string
	ProcessID string
	StartTime time.Time
	Success   bool
	Artifacts []models.Artifact // Append-only, in step completion order
	Results   Results
}

func (r *Run) info() RunInfo {
	return RunInfo{ProcessID: r.ProcessID, RunID: r.ID, StartedAt: r.StartTime}
}

// record merges a validated step result into the run.
func (r *Run) record(step string, result models.StepResult) {
	r.Artifacts = append(r.Artifacts, result.Artifacts()...)
	r.Results[step] = result
}

func (r *Run) artifactsSnapshot() []models.Artifact {
	out := make([]models.Artifact, len(r.Artifacts))
	copy(out, r.Artifacts)
	return out
}

// Executor drives process definitions. It holds no per-run state and is
// safe for concurrent use by independent runs.
type Executor struct {
	observers []Observer
	ioDir     string
	newRunID  func() string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithIODir sets the root for default task input/output locations.
func WithIODir(dir string) ExecutorOption {
	return func(e *Executor) {
		e.ioDir = dir
	}
}

// WithRunIDs sets the run id generator.
func WithRunIDs(fn func() string) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.newRunID = fn
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{newRunID: task.NewRunID}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs def with a default Executor.
func Process(ctx context.Context, def *Definition, inputs Inputs, ec execution.Context) (*models.PipelineResult, error) {
	return NewExecutor().Process(ctx, def, inputs, ec)
}

// Process runs every step of def in order and aggregates the result.
// Any step failure aborts the remaining steps; no partial result is
// returned. Steps of a Parallel group call ec.Task concurrently.
func (e *Executor) Process(ctx context.Context, def *Definition, inputs Inputs, ec execution.Context) (*models.PipelineResult, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if ec == nil {
		return nil, &DefinitionError{Process: def.ID, Message: "execution context is required"}
	}
	// Copy so that caller mutations cannot leak into the run
	inputs = cloneInputs(inputs)

	newRunID := e.newRunID
	if newRunID == nil {
		newRunID = task.NewRunID
	}
	run := &Run{
		ID:        newRunID(),
		ProcessID: def.ID,
		StartTime: ec.Now(),
		Success:   true,
		Artifacts: []models.Artifact{},
		Results:   Results{},
	}
	n := &notifier{observers: e.observers}

	n.each(func(o Observer) { o.RunStarted(run.info(), def.StepNames()) })
	execution.SafeLog(ec, execution.LevelDebug, fmt.Sprintf("process %s: run %s started (%d steps)", def.ID, run.ID, len(def.StepNames())))

	for _, step := range def.Steps {
		var err error
		if step.IsGroup() {
			err = e.runGroup(ctx, def, run, step, inputs, ec, n)
		} else {
			err = e.runSequential(ctx, def, run, step, inputs, ec, n)
		}
		if err != nil {
			return nil, e.fail(run, err, ec, n)
		}
	}

	result, err := aggregate(def, run, inputs, ec)
	if err != nil {
		return nil, e.fail(run, err, ec, n)
	}

	n.each(func(o Observer) { o.RunCompleted(run.info(), result) })
	execution.SafeLog(ec, execution.LevelDebug, fmt.Sprintf("process %s: run %s completed in %s with %d artifacts",
		def.ID, run.ID, result.Duration, len(result.Artifacts)))
	return result, nil
}

func (e *Executor) fail(run *Run, err error, ec execution.Context, n *notifier) error {
	n.each(func(o Observer) { o.RunFailed(run.info(), err) })
	execution.SafeLog(ec, execution.LevelError, fmt.Sprintf("process %s: run %s failed: %v", run.ProcessID, run.ID, err))
	return err
}

// outcome is the result of executing (or skipping) one step.
type outcome struct {
	skipped bool
	result  models.StepResult
}

func (e *Executor) runSequential(ctx context.Context, def *Definition, run *Run, step Step, inputs Inputs, ec execution.Context, n *notifier) error {
	out, err := e.execute(ctx, def, run, run.Results, step, inputs, ec, n)
	if err != nil {
		return err
	}
	if !out.skipped {
		run.record(step.Name, out.result)
	}
	return nil
}

// runGroup runs the members of a Parallel group against the results merged
// before the group, then merges their results in declaration order.
func (e *Executor) runGroup(ctx context.Context, def *Definition, run *Run, group Step, inputs Inputs, ec execution.Context, n *notifier) error {
	if group.When != nil && !group.When(run.Results, inputs) {
		for _, m := range group.members {
			name := m.Name
			n.each(func(o Observer) { o.StepSkipped(run.info(), name) })
		}
		execution.SafeLog(ec, execution.LevelDebug, fmt.Sprintf("process %s: group %s skipped", def.ID, group.Name))
		return nil
	}

	// Members only read this snapshot; the run is not mutated until Wait returns
	snapshot := make(Results, len(run.Results))
	for k, v := range run.Results {
		snapshot[k] = v
	}

	outcomes := make([]outcome, len(group.members))
	g, gctx := errgroup.WithContext(ctx)
	for i, member := range group.members {
		i, member := i, member
		g.Go(func() error {
			out, err := e.execute(gctx, def, run, snapshot, member, inputs, ec, n)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, member := range group.members {
		if !outcomes[i].skipped {
			run.record(member.Name, outcomes[i].result)
		}
	}
	return nil
}

// execute evaluates the step's condition, builds its TaskSpec, delegates it
// and re-validates the result. It never mutates run.
func (e *Executor) execute(ctx context.Context, def *Definition, run *Run, results Results, step Step, inputs Inputs, ec execution.Context, n *notifier) (outcome, error) {
	info := run.info()

	if err := ctx.Err(); err != nil {
		return outcome{}, e.stepError(run, step.Name, ErrCancelled, err, n)
	}

	if step.When != nil && !step.When(results, inputs) {
		n.each(func(o Observer) { o.StepSkipped(info, step.Name) })
		execution.SafeLog(ec, execution.LevelDebug, fmt.Sprintf("process %s: step %s skipped", def.ID, step.Name))
		return outcome{skipped: true}, nil
	}

	args, err := step.args(results, inputs)
	if err != nil {
		return outcome{}, e.stepError(run, step.Name, ErrBuild, fmt.Errorf("assemble args: %w", err), n)
	}

	spec, err := step.Task.Build(args, task.NewContext(run.ID, step.Name, e.ioDir))
	if err != nil {
		return outcome{}, e.stepError(run, step.Name, ErrBuild, err, n)
	}

	n.each(func(o Observer) { o.StepStarted(info, step.Name, spec) })
	execution.SafeLog(ec, execution.LevelDebug, fmt.Sprintf("process %s: step %s: %s", def.ID, step.Name, stepTitle(spec)))

	started := ec.Now()
	result, err := ec.Task(ctx, spec, args)
	if err != nil {
		return outcome{}, e.stepError(run, step.Name, classify(ctx, err), err, n)
	}

	// Re-validated here whatever the execution context did
	if err := schema.ValidateResult(spec.ResultSchema, result); err != nil {
		return outcome{}, e.stepError(run, step.Name, ErrValidation, fmt.Errorf("task %s: %w", spec.Name, err), n)
	}

	elapsed := ec.Now().Sub(started)
	if elapsed < 0 {
		elapsed = 0
	}
	n.each(func(o Observer) { o.StepCompleted(info, step.Name, result, elapsed) })
	execution.SafeLog(ec, execution.LevelDebug, fmt.Sprintf("process %s: step %s completed with %d artifacts", def.ID, step.Name, len(result.Artifacts())))

	return outcome{result: result}, nil
}

func (e *Executor) stepError(run *Run, step string, phase, err error, n *notifier) error {
	se := &StepError{
		Process:   run.ProcessID,
		RunID:     run.ID,
		Step:      step,
		Phase:     phase,
		Err:       err,
		Artifacts: run.artifactsSnapshot(),
	}
	n.each(func(o Observer) { o.StepFailed(run.info(), step, se) })
	return se
}

// classify maps an ec.Task error onto a failure phase.
func classify(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCancelled
	case schema.IsValidationError(err):
		return ErrValidation
	case errors.Is(err, models.ErrDefinition):
		return ErrBuild
	default:
		return ErrDelegation
	}
}

func stepTitle(spec models.TaskSpec) string {
	if spec.Title != "" {
		return spec.Title
	}
	return spec.Name
}

func cloneInputs(in Inputs) Inputs {
	out := make(Inputs, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
