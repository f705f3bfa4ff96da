package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/relay/internal/iostore"
	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/schema"
	"github.com/harrison/relay/internal/worker"
)

// Runtime is the standard Context. It persists each task's input, hands the
// task to the worker registered for its kind, validates the result against
// the task's schema and persists the output. Safe for concurrent use.
type Runtime struct {
	clock  func() time.Time
	logger Logger
	store  iostore.Store

	mu      sync.RWMutex
	workers map[models.Kind]worker.Worker
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the clock read by Now.
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the log sink.
func WithLogger(l Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithStore sets where task IO objects are persisted.
func WithStore(s iostore.Store) Option {
	return func(r *Runtime) {
		if s != nil {
			r.store = s
		}
	}
}

// WithWorker registers w for tasks of kind.
func WithWorker(kind models.Kind, w worker.Worker) Option {
	return func(r *Runtime) {
		r.workers[kind] = w
	}
}

// NewRuntime creates a Runtime. Without options it uses the wall clock,
// discards logs and IO objects, and has no workers.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		clock:   time.Now,
		logger:  nopLogger{},
		store:   iostore.Discard{},
		workers: make(map[models.Kind]worker.Worker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetWorker registers or replaces the worker for kind.
func (r *Runtime) SetWorker(kind models.Kind, w worker.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[kind] = w
}

// Now implements Context.
func (r *Runtime) Now() time.Time {
	return r.clock()
}

// Log implements Context.
func (r *Runtime) Log(level Level, msg string) {
	SafeLog(r.logger, level, msg)
}

// Task implements Context. Worker failures are returned as *DelegationError,
// results that do not conform to the schema as *schema.ValidationError.
// No retries are attempted.
func (r *Runtime) Task(ctx context.Context, spec models.TaskSpec, args models.Args) (models.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	w, ok := r.workers[spec.Kind]
	r.mu.RUnlock()
	if !ok || w == nil {
		return nil, &DelegationError{Task: spec.Name, Kind: spec.Kind, Err: fmt.Errorf("%w %q", ErrNoWorker, spec.Kind)}
	}

	if args == nil {
		args = models.Args{}
	}
	if spec.IO.InputPath != "" {
		if err := r.persist(ctx, spec.IO.InputPath, args); err != nil {
			return nil, &IOError{Task: spec.Name, Op: "write input", Path: spec.IO.InputPath, Err: err}
		}
	}

	r.Log(LevelDebug, fmt.Sprintf("delegating task %s to %s worker", spec.Name, spec.Kind))
	raw, err := w.Execute(ctx, spec, args)
	if err != nil {
		return nil, &DelegationError{Task: spec.Name, Kind: spec.Kind, Err: err}
	}

	result, err := decodeResult(raw)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateResult(spec.ResultSchema, result); err != nil {
		return nil, fmt.Errorf("task %s: %w", spec.Name, err)
	}

	if spec.IO.OutputPath != "" {
		if err := r.persist(ctx, spec.IO.OutputPath, result); err != nil {
			return nil, &IOError{Task: spec.Name, Op: "write output", Path: spec.IO.OutputPath, Err: err}
		}
	}
	return result, nil
}

func (r *Runtime) persist(ctx context.Context, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return r.store.Write(ctx, path, data)
}

func decodeResult(raw json.RawMessage) (models.StepResult, error) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &schema.ValidationError{Problems: []string{fmt.Sprintf("result is not valid JSON: %v", err)}}
	}
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, &schema.ValidationError{Problems: []string{"result is not a JSON object"}}
	}
	return models.StepResult(obj), nil
}
