// Package worker implements the capabilities that perform the substantive
// work behind a task: delegated agents, in-process functions and external
// commands. Workers return the raw JSON result; validation happens in the
// execution runtime.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harrison/relay/internal/models"
)

// Worker performs one task invocation.
type Worker interface {
	Execute(ctx context.Context, spec models.TaskSpec, args models.Args) (json.RawMessage, error)
}

// Func adapts an in-process function into a Worker (local computation).
type Func func(ctx context.Context, spec models.TaskSpec, args models.Args) (models.StepResult, error)

// Execute implements Worker by encoding the function's result.
func (f Func) Execute(ctx context.Context, spec models.TaskSpec, args models.Args) (json.RawMessage, error) {
	result, err := f(ctx, spec, args)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result of task %s: %w", spec.Name, err)
	}
	return data, nil
}

// Request is the JSON document handed to external workers.
type Request struct {
	Task         string                 `json:"task"`
	Title        string                 `json:"title"`
	Worker       models.WorkerPayload   `json:"worker"`
	Args         models.Args            `json:"args"`
	ResultSchema map[string]interface{} `json:"result_schema"`
}

// NewRequest builds the request document for spec and args. The result
// schema always declares the artifacts field.
func NewRequest(spec models.TaskSpec, args models.Args) Request {
	if args == nil {
		args = models.Args{}
	}
	return Request{
		Task:         spec.Name,
		Title:        spec.Title,
		Worker:       spec.Worker,
		Args:         args,
		ResultSchema: models.WithArtifacts(spec.ResultSchema),
	}
}

// Passthrough is the local worker for declarative tasks: the result is the
// argument set itself. Arguments that already carry artifacts keep them.
var Passthrough = Func(func(ctx context.Context, spec models.TaskSpec, args models.Args) (models.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := models.StepResult{}
	for k, v := range args {
		result[k] = v
	}
	if _, ok := result[models.ArtifactsField]; !ok {
		result[models.ArtifactsField] = []models.Artifact{}
	}
	return result, nil
})
