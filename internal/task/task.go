// Package task defines task specifications and the factories that bind them
// to a single invocation's arguments.
//
// A Definition pairs a unique task name with a pure Builder. Building a
// definition never performs I/O or delegates work; it only describes the
// unit of work the execution context will later run.
package task

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/schema"
)

// Context carries per-invocation identity into a Builder.
type Context struct {
	RunID    string // Pipeline run the invocation belongs to
	EffectID string // Stable id for this (run, step) invocation
	IODir    string // Root under which default input/output locations are derived
}

// Builder produces the TaskSpec for one invocation. It must be a pure
// function of its arguments.
type Builder func(args models.Args, tc Context) (models.TaskSpec, error)

// DefinitionError reports a malformed task definition. It is fatal at
// definition load time.
type DefinitionError struct {
	Task    string
	Message string
}

// Error implements the error interface for DefinitionError.
func (e *DefinitionError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("task definition: %s", e.Message)
	}
	return fmt.Sprintf("task definition %s: %s", e.Task, e.Message)
}

// Is matches models.ErrDefinition.
func (e *DefinitionError) Is(target error) bool {
	return target == models.ErrDefinition
}

// Definition is a named TaskSpec factory.
type Definition struct {
	name    string
	builder Builder
	labels  []string
}

// Define creates a Definition. An empty name or nil builder is a DefinitionError.
func Define(name string, builder Builder, labels ...string) (*Definition, error) {
	if name == "" {
		return nil, &DefinitionError{Message: "name is required"}
	}
	if builder == nil {
		return nil, &DefinitionError{Task: name, Message: "builder is required"}
	}
	return &Definition{
		name:    name,
		builder: builder,
		labels:  append([]string(nil), labels...),
	}, nil
}

// MustDefine is like Define but panics on error. Intended for package-level
// pipeline definitions written in Go.
func MustDefine(name string, builder Builder, labels ...string) *Definition {
	def, err := Define(name, builder, labels...)
	if err != nil {
		panic(err)
	}
	return def
}

// Name returns the task name.
func (d *Definition) Name() string {
	return d.name
}

// Labels returns the classification labels declared with the definition.
func (d *Definition) Labels() []string {
	return append([]string(nil), d.labels...)
}

// Build binds the definition to an argument set. The returned spec always
// carries the definition's name, the union of declared labels, and IO
// locations derived from the effect id when the builder leaves them empty.
// A spec that fails validation, or whose result schema does not compile,
// is a DefinitionError.
func (d *Definition) Build(args models.Args, tc Context) (models.TaskSpec, error) {
	spec, err := d.builder(args, tc)
	if err != nil {
		return models.TaskSpec{}, fmt.Errorf("build task %s: %w", d.name, err)
	}

	spec.Name = d.name
	if spec.Kind == "" {
		spec.Kind = models.KindAgent
	}
	spec.Labels = mergeLabels(d.labels, spec.Labels)

	if tc.EffectID != "" {
		defaults := IOPaths(tc.IODir, tc.EffectID)
		if spec.IO.InputPath == "" {
			spec.IO.InputPath = defaults.InputPath
		}
		if spec.IO.OutputPath == "" {
			spec.IO.OutputPath = defaults.OutputPath
		}
	}

	if err := spec.Validate(); err != nil {
		return models.TaskSpec{}, &DefinitionError{Task: d.name, Message: err.Error()}
	}
	if _, err := schema.Compile(models.WithArtifacts(spec.ResultSchema)); err != nil {
		return models.TaskSpec{}, &DefinitionError{Task: d.name, Message: err.Error()}
	}
	return spec, nil
}

// effectNamespace scopes effect ids generated by this package.
var effectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("relay/effect"))

// NewEffectID derives a deterministic effect id for a step within a run.
// The same (run, step) pair always yields the same id; distinct runs never collide.
func NewEffectID(runID, step string) string {
	return uuid.NewSHA1(effectNamespace, []byte(runID+"/"+step)).String()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// IOPaths returns the default input/output locations for an effect.
func IOPaths(dir, effectID string) models.IOContract {
	base := filepath.Join(dir, effectID)
	return models.IOContract{
		InputPath:  filepath.Join(base, "input.json"),
		OutputPath: filepath.Join(base, "output.json"),
	}
}

// NewContext builds the Context for one step invocation.
func NewContext(runID, step, ioDir string) Context {
	return Context{
		RunID:    runID,
		EffectID: NewEffectID(runID, step),
		IODir:    ioDir,
	}
}

// StaticBuilder returns a Builder that always yields a copy of spec.
// Useful for tasks whose descriptor does not depend on arguments.
func StaticBuilder(spec models.TaskSpec) Builder {
	return func(args models.Args, tc Context) (models.TaskSpec, error) {
		out := spec
		out.Labels = append([]string(nil), spec.Labels...)
		out.Worker.Instructions = append([]string(nil), spec.Worker.Instructions...)
		return out, nil
	}
}

func mergeLabels(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, l := range append(append([]string(nil), a...), b...) {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

