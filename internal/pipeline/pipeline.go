// Package pipeline is the process execution kernel. It drives a fixed,
// ordered list of steps through an execution.Context, validates every step
// result against its task's schema, accumulates artifacts in step order and
// aggregates the final PipelineResult.
//
// Data flows forward only: a step's condition and arguments are computed
// from the results of steps declared before it and from the run inputs.
// Steps run one at a time, except members of a Parallel group, which run
// concurrently and merge in declaration order.
package pipeline

import (
	"fmt"

	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/task"
)

// Inputs are the top-level arguments of a run.
type Inputs map[string]interface{}

// Get resolves a dotted path inside the inputs.
func (in Inputs) Get(path string) (interface{}, bool) {
	if in == nil {
		return nil, false
	}
	return models.Lookup(map[string]interface{}(in), path)
}

// Results maps step names to the validated results of executed steps.
// Skipped steps are absent.
type Results map[string]models.StepResult

// Get returns the result recorded for step.
func (r Results) Get(step string) (models.StepResult, bool) {
	res, ok := r[step]
	return res, ok
}

// Has reports whether step ran and recorded a result.
func (r Results) Has(step string) bool {
	_, ok := r[step]
	return ok
}

// Field resolves a dotted path inside the result of step.
func (r Results) Field(step, path string) (interface{}, bool) {
	res, ok := r[step]
	if !ok {
		return nil, false
	}
	return res.Field(path)
}

// Predicate decides whether a step runs. A nil Predicate always runs.
type Predicate func(results Results, inputs Inputs) bool

// ArgsBuilder derives a step's arguments from prior results and the inputs.
type ArgsBuilder func(results Results, inputs Inputs) (models.Args, error)

// Step is one scheduled invocation of a task.
type Step struct {
	Name     string
	Task     *task.Definition
	When     Predicate   // Optional inclusion condition
	Args     ArgsBuilder // Optional; its output overrides Defaults
	Defaults models.Args // Step-local default arguments

	members []Step
}

// Parallel groups steps that only depend on results merged before the
// group. Members run concurrently; their results and artifacts are merged
// in declaration order once all have finished.
func Parallel(name string, steps ...Step) Step {
	members := make([]Step, len(steps))
	copy(members, steps)
	return Step{Name: name, members: members}
}

// IsGroup reports whether the step is a Parallel group.
func (s Step) IsGroup() bool {
	return s.members != nil
}

// Members returns the steps of a Parallel group.
func (s Step) Members() []Step {
	return append([]Step(nil), s.members...)
}

// args assembles the argument set: defaults, overridden by the builder.
func (s Step) args(results Results, inputs Inputs) (models.Args, error) {
	args := models.Args{}
	for k, v := range s.Defaults {
		args[k] = v
	}
	if s.Args == nil {
		return args, nil
	}
	built, err := s.Args(results, inputs)
	if err != nil {
		return nil, err
	}
	for k, v := range built {
		args[k] = v
	}
	return args, nil
}

// SummaryField maps a step result field onto a top-level summary key.
type SummaryField struct {
	Key      string // Summary key
	Step     string // Source step
	Path     string // Dotted path inside the step result
	Required bool   // Fail the run when the field is absent
}

// SummarizeFunc computes extra summary fields after all steps ran. Its keys
// override SummaryField entries.
type SummarizeFunc func(results Results, inputs Inputs) (map[string]interface{}, error)

// Definition is a process: a statically known, ordered list of steps plus
// the static mapping from step results to the external summary.
type Definition struct {
	ID          string
	Description string
	Steps       []Step
	Echo        []string // Input keys echoed into the result
	Summary     []SummaryField
	Summarize   SummarizeFunc
}

// Validate checks the definition for structural errors. All problems are
// definition errors, reported before any step runs.
func (d *Definition) Validate() error {
	if d == nil {
		return &DefinitionError{Message: "definition is nil"}
	}
	if d.ID == "" {
		return &DefinitionError{Message: "process id is required"}
	}
	if len(d.Steps) == 0 {
		return &DefinitionError{Process: d.ID, Message: "at least one step is required"}
	}

	seen := make(map[string]bool)
	for _, step := range d.Steps {
		if err := d.validateStep(step, seen, false); err != nil {
			return err
		}
	}

	echoed := make(map[string]bool)
	for _, key := range d.Echo {
		if key == "" {
			return &DefinitionError{Process: d.ID, Message: "echo key is required"}
		}
		if echoed[key] {
			return &DefinitionError{Process: d.ID, Message: fmt.Sprintf("duplicate echo key %q", key)}
		}
		echoed[key] = true
	}

	// Results are recorded per executable step, never under a group name
	executable := make(map[string]bool)
	for _, name := range d.StepNames() {
		executable[name] = true
	}

	keys := make(map[string]bool)
	for _, f := range d.Summary {
		if f.Key == "" {
			return &DefinitionError{Process: d.ID, Message: "summary field key is required"}
		}
		if keys[f.Key] {
			return &DefinitionError{Process: d.ID, Message: fmt.Sprintf("duplicate summary key %q", f.Key)}
		}
		keys[f.Key] = true
		if !executable[f.Step] {
			if seen[f.Step] {
				return &DefinitionError{Process: d.ID, Message: fmt.Sprintf("summary key %q references parallel group %q; name one of its steps", f.Key, f.Step)}
			}
			return &DefinitionError{Process: d.ID, Message: fmt.Sprintf("summary key %q references unknown step %q", f.Key, f.Step)}
		}
	}
	return nil
}

func (d *Definition) validateStep(step Step, seen map[string]bool, inGroup bool) error {
	if step.Name == "" {
		return &DefinitionError{Process: d.ID, Message: "step name is required"}
	}
	if seen[step.Name] {
		return &DefinitionError{Process: d.ID, Step: step.Name, Message: "duplicate step name"}
	}
	seen[step.Name] = true

	if step.IsGroup() {
		if inGroup {
			return &DefinitionError{Process: d.ID, Step: step.Name, Message: "parallel groups cannot be nested"}
		}
		if len(step.members) == 0 {
			return &DefinitionError{Process: d.ID, Step: step.Name, Message: "parallel group has no steps"}
		}
		if step.Task != nil {
			return &DefinitionError{Process: d.ID, Step: step.Name, Message: "parallel group cannot have a task"}
		}
		for _, member := range step.members {
			if err := d.validateStep(member, seen, true); err != nil {
				return err
			}
		}
		return nil
	}

	if step.Task == nil {
		return &DefinitionError{Process: d.ID, Step: step.Name, Message: "task is required"}
	}
	return nil
}

// StepNames lists executable step names in declaration order, with group
// members in place of their group.
func (d *Definition) StepNames() []string {
	var names []string
	for _, step := range d.Steps {
		if step.IsGroup() {
			for _, m := range step.members {
				names = append(names, m.Name)
			}
			continue
		}
		names = append(names, step.Name)
	}
	return names
}
