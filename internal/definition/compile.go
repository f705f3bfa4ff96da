package definition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/pipeline"
	"github.com/harrison/relay/internal/task"
)

// Process is a compiled process file, ready to run.
type Process struct {
	Definition *pipeline.Definition
	Tasks      *task.Registry
	Kinds      map[string]models.Kind // Worker kind per task name
	Inputs     []InputDecl
	Path       string

	// Dependencies maps each step to the earlier steps it reads, sorted.
	Dependencies map[string][]string
}

// Compile checks a parsed file and compiles it into a Process. Every problem
// is a *LoadError; unknown tasks, duplicate steps and references to steps
// that are not declared earlier are rejected here.
func Compile(f *File) (*Process, error) {
	source := f.Path
	if source == "" {
		source = f.ID
	}
	fail := func(section string, err error) error {
		return &LoadError{Source: source, Section: section, Err: err}
	}

	if f.ID == "" {
		return nil, fail("", errors.New("id is required"))
	}

	inputs := make(map[string]bool, len(f.Inputs))
	for _, in := range f.Inputs {
		if in.Name == "" {
			return nil, fail("inputs", errors.New("input name is required"))
		}
		if inputs[in.Name] {
			return nil, fail("inputs", fmt.Errorf("duplicate input %q", in.Name))
		}
		inputs[in.Name] = true
	}
	for _, key := range f.Echo {
		if len(f.Inputs) > 0 && !inputs[key] {
			return nil, fail("echo", fmt.Errorf("unknown input %q", key))
		}
	}

	registry := task.NewRegistry()
	kinds := make(map[string]models.Kind, len(f.Tasks))
	for _, decl := range f.Tasks {
		section := "task " + decl.Name
		tt, err := compileTask(decl)
		if err != nil {
			return nil, fail(section, err)
		}
		def, err := task.Define(decl.Name, tt.builder(), decl.Labels...)
		if err != nil {
			return nil, fail(section, err)
		}
		if err := registry.Register(def); err != nil {
			return nil, fail(section, err)
		}
		kinds[decl.Name] = tt.kind
	}

	c := &compiler{
		registry: registry,
		inputs:   inputs,
		names:    map[string]bool{},
		declared: map[string]bool{},
		deps:     map[string][]string{},
	}
	if len(f.Inputs) == 0 {
		c.inputs = nil
	}

	var steps []pipeline.Step
	for _, decl := range f.Steps {
		step, err := c.step(decl)
		if err != nil {
			return nil, fail("step "+decl.Name, err)
		}
		steps = append(steps, step)
	}

	summary := make([]pipeline.SummaryField, 0, len(f.Summary))
	for _, s := range f.Summary {
		if !c.declared[s.Step] {
			return nil, fail("summary", fmt.Errorf("key %q: unknown step %q", s.Key, s.Step))
		}
		summary = append(summary, pipeline.SummaryField{Key: s.Key, Step: s.Step, Path: s.Path, Required: s.Required})
	}

	def := &pipeline.Definition{
		ID:          f.ID,
		Description: f.Description,
		Steps:       steps,
		Echo:        append([]string(nil), f.Echo...),
		Summary:     summary,
	}
	if err := def.Validate(); err != nil {
		return nil, fail("", err)
	}

	return &Process{
		Definition:   def,
		Tasks:        registry,
		Kinds:        kinds,
		Inputs:       append([]InputDecl(nil), f.Inputs...),
		Path:         f.Path,
		Dependencies: c.deps,
	}, nil
}

// compiler carries the state of one Compile call.
type compiler struct {
	registry *task.Registry
	inputs   map[string]bool // nil when the file declares no inputs
	names    map[string]bool // Step and group names seen so far
	declared map[string]bool // Steps whose results later steps may read
	deps     map[string][]string
}

func (c *compiler) step(decl StepDecl) (pipeline.Step, error) {
	if decl.Name == "" {
		return pipeline.Step{}, errors.New("name is required")
	}
	if c.names[decl.Name] {
		return pipeline.Step{}, fmt.Errorf("duplicate step %q", decl.Name)
	}

	if decl.Parallel == nil {
		step, err := c.single(decl)
		if err != nil {
			return pipeline.Step{}, err
		}
		c.names[decl.Name] = true
		c.declared[decl.Name] = true
		return step, nil
	}

	if decl.Task != "" || decl.Args != nil || decl.Defaults != nil {
		return pipeline.Step{}, errors.New("a parallel group cannot declare task, args or defaults")
	}
	if len(decl.Parallel) == 0 {
		return pipeline.Step{}, errors.New("parallel group has no steps")
	}

	// Members only see results merged before the group
	members := make([]pipeline.Step, 0, len(decl.Parallel))
	seen := map[string]bool{decl.Name: true}
	for _, m := range decl.Parallel {
		if m.Parallel != nil {
			return pipeline.Step{}, fmt.Errorf("step %s: parallel groups cannot be nested", m.Name)
		}
		if seen[m.Name] || c.names[m.Name] {
			return pipeline.Step{}, fmt.Errorf("duplicate step %q", m.Name)
		}
		seen[m.Name] = true
		step, err := c.single(m)
		if err != nil {
			return pipeline.Step{}, fmt.Errorf("step %s: %w", m.Name, err)
		}
		members = append(members, step)
	}

	group := pipeline.Parallel(decl.Name, members...)
	if decl.When != nil {
		pred, refs, err := c.condition(decl.When)
		if err != nil {
			return pipeline.Step{}, err
		}
		if err := c.checkRefs(decl.Name, refs); err != nil {
			return pipeline.Step{}, err
		}
		group.When = pred
	}

	for _, m := range decl.Parallel {
		c.names[m.Name] = true
		c.declared[m.Name] = true
	}
	c.names[decl.Name] = true
	return group, nil
}

// single compiles a task step. It does not mark the step declared.
func (c *compiler) single(decl StepDecl) (pipeline.Step, error) {
	if decl.Name == "" {
		return pipeline.Step{}, errors.New("name is required")
	}
	if decl.Task == "" {
		return pipeline.Step{}, errors.New("task is required")
	}
	def, ok := c.registry.Lookup(decl.Task)
	if !ok {
		return pipeline.Step{}, fmt.Errorf("unknown task %q", decl.Task)
	}

	step := pipeline.Step{Name: decl.Name, Task: def}
	var refs []Ref

	if decl.When != nil {
		pred, whenRefs, err := c.condition(decl.When)
		if err != nil {
			return pipeline.Step{}, err
		}
		step.When = pred
		refs = append(refs, whenRefs...)
	}

	builder, argRefs, err := argsBuilder(decl.Args)
	if err != nil {
		return pipeline.Step{}, err
	}
	step.Args = builder
	refs = append(refs, argRefs...)

	if decl.Defaults != nil {
		step.Defaults = models.Args(deepCopy(decl.Defaults).(map[string]interface{}))
	}

	if err := c.checkRefs(decl.Name, refs); err != nil {
		return pipeline.Step{}, err
	}
	return step, nil
}

func (c *compiler) condition(cond *Condition) (pipeline.Predicate, []Ref, error) {
	refs, err := cond.refs()
	if err != nil {
		return nil, nil, fmt.Errorf("when: %w", err)
	}
	pred, err := cond.compile()
	if err != nil {
		return nil, nil, fmt.Errorf("when: %w", err)
	}
	return pred, refs, nil
}

// checkRefs rejects references to steps that are not declared earlier and,
// when the file declares its inputs, to undeclared inputs.
func (c *compiler) checkRefs(step string, refs []Ref) error {
	deps := map[string]bool{}
	for _, ref := range refs {
		switch ref.Source {
		case sourceSteps:
			if ref.Step == step {
				return fmt.Errorf("reference %s: a step cannot read its own result", ref)
			}
			if !c.declared[ref.Step] {
				return fmt.Errorf("reference %s: step %q is not declared before this step", ref, ref.Step)
			}
			deps[ref.Step] = true
		case sourceInputs:
			if c.inputs != nil && !c.inputs[ref.InputName()] {
				return fmt.Errorf("reference %s: unknown input %q", ref, ref.InputName())
			}
		}
	}
	if len(deps) == 0 {
		return nil
	}
	names := make([]string, 0, len(deps))
	for d := range deps {
		names = append(names, d)
	}
	sort.Strings(names)
	c.deps[step] = names
	return nil
}

// ResolveInputs applies declared defaults to given and checks required
// inputs. Undeclared inputs are passed through unchanged.
func (p *Process) ResolveInputs(given map[string]interface{}) (pipeline.Inputs, error) {
	out := make(pipeline.Inputs, len(given)+len(p.Inputs))
	for k, v := range given {
		out[k] = v
	}
	var missing []string
	for _, in := range p.Inputs {
		if _, ok := out[in.Name]; ok {
			continue
		}
		if in.Default != nil {
			out[in.Name] = deepCopy(in.Default)
			continue
		}
		if in.Required {
			missing = append(missing, in.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("process %s: missing required inputs: %v", p.Definition.ID, missing)
	}
	return out, nil
}
