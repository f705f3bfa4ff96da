package definition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/pipeline"
)

// Reference sources
const (
	sourceInputs = "inputs"
	sourceSteps  = "steps"
)

// refPrefix marks a string argument as a reference expression.
// A doubled prefix escapes a literal leading "$".
const refPrefix = "$"

// Ref is a parsed reference expression: inputs.<path> or steps.<step>[.<path>].
type Ref struct {
	Source string // "inputs" or "steps"
	Step   string // Referenced step (steps only)
	Path   string // Dotted path below the source
}

// String renders the reference in expression form.
func (r Ref) String() string {
	parts := []string{r.Source}
	if r.Step != "" {
		parts = append(parts, r.Step)
	}
	if r.Path != "" {
		parts = append(parts, r.Path)
	}
	return strings.Join(parts, ".")
}

// ParseRef parses a reference expression.
func ParseRef(expr string) (Ref, error) {
	expr = strings.TrimSpace(expr)
	source, rest, _ := strings.Cut(expr, ".")
	switch source {
	case sourceInputs:
		if rest == "" {
			return Ref{}, fmt.Errorf("reference %q must name an input", expr)
		}
		return Ref{Source: sourceInputs, Path: rest}, nil
	case sourceSteps:
		step, path, _ := strings.Cut(rest, ".")
		if step == "" {
			return Ref{}, fmt.Errorf("reference %q must name a step", expr)
		}
		return Ref{Source: sourceSteps, Step: step, Path: path}, nil
	default:
		return Ref{}, fmt.Errorf("reference %q must start with inputs. or steps.", expr)
	}
}

// Resolve looks the reference up in the run state.
func (r Ref) Resolve(results pipeline.Results, inputs pipeline.Inputs) (interface{}, bool) {
	if r.Source == sourceInputs {
		return inputs.Get(r.Path)
	}
	return results.Field(r.Step, r.Path)
}

// InputName returns the top-level input key of an inputs reference.
func (r Ref) InputName() string {
	name, _, _ := strings.Cut(r.Path, ".")
	return name
}

// argValue is a compiled argument: a literal, a reference, or a container of either.
type argValue struct {
	literal interface{}
	ref     *Ref
	mapping map[string]*argValue
	list    []*argValue
}

// compileArg compiles a decoded YAML argument value.
func compileArg(v interface{}) (*argValue, error) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, refPrefix+refPrefix) {
			return &argValue{literal: val[len(refPrefix):]}, nil
		}
		if strings.HasPrefix(val, refPrefix) {
			ref, err := ParseRef(val[len(refPrefix):])
			if err != nil {
				return nil, err
			}
			return &argValue{ref: &ref}, nil
		}
		return &argValue{literal: val}, nil
	case map[string]interface{}:
		out := &argValue{mapping: make(map[string]*argValue, len(val))}
		for k, item := range val {
			compiled, err := compileArg(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out.mapping[k] = compiled
		}
		return out, nil
	case []interface{}:
		out := &argValue{list: make([]*argValue, 0, len(val))}
		for i, item := range val {
			compiled, err := compileArg(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out.list = append(out.list, compiled)
		}
		return out, nil
	default:
		return &argValue{literal: val}, nil
	}
}

// refs returns every reference inside the value.
func (a *argValue) refs() []Ref {
	switch {
	case a.ref != nil:
		return []Ref{*a.ref}
	case a.mapping != nil:
		var out []Ref
		for _, v := range a.mapping {
			out = append(out, v.refs()...)
		}
		return out
	case a.list != nil:
		var out []Ref
		for _, v := range a.list {
			out = append(out, v.refs()...)
		}
		return out
	}
	return nil
}

// resolve evaluates the value. A top-level reference that does not resolve
// reports ok=false; nested ones resolve to nil.
func (a *argValue) resolve(results pipeline.Results, inputs pipeline.Inputs) (interface{}, bool) {
	switch {
	case a.ref != nil:
		return a.ref.Resolve(results, inputs)
	case a.mapping != nil:
		out := make(map[string]interface{}, len(a.mapping))
		for k, v := range a.mapping {
			out[k], _ = v.resolve(results, inputs)
		}
		return out, true
	case a.list != nil:
		out := make([]interface{}, len(a.list))
		for i, v := range a.list {
			out[i], _ = v.resolve(results, inputs)
		}
		return out, true
	}
	return a.literal, true
}

// argsBuilder compiles an args block into a pipeline.ArgsBuilder. Keys whose
// reference does not resolve are left unset so that step defaults apply.
func argsBuilder(args map[string]interface{}) (pipeline.ArgsBuilder, []Ref, error) {
	if len(args) == 0 {
		return nil, nil, nil
	}
	compiled := make(map[string]*argValue, len(args))
	var refs []Ref
	for k, v := range args {
		a, err := compileArg(v)
		if err != nil {
			return nil, nil, fmt.Errorf("args.%s: %w", k, err)
		}
		compiled[k] = a
		refs = append(refs, a.refs()...)
	}

	builder := func(results pipeline.Results, inputs pipeline.Inputs) (models.Args, error) {
		out := make(models.Args, len(compiled))
		for k, a := range compiled {
			if v, ok := a.resolve(results, inputs); ok {
				out[k] = v
			}
		}
		return out, nil
	}
	return builder, refs, nil
}

// truthy reports whether v counts as set for a condition.
func truthy(v interface{}) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}
	return true
}

// equalValues compares two values after normalizing both through JSON, so
// that a YAML int equals a decoded JSON float64.
func equalValues(a, b interface{}) bool {
	na, errA := normalizeJSON(a)
	nb, errB := normalizeJSON(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return reflect.DeepEqual(na, nb)
}

func normalizeJSON(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
