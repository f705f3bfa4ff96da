package definition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harrison/relay/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// Condition is a declarative step inclusion predicate.
//
// The string shorthand "inputs.flag" runs the step when the reference is
// truthy; "!steps.x.field" runs it when the reference is falsy or absent.
// The mapping form combines a reference with equals, exists and not, or
// nests conditions under all or any.
type Condition struct {
	Ref    string      `yaml:"ref"`
	Equals interface{} `yaml:"equals"`
	Exists *bool       `yaml:"exists"`
	Not    bool        `yaml:"not"`
	All    []Condition `yaml:"all"`
	Any    []Condition `yaml:"any"`

	hasEquals bool
}

// UnmarshalYAML accepts both the string shorthand and the mapping form.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var expr string
		if err := node.Decode(&expr); err != nil {
			return err
		}
		expr = strings.TrimSpace(expr)
		if strings.HasPrefix(expr, "!") {
			c.Not = true
			expr = strings.TrimSpace(expr[1:])
		}
		c.Ref = expr
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: condition must be a string or a mapping", node.Line)
	}

	type plain Condition
	var aux plain
	if err := node.Decode(&aux); err != nil {
		return err
	}
	*c = Condition(aux)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "equals" {
			c.hasEquals = true
		}
	}
	return nil
}

// refs returns every reference the condition reads.
func (c *Condition) refs() ([]Ref, error) {
	var out []Ref
	if c.Ref != "" {
		ref, err := ParseRef(c.Ref)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	for i := range c.All {
		nested, err := c.All[i].refs()
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	for i := range c.Any {
		nested, err := c.Any[i].refs()
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// compile turns the condition into a pipeline.Predicate.
func (c *Condition) compile() (pipeline.Predicate, error) {
	if c.Ref == "" && len(c.All) == 0 && len(c.Any) == 0 {
		return nil, errors.New("condition needs ref, all or any")
	}
	if c.Ref != "" && (len(c.All) > 0 || len(c.Any) > 0) {
		return nil, errors.New("condition cannot combine ref with all or any")
	}
	if c.Ref == "" && (c.hasEquals || c.Exists != nil) {
		return nil, errors.New("equals and exists need a ref")
	}
	if c.hasEquals && c.Exists != nil {
		return nil, errors.New("condition cannot combine equals and exists")
	}

	var base pipeline.Predicate
	switch {
	case c.Ref != "":
		ref, err := ParseRef(c.Ref)
		if err != nil {
			return nil, err
		}
		base = c.refPredicate(ref)
	case len(c.All) > 0:
		preds, err := compileAll(c.All)
		if err != nil {
			return nil, fmt.Errorf("all: %w", err)
		}
		base = func(results pipeline.Results, inputs pipeline.Inputs) bool {
			for _, p := range preds {
				if !p(results, inputs) {
					return false
				}
			}
			return true
		}
	default:
		preds, err := compileAll(c.Any)
		if err != nil {
			return nil, fmt.Errorf("any: %w", err)
		}
		base = func(results pipeline.Results, inputs pipeline.Inputs) bool {
			for _, p := range preds {
				if p(results, inputs) {
					return true
				}
			}
			return false
		}
	}

	if !c.Not {
		return base, nil
	}
	return func(results pipeline.Results, inputs pipeline.Inputs) bool {
		return !base(results, inputs)
	}, nil
}

func (c *Condition) refPredicate(ref Ref) pipeline.Predicate {
	switch {
	case c.hasEquals:
		want := c.Equals
		return func(results pipeline.Results, inputs pipeline.Inputs) bool {
			v, ok := ref.Resolve(results, inputs)
			return ok && equalValues(v, want)
		}
	case c.Exists != nil:
		want := *c.Exists
		return func(results pipeline.Results, inputs pipeline.Inputs) bool {
			_, ok := ref.Resolve(results, inputs)
			return ok == want
		}
	default:
		return func(results pipeline.Results, inputs pipeline.Inputs) bool {
			v, ok := ref.Resolve(results, inputs)
			return ok && truthy(v)
		}
	}
}

func compileAll(conds []Condition) ([]pipeline.Predicate, error) {
	preds := make([]pipeline.Predicate, 0, len(conds))
	for i := range conds {
		p, err := conds[i].compile()
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}
