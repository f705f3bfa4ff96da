package definition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/schema"
	"github.com/harrison/relay/internal/task"
)

// templateFuncs are available inside title and worker templates.
var templateFuncs = template.FuncMap{
	"json": func(v interface{}) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
	"join": func(sep string, v interface{}) string {
		items, ok := v.([]interface{})
		if !ok {
			return fmt.Sprint(v)
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep)
	},
	"default": func(def, v interface{}) interface{} {
		if !truthy(v) {
			return def
		}
		return v
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// templateText is a string that may carry template actions. Strings without
// actions render to themselves.
type templateText struct {
	raw  string
	tmpl *template.Template
}

func compileText(name, raw string) (*templateText, error) {
	t := &templateText{raw: raw}
	if !strings.Contains(raw, "{{") {
		return t, nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(templateFuncs).Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	t.tmpl = tmpl
	return t, nil
}

func (t *templateText) render(data map[string]interface{}) (string, error) {
	if t == nil {
		return "", nil
	}
	if t.tmpl == nil {
		return t.raw, nil
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// value is a decoded YAML value whose string leaves may be templates.
type value struct {
	text    *templateText
	literal interface{}
	mapping map[string]*value
	list    []*value
}

func compileValue(name string, v interface{}) (*value, error) {
	switch val := v.(type) {
	case string:
		t, err := compileText(name, val)
		if err != nil {
			return nil, err
		}
		return &value{text: t}, nil
	case map[string]interface{}:
		out := &value{mapping: make(map[string]*value, len(val))}
		for k, item := range val {
			compiled, err := compileValue(name+"."+k, item)
			if err != nil {
				return nil, err
			}
			out.mapping[k] = compiled
		}
		return out, nil
	case []interface{}:
		out := &value{list: make([]*value, 0, len(val))}
		for i, item := range val {
			compiled, err := compileValue(fmt.Sprintf("%s[%d]", name, i), item)
			if err != nil {
				return nil, err
			}
			out.list = append(out.list, compiled)
		}
		return out, nil
	default:
		return &value{literal: val}, nil
	}
}

func (v *value) render(data map[string]interface{}) (interface{}, error) {
	switch {
	case v.text != nil:
		return v.text.render(data)
	case v.mapping != nil:
		out := make(map[string]interface{}, len(v.mapping))
		for k, item := range v.mapping {
			rendered, err := item.render(data)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case v.list != nil:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			rendered, err := item.render(data)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	}
	return v.literal, nil
}

// taskTemplate is a TaskDecl compiled once at load time.
type taskTemplate struct {
	kind         models.Kind
	title        *templateText
	role         *templateText
	task         *templateText
	outputFormat *templateText
	agent        *templateText
	instructions []*templateText
	command      []*templateText
	context      *value
	inputPath    *templateText
	outputPath   *templateText
	resultSchema map[string]interface{}
	labels       []string
}

// compileTask validates a task declaration and compiles its templates.
func compileTask(decl TaskDecl) (*taskTemplate, error) {
	kind, err := models.ParseKind(decl.Kind)
	if err != nil {
		return nil, err
	}
	if decl.ResultSchema == nil {
		return nil, fmt.Errorf("result_schema is required")
	}
	if _, err := schema.Compile(models.WithArtifacts(decl.ResultSchema)); err != nil {
		return nil, err
	}
	shape := models.TaskSpec{Name: decl.Name, Kind: kind, ResultSchema: decl.ResultSchema}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if kind == models.KindCommand && len(decl.Worker.Command) == 0 {
		return nil, fmt.Errorf("command tasks need worker.command")
	}

	tt := &taskTemplate{
		kind:         kind,
		resultSchema: decl.ResultSchema,
		labels:       append([]string(nil), decl.Labels...),
	}

	description := decl.Worker.Task
	if description == "" {
		description = decl.Description
	}

	texts := []struct {
		name string
		raw  string
		dst  **templateText
	}{
		{"title", decl.Title, &tt.title},
		{"worker.role", decl.Worker.Role, &tt.role},
		{"worker.task", description, &tt.task},
		{"worker.output_format", decl.Worker.OutputFormat, &tt.outputFormat},
		{"worker.agent", decl.Worker.Agent, &tt.agent},
		{"io.input_path", decl.IO.InputPath, &tt.inputPath},
		{"io.output_path", decl.IO.OutputPath, &tt.outputPath},
	}
	for _, t := range texts {
		compiled, err := compileText(t.name, t.raw)
		if err != nil {
			return nil, err
		}
		*t.dst = compiled
	}

	for i, raw := range decl.Worker.Instructions {
		compiled, err := compileText(fmt.Sprintf("worker.instructions[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		tt.instructions = append(tt.instructions, compiled)
	}
	for i, raw := range decl.Worker.Command {
		compiled, err := compileText(fmt.Sprintf("worker.command[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		tt.command = append(tt.command, compiled)
	}
	if decl.Worker.Context != nil {
		ctxValue, err := compileValue("worker.context", decl.Worker.Context)
		if err != nil {
			return nil, err
		}
		tt.context = ctxValue
	}
	return tt, nil
}

// builder returns the pure task.Builder for the template. Every string
// field is rendered with the invocation's arguments as template data.
func (tt *taskTemplate) builder() task.Builder {
	return func(args models.Args, tc task.Context) (models.TaskSpec, error) {
		data := make(map[string]interface{}, len(args))
		for k, v := range args {
			data[k] = v
		}

		var spec models.TaskSpec
		var err error
		render := func(t *templateText) string {
			if err != nil {
				return ""
			}
			var s string
			s, err = t.render(data)
			return s
		}

		spec.Kind = tt.kind
		spec.Title = render(tt.title)
		spec.Worker.Role = render(tt.role)
		spec.Worker.Task = render(tt.task)
		spec.Worker.OutputFormat = render(tt.outputFormat)
		spec.Worker.Agent = render(tt.agent)
		spec.IO.InputPath = render(tt.inputPath)
		spec.IO.OutputPath = render(tt.outputPath)
		for _, t := range tt.instructions {
			spec.Worker.Instructions = append(spec.Worker.Instructions, render(t))
		}
		for _, t := range tt.command {
			spec.Worker.Command = append(spec.Worker.Command, render(t))
		}
		if err != nil {
			return models.TaskSpec{}, err
		}

		if tt.context != nil {
			rendered, err := tt.context.render(data)
			if err != nil {
				return models.TaskSpec{}, err
			}
			spec.Worker.Context, _ = rendered.(map[string]interface{})
		}

		spec.ResultSchema = deepCopy(tt.resultSchema).(map[string]interface{})
		spec.Labels = append([]string(nil), tt.labels...)
		return spec, nil
	}
}

func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
