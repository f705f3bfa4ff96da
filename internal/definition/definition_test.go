package definition

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/harrison/relay/internal/execution"
	"github.com/harrison/relay/internal/models"
	"github.com/harrison/relay/internal/pipeline"
	"github.com/harrison/relay/internal/task"
	"github.com/harrison/relay/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatYAML, DetectFormat("p.yaml"))
	assert.Equal(t, FormatYAML, DetectFormat("P.YML"))
	assert.Equal(t, FormatMarkdown, DetectFormat("p.md"))
	assert.Equal(t, FormatMarkdown, DetectFormat("p.markdown"))
	assert.Equal(t, FormatUnknown, DetectFormat("p.json"))
	assert.Equal(t, "markdown", FormatMarkdown.String())

	_, err := ParseFile("testdata/process.json")
	assert.ErrorContains(t, err, "unknown file format")

	_, err = NewParser(FormatUnknown)
	assert.Error(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	proc, err := LoadFile("testdata/account-review.yaml")
	require.NoError(t, err)

	def := proc.Definition
	assert.Equal(t, "account-review", def.ID)
	assert.Equal(t, []string{"profile", "risks", "compliance", "financials", "deep-dive", "decide"}, def.StepNames())
	assert.Equal(t, []string{"subject"}, def.Echo)
	require.Len(t, def.Summary, 3)
	assert.Equal(t, pipeline.SummaryField{Key: "riskAnalysis", Step: "risks", Path: "analysis", Required: true}, def.Summary[0])

	assert.True(t, def.Steps[2].IsGroup())
	assert.Len(t, def.Steps[2].Members(), 2)

	assert.Equal(t, []string{"analyze-risk", "check", "fetch-profile", "verdict"}, proc.Tasks.Names())
	assert.Len(t, proc.Tasks.WithLabel("risk"), 1)
	assert.Equal(t, models.KindCommand, proc.Kinds["check"])
	assert.Equal(t, models.KindAgent, proc.Kinds["fetch-profile"])

	assert.Equal(t, map[string][]string{
		"risks":      {"profile"},
		"financials": {"risks"},
		"deep-dive":  {"profile"},
		"decide":     {"compliance", "risks"},
	}, proc.Dependencies)
}

// recorder captures every delegated call of a run.
type recorder struct {
	mu    sync.Mutex
	specs map[string]models.TaskSpec
	args  map[string]models.Args
}

func (r *recorder) worker(results map[string]models.StepResult) worker.Worker {
	return worker.Func(func(ctx context.Context, spec models.TaskSpec, args models.Args) (models.StepResult, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		key := spec.Title
		r.specs[key] = spec
		r.args[key] = args
		return results[spec.Name], nil
	})
}

func TestYAMLProcessRuns(t *testing.T) {
	proc, err := LoadFile("testdata/account-review.yaml")
	require.NoError(t, err)

	results := map[string]models.StepResult{
		"fetch-profile": {"profile": map[string]interface{}{"name": "Acme"}, "artifacts": []interface{}{map[string]interface{}{"path": "profile.md"}}},
		"analyze-risk":  {"analysis": map[string]interface{}{"level": "high", "risks": []interface{}{"churn"}}, "artifacts": []interface{}{}},
		"check":         {"passed": true, "artifacts": []interface{}{}},
		"verdict":       {"verdict": "escalate", "artifacts": []interface{}{map[string]interface{}{"path": "verdict.md"}}},
	}
	rec := &recorder{specs: map[string]models.TaskSpec{}, args: map[string]models.Args{}}
	w := rec.worker(results)
	rt := execution.NewRuntime(
		execution.WithWorker(models.KindAgent, w),
		execution.WithWorker(models.KindCommand, w),
		execution.WithWorker(models.KindLocal, w),
	)

	inputs, err := proc.ResolveInputs(map[string]interface{}{"subject": "acme"})
	require.NoError(t, err)

	out, err := pipeline.Process(context.Background(), proc.Definition, inputs, rt)
	require.NoError(t, err)

	assert.Equal(t, []models.Artifact{{"path": "profile.md"}, {"path": "verdict.md"}}, out.Artifacts)
	assert.Equal(t, map[string]interface{}{"subject": "acme"}, out.Inputs)
	assert.Equal(t, "escalate", out.Summary["verdict"])
	assert.Equal(t, map[string]interface{}{"level": "high", "risks": []interface{}{"churn"}}, out.Summary["riskAnalysis"])
	assert.NotContains(t, out.Summary, "deepDive", "deep-dive is skipped when deep_dive is false")

	profile := rec.specs["Fetch profile for acme"]
	assert.Equal(t, models.KindAgent, profile.Kind)
	assert.Equal(t, "standard", profile.Worker.Context["depth"])
	assert.Equal(t, []string{"Look up acme", "Summarize ownership and history"}, profile.Worker.Instructions)
	assert.Equal(t, []string{"research"}, profile.Labels)

	risk := rec.specs["Analyze risk for acme"]
	assert.Equal(t, "Rank the risks of the account.", risk.Worker.Task)
	assert.JSONEq(t, `{"name":"Acme"}`, risk.Worker.Context["profile"].(string))

	financials := rec.specs["financials check"]
	assert.Equal(t, []string{"relay-check", "financials"}, financials.Worker.Command)
	assert.Equal(t, "high", rec.args["financials check"]["level"])

	compliance := rec.args["compliance check"]
	assert.Equal(t, "compliance", compliance["check"])

	assert.Equal(t, true, rec.args["Verdict"]["compliance"])
	assert.Len(t, rec.specs, 5)
}

func TestYAMLProcessDeepDive(t *testing.T) {
	proc, err := LoadFile("testdata/account-review.yaml")
	require.NoError(t, err)

	results := map[string]models.StepResult{
		"fetch-profile": {"profile": map[string]interface{}{"name": "Acme"}, "artifacts": []interface{}{}},
		"analyze-risk":  {"analysis": map[string]interface{}{"level": "low", "risks": []interface{}{}}, "artifacts": []interface{}{}},
		"check":         {"passed": false, "artifacts": []interface{}{}},
	}
	rec := &recorder{specs: map[string]models.TaskSpec{}, args: map[string]models.Args{}}
	w := rec.worker(results)
	rt := execution.NewRuntime(
		execution.WithWorker(models.KindAgent, w),
		execution.WithWorker(models.KindCommand, w),
		execution.WithWorker(models.KindLocal, w),
	)

	inputs, err := proc.ResolveInputs(map[string]interface{}{"subject": "acme", "deep_dive": true})
	require.NoError(t, err)

	out, err := pipeline.Process(context.Background(), proc.Definition, inputs, rt)
	require.NoError(t, err)

	assert.Contains(t, out.Summary, "deepDive")
	assert.NotContains(t, out.Summary, "verdict", "decide is skipped for low risk")
	assert.NotContains(t, rec.specs, "Verdict")
}

func TestLoadMarkdownFile(t *testing.T) {
	f, err := ParseFile("testdata/account-review.md")
	require.NoError(t, err)

	assert.Equal(t, "account-review", f.ID)
	assert.Equal(t, "Account review", f.Description, "first level 1 heading is the description")
	require.Len(t, f.Tasks, 2)
	assert.Equal(t, "fetch-profile", f.Tasks[0].Name)
	assert.Contains(t, f.Tasks[0].Description, "Collect the public profile of the account.")
	assert.Contains(t, f.Tasks[0].Description, "history")
	assert.Equal(t, "score", f.Tasks[1].Name)
	assert.Empty(t, f.Tasks[1].Description)

	require.Len(t, f.Steps, 2)
	assert.Equal(t, "profile", f.Steps[0].Name)
	assert.Equal(t, "scoring", f.Steps[1].Name)
	require.NotNil(t, f.Steps[1].When)
	assert.True(t, f.Steps[1].When.Not)
	assert.Equal(t, "inputs.skip_score", f.Steps[1].When.Ref)
	assert.Equal(t, []SummaryDecl{{Key: "score", Step: "scoring", Path: "score"}}, f.Summary)

	proc, err := Compile(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"profile", "scoring"}, proc.Definition.StepNames())

	spec, err := mustLookup(t, proc.Tasks, "fetch-profile").Build(models.Args{"subject": "acme"}, task.Context{})
	require.NoError(t, err)
	assert.Equal(t, "Fetch profile for acme", spec.Title)
	assert.Contains(t, spec.Worker.Task, "Collect the public profile")
}

func mustLookup(t *testing.T, r *task.Registry, name string) *task.Definition {
	t.Helper()
	def, ok := r.Lookup(name)
	require.True(t, ok, name)
	return def
}

func TestMarkdownErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "step without yaml",
			content: "---\nid: p\n---\n## Step: a\n\nno block\n",
			wantErr: `step section "a" has no yaml block`,
		},
		{
			name:    "heading without name",
			content: "## Task:\n",
			wantErr: "task heading needs a name",
		},
		{
			name:    "two yaml blocks",
			content: "## Step: a\n\n```yaml\ntask: t\n```\n\n```yaml\ntask: u\n```\n",
			wantErr: "more than one yaml block",
		},
		{
			name:    "name mismatch",
			content: "## Task: a\n\n```yaml\nname: b\n```\n",
			wantErr: `declares name "b"`,
		},
		{
			name:    "unknown key",
			content: "## Step: a\n\n```yaml\ntask: t\nretries: 3\n```\n",
			wantErr: "failed to parse yaml",
		},
		{
			name:    "steps in frontmatter",
			content: "---\nid: p\nsteps:\n  - name: a\n---\n",
			wantErr: "frontmatter may not declare",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMarkdownParser().Parse(strings.NewReader(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const baseTasks = `
tasks:
  - name: t
    result_schema:
      type: object
      properties:
        value: {type: string}
`

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing id", baseTasks + "steps:\n  - {name: a, task: t}\n", "id is required"},
		{"unknown task", "id: p\n" + baseTasks + "steps:\n  - {name: a, task: nope}\n", `unknown task "nope"`},
		{"duplicate step", "id: p\n" + baseTasks + "steps:\n  - {name: a, task: t}\n  - {name: a, task: t}\n", `duplicate step "a"`},
		{"no steps", "id: p\n" + baseTasks, "at least one step"},
		{"self reference", "id: p\n" + baseTasks + "steps:\n  - name: a\n    task: t\n    args: {x: $steps.a.value}\n", "cannot read its own result"},
		{"sibling reference", "id: p\n" + baseTasks + "steps:\n  - name: g\n    parallel:\n      - {name: a, task: t}\n      - name: b\n        task: t\n        args: {x: $steps.a.value}\n", `step "a" is not declared before`},
		{"group reference", "id: p\n" + baseTasks + "steps:\n  - name: g\n    parallel:\n      - {name: a, task: t}\n  - name: b\n    task: t\n    when: steps.g\n", `step "g" is not declared before`},
		{"nested group", "id: p\n" + baseTasks + "steps:\n  - name: g\n    parallel:\n      - name: h\n        parallel:\n          - {name: a, task: t}\n", "cannot be nested"},
		{"group with task", "id: p\n" + baseTasks + "steps:\n  - name: g\n    task: t\n    parallel:\n      - {name: a, task: t}\n", "cannot declare task"},
		{"empty group", "id: p\n" + baseTasks + "steps:\n  - name: g\n    parallel: []\n", "parallel group has no steps"},
		{"bad reference", "id: p\n" + baseTasks + "steps:\n  - name: a\n    task: t\n    args: {x: $env.HOME}\n", "must start with inputs. or steps."},
		{"undeclared input", "id: p\ninputs:\n  - name: subject\n" + baseTasks + "steps:\n  - name: a\n    task: t\n    args: {x: $inputs.subjct}\n", `unknown input "subjct"`},
		{"duplicate input", "id: p\ninputs:\n  - name: s\n  - name: s\n" + baseTasks + "steps:\n  - {name: a, task: t}\n", `duplicate input "s"`},
		{"unknown echo", "id: p\ninputs:\n  - name: s\necho: [x]\n" + baseTasks + "steps:\n  - {name: a, task: t}\n", `unknown input "x"`},
		{"summary unknown step", "id: p\n" + baseTasks + "steps:\n  - {name: a, task: t}\nsummary:\n  - {key: k, step: b}\n", `unknown step "b"`},
		{"string artifacts", "id: p\ntasks:\n  - name: t\n    result_schema:\n      type: object\n      properties:\n        artifacts: {type: array, items: {type: string}}\nsteps:\n  - {name: a, task: t}\n", "items must be objects"},
		{"summary names group", "id: p\n" + baseTasks + "steps:\n  - name: g\n    parallel:\n      - {name: a, task: t}\nsummary:\n  - {key: k, step: g}\n", `unknown step "g"`},
		{"bad condition", "id: p\n" + baseTasks + "steps:\n  - name: a\n    task: t\n    when: {equals: 1}\n", "condition needs ref"},
		{"unknown kind", "id: p\ntasks:\n  - name: t\n    kind: robot\n    result_schema: {type: object}\nsteps:\n  - {name: a, task: t}\n", "unknown task kind"},
		{"missing schema", "id: p\ntasks:\n  - name: t\nsteps:\n  - {name: a, task: t}\n", "result_schema is required"},
		{"command without argv", "id: p\ntasks:\n  - name: t\n    kind: command\n    result_schema: {type: object}\nsteps:\n  - {name: a, task: t}\n", "need worker.command"},
		{"bad template", "id: p\ntasks:\n  - name: t\n    title: \"{{.x\"\n    result_schema: {type: object}\nsteps:\n  - {name: a, task: t}\n", "template title"},
		{"duplicate task", "id: p\n" + baseTasks + "  - name: t\n    result_schema: {type: object}\nsteps:\n  - {name: a, task: t}\n", "already registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewYAMLParser().Parse(strings.NewReader(tt.yaml))
			require.NoError(t, err)

			_, err = Compile(f)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.ErrorIs(t, err, models.ErrDefinition)

			var le *LoadError
			assert.ErrorAs(t, err, &le)
		})
	}
}

func TestForwardReferenceFile(t *testing.T) {
	_, err := LoadFile("testdata/forward-ref.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDefinition)
	assert.Contains(t, err.Error(), "testdata/forward-ref.yaml")
	assert.Contains(t, err.Error(), `step "second" is not declared before this step`)
}

func TestYAMLParseErrors(t *testing.T) {
	_, err := NewYAMLParser().Parse(strings.NewReader(""))
	assert.ErrorContains(t, err, "empty")

	_, err = NewYAMLParser().Parse(strings.NewReader("id: p\nnope: 1\n"))
	assert.ErrorContains(t, err, "failed to parse YAML")

	_, err = NewYAMLParser().Parse(strings.NewReader("id: p\nsteps:\n  - name: a\n    when: [1, 2]\n"))
	assert.ErrorContains(t, err, "condition must be a string or a mapping")
}

func TestResolveInputs(t *testing.T) {
	proc, err := LoadFile("testdata/account-review.yaml")
	require.NoError(t, err)

	inputs, err := proc.ResolveInputs(map[string]interface{}{"subject": "acme", "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Inputs{"subject": "acme", "depth": "standard", "deep_dive": false, "extra": 1}, inputs)

	_, err = proc.ResolveInputs(nil)
	assert.ErrorContains(t, err, "missing required inputs: [subject]")
}
