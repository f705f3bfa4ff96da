package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/relay/internal/claude"
	"github.com/harrison/relay/internal/models"
)

// Invoker runs one Claude CLI request.
type Invoker interface {
	Invoke(ctx context.Context, req claude.Request) (*claude.Response, error)
}

// AgentWorker delegates tasks to the Claude CLI.
type AgentWorker struct {
	Invoker     Invoker
	BypassPerms bool
}

// NewAgentWorker creates an AgentWorker using inv.
func NewAgentWorker(inv Invoker) *AgentWorker {
	return &AgentWorker{Invoker: inv}
}

// Execute renders the prompt, invokes the agent with the result schema and
// returns the JSON object it produced.
func (w *AgentWorker) Execute(ctx context.Context, spec models.TaskSpec, args models.Args) (json.RawMessage, error) {
	if w.Invoker == nil {
		return nil, fmt.Errorf("agent worker has no invoker")
	}

	req := claude.Request{
		Prompt:      RenderPrompt(spec, args),
		Schema:      models.SchemaJSON(models.WithArtifacts(spec.ResultSchema)),
		BypassPerms: w.BypassPerms,
	}
	if spec.Worker.Agent != "" {
		agentJSON, err := agentDefinition(spec)
		if err != nil {
			return nil, err
		}
		req.AgentJSON = agentJSON
	}

	resp, err := w.Invoker.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	content, _, err := claude.ParseResponse(resp.RawOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to parse claude output: %w", err)
	}
	if content == "" {
		return nil, fmt.Errorf("empty response from claude")
	}

	if !json.Valid([]byte(content)) {
		// Prose around the object
		if extracted := claude.ExtractJSON(content); extracted != "" && json.Valid([]byte(extracted)) {
			return json.RawMessage(extracted), nil
		}
	}
	return json.RawMessage(content), nil
}

func agentDefinition(spec models.TaskSpec) (string, error) {
	description := spec.Title
	if description == "" {
		description = spec.Name
	}
	def := map[string]map[string]string{
		spec.Worker.Agent: {
			"description": description,
			"prompt":      spec.Worker.Role,
		},
	}
	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("encode agent definition: %w", err)
	}
	return string(data), nil
}

// RenderPrompt turns the worker payload and arguments into the agent prompt.
func RenderPrompt(spec models.TaskSpec, args models.Args) string {
	var sb strings.Builder
	p := spec.Worker

	if spec.Title != "" {
		sb.WriteString("# ")
		sb.WriteString(spec.Title)
		sb.WriteString("\n\n")
	}
	if p.Agent != "" {
		sb.WriteString(fmt.Sprintf("Use the %s agent for this task.\n\n", p.Agent))
	}
	if p.Role != "" {
		sb.WriteString("## Role\n")
		sb.WriteString(p.Role)
		sb.WriteString("\n\n")
	}
	if p.Task != "" {
		sb.WriteString("## Task\n")
		sb.WriteString(p.Task)
		sb.WriteString("\n\n")
	}

	if len(p.Context) > 0 {
		sb.WriteString("## Context\n")
		sb.WriteString(renderMap(p.Context))
		sb.WriteString("\n")
	}
	if len(args) > 0 {
		sb.WriteString("## Inputs\n")
		sb.WriteString(renderMap(args))
		sb.WriteString("\n")
	}

	if len(p.Instructions) > 0 {
		sb.WriteString("## Instructions\n")
		for i, inst := range p.Instructions {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, inst))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Output\n")
	if p.OutputFormat != "" {
		sb.WriteString(p.OutputFormat)
		sb.WriteString("\n")
	}
	sb.WriteString("Respond with a single JSON object matching the provided schema. ")
	sb.WriteString("List every produced file or document in the \"artifacts\" array (use [] if none).\n")

	return sb.String()
}

func renderMap(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString("- ")
		sb.WriteString(k)
		sb.WriteString(": ")
		switch v := m[k].(type) {
		case string:
			sb.WriteString(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				sb.WriteString(fmt.Sprintf("%v", v))
			} else {
				sb.Write(data)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
