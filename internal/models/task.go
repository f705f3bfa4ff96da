package models

import (
	"errors"
	"fmt"
)

// Kind identifies the worker capability that performs a task.
type Kind string

// Worker kinds
const (
	KindAgent   Kind = "agent"   // Work delegated to an external agent
	KindLocal   Kind = "local"   // In-process computation
	KindCommand Kind = "command" // External process or service
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	return string(k)
}

// ParseKind normalizes a kind name. An empty name defaults to KindAgent.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", string(KindAgent):
		return KindAgent, nil
	case string(KindLocal):
		return KindLocal, nil
	case string(KindCommand):
		return KindCommand, nil
	default:
		return "", fmt.Errorf("unknown task kind %q (supported: agent, local, command)", s)
	}
}

// Args holds the argument set bound to a single task invocation.
type Args map[string]interface{}

// Clone returns a shallow copy of the argument set.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// WorkerPayload describes how the worker should perform a task.
// The kernel treats it as opaque and hands it to the worker unchanged.
type WorkerPayload struct {
	Role         string                 `json:"role,omitempty" yaml:"role"`                   // Persona the worker adopts
	Task         string                 `json:"task,omitempty" yaml:"task"`                   // Task description
	Context      map[string]interface{} `json:"context,omitempty" yaml:"context"`             // Input context for the worker
	Instructions []string               `json:"instructions,omitempty" yaml:"instructions"`   // Ordered instruction list
	OutputFormat string                 `json:"output_format,omitempty" yaml:"output_format"` // Desired output format
	Agent        string                 `json:"agent,omitempty" yaml:"agent"`                 // Named subagent (agent kind)
	Command      []string               `json:"command,omitempty" yaml:"command"`             // argv (command kind)
}

// IOContract declares where the validated input and output of a task instance live.
type IOContract struct {
	InputPath  string `json:"input_path" yaml:"input_path"`
	OutputPath string `json:"output_path" yaml:"output_path"`
}

// TaskSpec is an immutable descriptor of one unit of work.
type TaskSpec struct {
	Name         string                 `json:"name"`
	Kind         Kind                   `json:"kind"`
	Title        string                 `json:"title"`
	Worker       WorkerPayload          `json:"worker"`
	ResultSchema map[string]interface{} `json:"result_schema"`
	IO           IOContract             `json:"io"`
	Labels       []string               `json:"labels,omitempty"`
}

// Validate checks if the task spec has all required fields
func (t *TaskSpec) Validate() error {
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if t.Kind == "" {
		return fmt.Errorf("task %s: kind is required", t.Name)
	}
	if t.ResultSchema == nil {
		return fmt.Errorf("task %s: result schema is required", t.Name)
	}
	if typ, ok := t.ResultSchema["type"]; ok && typ != "object" {
		return fmt.Errorf("task %s: result schema must describe an object, got type %v", t.Name, typ)
	}
	if err := checkArtifactsProperty(t.ResultSchema); err != nil {
		return fmt.Errorf("task %s: %w", t.Name, err)
	}
	return nil
}

// HasLabel returns true if the task carries the given classification label
func (t *TaskSpec) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}
