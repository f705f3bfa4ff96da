package models

import (
	"strconv"
	"strings"
	"time"
)

// ArtifactsField is the field every step result carries its artifacts under.
const ArtifactsField = "artifacts"

// Artifact is an opaque descriptor of a produced side-output.
type Artifact map[string]interface{}

// StepResult is the validated output object of one task invocation.
type StepResult map[string]interface{}

// Artifacts returns the artifact descriptors carried by the result, in order.
// Entries are returned as they are. Entries that are not JSON objects are
// skipped; validated results never carry them.
func (r StepResult) Artifacts() []Artifact {
	raw, ok := r[ArtifactsField]
	if !ok || raw == nil {
		return nil
	}

	switch items := raw.(type) {
	case []Artifact:
		return append([]Artifact(nil), items...)
	case []map[string]interface{}:
		out := make([]Artifact, 0, len(items))
		for _, item := range items {
			out = append(out, Artifact(item))
		}
		return out
	case []interface{}:
		out := make([]Artifact, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case map[string]interface{}:
				out = append(out, Artifact(v))
			case Artifact:
				out = append(out, v)
			}
		}
		return out
	default:
		return nil
	}
}

// Field resolves a dotted path (e.g. "analysis.risks.0") inside the result.
func (r StepResult) Field(path string) (interface{}, bool) {
	return Lookup(map[string]interface{}(r), path)
}

// Lookup resolves a dotted path through nested maps and slices.
// An empty path returns the root value.
func Lookup(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return root, true
	}

	current := root
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case StepResult:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case Args:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case Artifact:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// PipelineMetadata identifies a pipeline run.
type PipelineMetadata struct {
	ProcessID string    `json:"process_id"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// PipelineResult is the externally visible output of a completed pipeline run.
// The caller owns it once returned.
type PipelineResult struct {
	Success   bool                   `json:"success"`
	Inputs    map[string]interface{} `json:"inputs,omitempty"` // Echoed identifying inputs
	Summary   map[string]interface{} `json:"summary"`
	Artifacts []Artifact             `json:"artifacts"`
	Duration  time.Duration          `json:"duration"`
	Metadata  PipelineMetadata       `json:"metadata"`
}
