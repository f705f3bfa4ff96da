package pipeline

import (
	"fmt"

	"github.com/harrison/relay/internal/execution"
	"github.com/harrison/relay/internal/models"
)

// aggregate assembles the PipelineResult once every step has resolved.
func aggregate(def *Definition, run *Run, inputs Inputs, ec execution.Context) (*models.PipelineResult, error) {
	summary := make(map[string]interface{}, len(def.Summary))
	for _, f := range def.Summary {
		v, ok := run.Results.Field(f.Step, f.Path)
		if !ok {
			if f.Required {
				return nil, &StepError{
					Process:   run.ProcessID,
					RunID:     run.ID,
					Step:      f.Step,
					Phase:     ErrAggregation,
					Err:       fmt.Errorf("summary key %q: field %q is not available", f.Key, f.Path),
					Artifacts: run.artifactsSnapshot(),
				}
			}
			continue
		}
		summary[f.Key] = v
	}

	if def.Summarize != nil {
		extra, err := def.Summarize(run.Results, inputs)
		if err != nil {
			return nil, &StepError{
				Process:   run.ProcessID,
				RunID:     run.ID,
				Step:      "summary",
				Phase:     ErrAggregation,
				Err:       err,
				Artifacts: run.artifactsSnapshot(),
			}
		}
		for k, v := range extra {
			summary[k] = v
		}
	}

	var echoed map[string]interface{}
	for _, key := range def.Echo {
		if v, ok := inputs[key]; ok {
			if echoed == nil {
				echoed = make(map[string]interface{}, len(def.Echo))
			}
			echoed[key] = v
		}
	}

	duration := ec.Now().Sub(run.StartTime)
	if duration < 0 {
		duration = 0
	}

	return &models.PipelineResult{
		Success:   run.Success,
		Inputs:    echoed,
		Summary:   summary,
		Artifacts: run.artifactsSnapshot(),
		Duration:  duration,
		Metadata: models.PipelineMetadata{
			ProcessID: run.ProcessID,
			RunID:     run.ID,
			StartedAt: run.StartTime,
		},
	}, nil
}
