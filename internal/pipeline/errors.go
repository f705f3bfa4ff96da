package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harrison/relay/internal/models"
)

// Step failure phases. Every StepError matches exactly one of them via errors.Is.
var (
	ErrBuild       = errors.New("step build failed")
	ErrDelegation  = errors.New("task delegation failed")
	ErrValidation  = errors.New("step result failed validation")
	ErrCancelled   = errors.New("run cancelled")
	ErrAggregation = errors.New("result aggregation failed")
)

// DefinitionError reports a malformed process definition.
type DefinitionError struct {
	Process string
	Step    string
	Message string
}

// Error implements the error interface for DefinitionError.
func (e *DefinitionError) Error() string {
	var sb strings.Builder
	sb.WriteString("process definition")
	if e.Process != "" {
		sb.WriteString(" " + e.Process)
	}
	if e.Step != "" {
		sb.WriteString(fmt.Sprintf(" step %s", e.Step))
	}
	sb.WriteString(": " + e.Message)
	return sb.String()
}

// Is matches models.ErrDefinition.
func (e *DefinitionError) Is(target error) bool {
	return target == models.ErrDefinition
}

// StepError reports the step that aborted a run and why. Artifacts holds
// the artifacts accumulated before the failure; it is diagnostic context
// only and never forms a result.
type StepError struct {
	Process   string
	RunID     string
	Step      string
	Phase     error // One of the phase sentinels
	Err       error
	Artifacts []models.Artifact
}

// Error implements the error interface for StepError.
func (e *StepError) Error() string {
	return fmt.Sprintf("process %s: step %s: %v: %v", e.Process, e.Step, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Is matches the failure phase.
func (e *StepError) Is(target error) bool {
	return e.Phase != nil && target == e.Phase
}

// FailedStep returns the step named by a StepError in err's chain.
func FailedStep(err error) (string, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
