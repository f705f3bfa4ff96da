package execution

import (
	"errors"
	"fmt"

	"github.com/harrison/relay/internal/models"
)

// ErrNoWorker is returned when no worker is registered for a task's kind.
var ErrNoWorker = errors.New("no worker registered for kind")

// DelegationError reports that the worker behind a task failed.
type DelegationError struct {
	Task string      // Name of the task whose worker failed
	Kind models.Kind // Worker kind
	Err  error       // Worker error
}

// Error implements the error interface for DelegationError.
func (e *DelegationError) Error() string {
	return fmt.Sprintf("task %s: %s worker failed: %v", e.Task, e.Kind, e.Err)
}

// Unwrap returns the worker error.
func (e *DelegationError) Unwrap() error {
	return e.Err
}

// IOError reports a failure persisting a task's input or output object.
type IOError struct {
	Task string
	Op   string // "write input" or "write output"
	Path string
	Err  error
}

// Error implements the error interface for IOError.
func (e *IOError) Error() string {
	return fmt.Sprintf("task %s: %s %s: %v", e.Task, e.Op, e.Path, e.Err)
}

// Unwrap returns the store error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// IsDelegationError checks if err is or wraps a DelegationError.
func IsDelegationError(err error) bool {
	var de *DelegationError
	return errors.As(err, &de)
}
