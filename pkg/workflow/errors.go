package workflow

import "errors"

var (
	// ErrWorkflowNotFound indicates a workflow id absent from the store.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound indicates a run id absent from the store.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrStepNotFound indicates a step id absent from the store.
	ErrStepNotFound = errors.New("workflow step not found")

	// ErrBadTemplate indicates a step argument template that could not be
	// parsed. Fails the run.
	ErrBadTemplate = errors.New("bad argument template")
)
