// Package models defines the fabric's persisted record types.
package models

import (
	"fmt"
	"time"
)

// RunStatus values for workflow runs.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// StepStatus values for workflow step records.
const (
	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
)

// StepSpec is one step of a workflow definition: which tool to call on
// which server, with argument templates resolved per run.
type StepSpec struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Workflow is a stored description of a reaction to an event. Mutable only
// via creation and active-toggle.
type Workflow struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	TriggerEvent      string         `json:"triggerEvent"`
	TriggerConditions map[string]any `json:"triggerConditions"`
	Steps             []StepSpec     `json:"steps"`
	Active            bool           `json:"active"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Validate checks the definition is executable.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if w.TriggerEvent == "" {
		return fmt.Errorf("workflow trigger event is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow must have at least one step")
	}
	for i, s := range w.Steps {
		if s.Server == "" {
			return fmt.Errorf("step %d: server is required", i)
		}
		if s.Tool == "" {
			return fmt.Errorf("step %d: tool is required", i)
		}
	}
	return nil
}

// Run is one execution of a workflow against one triggering payload.
// Append-only except for its terminal status, error, and duration.
type Run struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflowId"`
	Status         string         `json:"status"`
	TriggerPayload map[string]any `json:"triggerPayload"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	DurationMs     *int64         `json:"durationMs,omitempty"`

	// Steps is populated on joined reads (get-workflow-run).
	Steps []StepRecord `json:"steps,omitempty"`
}

// StepRecord is the audit of one tool invocation inside a run. Transitions
// pending → running → {completed, failed} exactly once.
type StepRecord struct {
	ID          string         `json:"id"`
	RunID       string         `json:"runId"`
	StepIndex   int            `json:"stepIndex"`
	Server      string         `json:"server"`
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments"`
	Status      string         `json:"status"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}
