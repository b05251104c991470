package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcp-suite/fabric/pkg/models"
)

// Store persists workflow definitions and their run/step audit trail.
// Structured fields (conditions, steps, payloads, results) are kept as JSON
// text columns and deserialized at this boundary; the single-writer SQLite
// store serializes all writes.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an opened fabric database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateWorkflow persists a definition, assigning id and timestamps.
func (s *Store) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.TriggerConditions == nil {
		w.TriggerConditions = map[string]any{}
	}

	conditions, err := json.Marshal(w.TriggerConditions)
	if err != nil {
		return fmt.Errorf("marshal trigger conditions: %w", err)
	}
	steps, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, trigger_event, trigger_conditions, steps, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Description, w.TriggerEvent, string(conditions), string(steps),
		boolToInt(w.Active), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow returns one definition by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, trigger_event, trigger_conditions, steps, active, created_at, updated_at
		FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%q: %w", id, ErrWorkflowNotFound)
	}
	return w, err
}

// ListWorkflows returns all definitions, optionally only active ones,
// newest first.
func (s *Store) ListWorkflows(ctx context.Context, activeOnly bool) ([]*models.Workflow, error) {
	query := `
		SELECT id, name, description, trigger_event, trigger_conditions, steps, active, created_at, updated_at
		FROM workflows`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// ListByTriggerEvent returns the active definitions triggered by an event
// name, in creation order. This is the engine's hot query; it is covered by
// the trigger_event and active indices.
func (s *Store) ListByTriggerEvent(ctx context.Context, event string) ([]*models.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, trigger_event, trigger_conditions, steps, active, created_at, updated_at
		FROM workflows WHERE trigger_event = ? AND active = 1
		ORDER BY created_at ASC`, event)
	if err != nil {
		return nil, fmt.Errorf("list workflows by trigger: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// SetWorkflowActive flips a definition's active state.
func (s *Store) SetWorkflowActive(ctx context.Context, id string, active bool) (*models.Workflow, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), formatTime(time.Now().UTC()), id)
	if err != nil {
		return nil, fmt.Errorf("toggle workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%q: %w", id, ErrWorkflowNotFound)
	}
	return s.GetWorkflow(ctx, id)
}

// CreateRun inserts a running run record for a workflow.
func (s *Store) CreateRun(ctx context.Context, workflowID string, payload map[string]any) (*models.Run, error) {
	run := &models.Run{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		Status:         models.RunStatusRunning,
		TriggerPayload: payload,
		StartedAt:      time.Now().UTC(),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, status, trigger_payload, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.Status, string(payloadJSON), formatTime(run.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run completed and records its duration.
func (s *Store) CompleteRun(ctx context.Context, runID string) error {
	return s.finishRun(ctx, runID, models.RunStatusCompleted, "")
}

// FailRun marks a run failed with an error description.
func (s *Store) FailRun(ctx context.Context, runID, errMsg string) error {
	return s.finishRun(ctx, runID, models.RunStatusFailed, errMsg)
}

func (s *Store) finishRun(ctx context.Context, runID, status, errMsg string) error {
	var startedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM workflow_runs WHERE id = ?`, runID).Scan(&startedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	started, err := parseTime(startedAt)
	if err != nil {
		return fmt.Errorf("parse run started_at: %w", err)
	}

	now := time.Now().UTC()
	duration := now.Sub(started).Milliseconds()

	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = ?, error = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		status, errVal, formatTime(now), duration, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// CreateStep inserts a running step record with resolved arguments.
// Persistence order equals execution order: steps are inserted one at a
// time as the engine reaches them.
func (s *Store) CreateStep(ctx context.Context, runID string, index int, server, tool string, args map[string]any) (*models.StepRecord, error) {
	now := time.Now().UTC()
	step := &models.StepRecord{
		ID:        uuid.New().String(),
		RunID:     runID,
		StepIndex: index,
		Server:    server,
		Tool:      tool,
		Arguments: args,
		Status:    models.StepStatusRunning,
		StartedAt: &now,
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal step arguments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (id, run_id, step_index, server, tool, arguments, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, runID, index, server, tool, string(argsJSON), step.Status, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert step: %w", err)
	}
	return step, nil
}

// CompleteStep marks a step completed with its decoded result.
func (s *Store) CompleteStep(ctx context.Context, stepID string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal step result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_steps SET status = ?, result = ?, completed_at = ?
		WHERE id = ?`,
		models.StepStatusCompleted, string(resultJSON), formatTime(time.Now().UTC()), stepID)
	if err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%q: %w", stepID, ErrStepNotFound)
	}
	return nil
}

// FailStep marks a step failed with an error description.
func (s *Store) FailStep(ctx context.Context, stepID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_steps SET status = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		models.StepStatusFailed, errMsg, formatTime(time.Now().UTC()), stepID)
	if err != nil {
		return fmt.Errorf("fail step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%q: %w", stepID, ErrStepNotFound)
	}
	return nil
}

// GetRun returns a run with its step records joined, ordered by step index.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, trigger_payload, error, started_at, completed_at, duration_ms
		FROM workflow_runs WHERE id = ?`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_index, server, tool, arguments, status, result, error, started_at, completed_at
		FROM workflow_steps WHERE run_id = ? ORDER BY step_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		run.Steps = append(run.Steps, *step)
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs of a workflow, without steps.
func (s *Store) ListRuns(ctx context.Context, workflowID string, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, status, trigger_payload, error, started_at, completed_at, duration_ms
		FROM workflow_runs WHERE workflow_id = ?
		ORDER BY started_at DESC LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- row scanning ---

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		w          models.Workflow
		conditions string
		steps      string
		active     int
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.TriggerEvent,
		&conditions, &steps, &active, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	if err := json.Unmarshal([]byte(conditions), &w.TriggerConditions); err != nil {
		return nil, fmt.Errorf("unmarshal trigger conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &w.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	w.Active = active != 0
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse workflow created_at: %w", err)
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse workflow updated_at: %w", err)
	}
	return &w, nil
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run         models.Run
		payload     string
		errMsg      sql.NullString
		startedAt   string
		completedAt sql.NullString
		durationMs  sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.WorkflowID, &run.Status, &payload,
		&errMsg, &startedAt, &completedAt, &durationMs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &run.TriggerPayload); err != nil {
		return nil, fmt.Errorf("unmarshal trigger payload: %w", err)
	}
	run.Error = errMsg.String
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse run started_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse run completed_at: %w", err)
		}
		run.CompletedAt = &t
	}
	if durationMs.Valid {
		run.DurationMs = &durationMs.Int64
	}
	return &run, nil
}

func scanStep(row scanner) (*models.StepRecord, error) {
	var (
		step        models.StepRecord
		args        string
		result      sql.NullString
		errMsg      sql.NullString
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	err := row.Scan(&step.ID, &step.RunID, &step.StepIndex, &step.Server, &step.Tool,
		&args, &step.Status, &result, &errMsg, &startedAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}
	if err := json.Unmarshal([]byte(args), &step.Arguments); err != nil {
		return nil, fmt.Errorf("unmarshal step arguments: %w", err)
	}
	if result.Valid {
		var decoded any
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, fmt.Errorf("unmarshal step result: %w", err)
		}
		step.Result = decoded
	}
	step.Error = errMsg.String
	if startedAt.Valid {
		t, err := parseTime(startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse step started_at: %w", err)
		}
		step.StartedAt = &t
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse step completed_at: %w", err)
		}
		step.CompletedAt = &t
	}
	return &step, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
