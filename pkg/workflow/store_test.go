package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-suite/fabric/pkg/database"
	"github.com/mcp-suite/fabric/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.Config{
		Path: filepath.Join(t.TempDir(), "fabric.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client.DB())
}

func testWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:              "escalate-blocked",
		Description:       "notify when a task blocks",
		TriggerEvent:      "task:blocked",
		TriggerConditions: map[string]any{"priority": "high"},
		Steps: []models.StepSpec{
			{Server: "scrum-board", Tool: "get-task", Arguments: map[string]any{"taskId": "{{payload.taskId}}"}},
			{Server: "notifier", Tool: "send", Arguments: map[string]any{"text": "{{steps[0].result.title}}"}},
		},
		Active: true,
	}
}

func TestStore_CreateAndGetWorkflow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := testWorkflow()
	require.NoError(t, store.CreateWorkflow(ctx, w))
	require.NotEmpty(t, w.ID)
	require.False(t, w.CreatedAt.IsZero())

	got, err := store.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Name, got.Name)
	assert.Equal(t, w.TriggerEvent, got.TriggerEvent)
	assert.Equal(t, w.TriggerConditions, got.TriggerConditions)
	assert.Equal(t, w.Steps, got.Steps)
	assert.True(t, got.Active)
}

func TestStore_CreateWorkflow_Invalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := testWorkflow()
	w.Steps = nil
	assert.Error(t, store.CreateWorkflow(ctx, w))

	w = testWorkflow()
	w.TriggerEvent = ""
	assert.Error(t, store.CreateWorkflow(ctx, w))
}

func TestStore_GetWorkflow_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetWorkflow(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestStore_ListWorkflows_ActiveFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := testWorkflow()
	require.NoError(t, store.CreateWorkflow(ctx, active))

	inactive := testWorkflow()
	inactive.Name = "disabled"
	inactive.Active = false
	require.NoError(t, store.CreateWorkflow(ctx, inactive))

	all, err := store.ListWorkflows(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyActive, err := store.ListWorkflows(ctx, true)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, active.ID, onlyActive[0].ID)
}

func TestStore_ListByTriggerEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blocked := testWorkflow()
	require.NoError(t, store.CreateWorkflow(ctx, blocked))

	other := testWorkflow()
	other.Name = "on-created"
	other.TriggerEvent = "task:created"
	require.NoError(t, store.CreateWorkflow(ctx, other))

	disabled := testWorkflow()
	disabled.Name = "disabled"
	disabled.Active = false
	require.NoError(t, store.CreateWorkflow(ctx, disabled))

	matched, err := store.ListByTriggerEvent(ctx, "task:blocked")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, blocked.ID, matched[0].ID)
}

func TestStore_SetWorkflowActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := testWorkflow()
	require.NoError(t, store.CreateWorkflow(ctx, w))

	toggled, err := store.SetWorkflowActive(ctx, w.ID, false)
	require.NoError(t, err)
	assert.False(t, toggled.Active)

	_, err = store.SetWorkflowActive(ctx, "no-such-id", true)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestStore_RunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := testWorkflow()
	require.NoError(t, store.CreateWorkflow(ctx, w))

	run, err := store.CreateRun(ctx, w.ID, map[string]any{"taskId": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	step, err := store.CreateStep(ctx, run.ID, 0, "scrum-board", "get-task",
		map[string]any{"taskId": "t-1"})
	require.NoError(t, err)
	require.NoError(t, store.CompleteStep(ctx, step.ID, map[string]any{"title": "fix login"}))

	require.NoError(t, store.CompleteRun(ctx, run.ID))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.DurationMs)
	assert.GreaterOrEqual(t, *got.DurationMs, int64(0))
	assert.Equal(t, map[string]any{"taskId": "t-1"}, got.TriggerPayload)

	require.Len(t, got.Steps, 1)
	assert.Equal(t, models.StepStatusCompleted, got.Steps[0].Status)
	assert.Equal(t, map[string]any{"title": "fix login"}, got.Steps[0].Result)
	assert.NotNil(t, got.Steps[0].CompletedAt)
}

func TestStore_FailedRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := testWorkflow()
	require.NoError(t, store.CreateWorkflow(ctx, w))

	run, err := store.CreateRun(ctx, w.ID, map[string]any{})
	require.NoError(t, err)

	step, err := store.CreateStep(ctx, run.ID, 0, "scrum-board", "get-task", map[string]any{})
	require.NoError(t, err)
	require.NoError(t, store.FailStep(ctx, step.ID, "step 0: connection: dial failed"))
	require.NoError(t, store.FailRun(ctx, run.ID, "step 0: connection: dial failed"))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, models.StepStatusFailed, got.Steps[0].Status)
	assert.NotEmpty(t, got.Steps[0].Error)
}

func TestStore_StepOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := testWorkflow()
	require.NoError(t, store.CreateWorkflow(ctx, w))
	run, err := store.CreateRun(ctx, w.ID, map[string]any{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		step, err := store.CreateStep(ctx, run.ID, i, "s", "t", map[string]any{})
		require.NoError(t, err)
		require.NoError(t, store.CompleteStep(ctx, step.ID, i))
	}

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 3)
	for i, s := range got.Steps {
		assert.Equal(t, i, s.StepIndex)
	}
}

func TestStore_GetRun_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
