package workflow

import (
	"context"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-suite/fabric/pkg/dispatch"
	"github.com/mcp-suite/fabric/pkg/models"
)

// RegisterTools exposes the workflow surface on a dispatcher: definition
// management, explicit triggering, and run inspection.
func RegisterTools(d *dispatch.Dispatcher, store *Store, engine *Engine) {
	d.RegisterTool(dispatch.ToolDef{
		Name:        "create-workflow",
		Description: "Create a workflow definition triggered by a bus event",
		Schema: dispatch.Schema{Fields: []dispatch.Field{
			{Name: "name", Type: dispatch.TypeString, Description: "Human-readable workflow name", Required: true},
			{Name: "description", Type: dispatch.TypeString, Description: "What the workflow does"},
			{Name: "triggerEvent", Type: dispatch.TypeString, Description: "Event name that triggers the workflow", Required: true},
			{Name: "triggerConditions", Type: dispatch.TypeObject, Description: "Flat payload conditions that must all match"},
			{Name: "steps", Type: dispatch.TypeArray, Description: "Ordered tool invocations, each {server, tool, arguments}", Required: true},
			{Name: "active", Type: dispatch.TypeBoolean, Description: "Whether the workflow starts enabled (default true)"},
		}},
	}, func(ctx context.Context, args map[string]any) (*mcpsdk.CallToolResult, error) {
		w, err := workflowFromArgs(args)
		if err != nil {
			return dispatch.Errorf("%s", err), nil
		}
		if err := store.CreateWorkflow(ctx, w); err != nil {
			return dispatch.Errorf("create workflow: %s", err), nil
		}
		return dispatch.JSONResult(w), nil
	})

	d.RegisterTool(dispatch.ToolDef{
		Name:        "list-workflows",
		Description: "List workflow definitions, newest first",
		Schema: dispatch.Schema{Fields: []dispatch.Field{
			{Name: "activeOnly", Type: dispatch.TypeBoolean, Description: "Return only active workflows"},
		}},
	}, func(ctx context.Context, args map[string]any) (*mcpsdk.CallToolResult, error) {
		activeOnly, _ := args["activeOnly"].(bool)
		workflows, err := store.ListWorkflows(ctx, activeOnly)
		if err != nil {
			return dispatch.Errorf("list workflows: %s", err), nil
		}
		if workflows == nil {
			workflows = []*models.Workflow{}
		}
		return dispatch.JSONResult(workflows), nil
	})

	d.RegisterTool(dispatch.ToolDef{
		Name:        "toggle-workflow",
		Description: "Enable or disable a workflow definition",
		Schema: dispatch.Schema{Fields: []dispatch.Field{
			{Name: "workflowId", Type: dispatch.TypeString, Description: "Workflow id", Required: true},
			{Name: "active", Type: dispatch.TypeBoolean, Description: "Desired active state", Required: true},
		}},
	}, func(ctx context.Context, args map[string]any) (*mcpsdk.CallToolResult, error) {
		id, _ := args["workflowId"].(string)
		active, _ := args["active"].(bool)
		w, err := store.SetWorkflowActive(ctx, id, active)
		if err != nil {
			if errors.Is(err, ErrWorkflowNotFound) {
				return dispatch.Errorf("workflow %q not found", id), nil
			}
			return dispatch.Errorf("toggle workflow: %s", err), nil
		}
		return dispatch.JSONResult(w), nil
	})

	d.RegisterTool(dispatch.ToolDef{
		Name:        "trigger-workflow",
		Description: "Execute a workflow synchronously with an explicit payload, bypassing trigger conditions",
		Schema: dispatch.Schema{Fields: []dispatch.Field{
			{Name: "workflowId", Type: dispatch.TypeString, Description: "Workflow id", Required: true},
			{Name: "payload", Type: dispatch.TypeObject, Description: "Payload visible to step templates"},
		}},
	}, func(ctx context.Context, args map[string]any) (*mcpsdk.CallToolResult, error) {
		id, _ := args["workflowId"].(string)
		payload, _ := args["payload"].(map[string]any)
		if payload == nil {
			payload = map[string]any{}
		}
		runID, runErr := engine.Trigger(ctx, id, payload)
		if runErr != nil && runID == "" {
			if errors.Is(runErr, ErrWorkflowNotFound) {
				return dispatch.Errorf("workflow %q not found", id), nil
			}
			return dispatch.Errorf("trigger workflow: %s", runErr), nil
		}
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return dispatch.Errorf("load run %q: %s", runID, err), nil
		}
		return dispatch.JSONResult(run), nil
	})

	d.RegisterTool(dispatch.ToolDef{
		Name:        "get-workflow-run",
		Description: "Fetch one workflow run with its step records",
		Schema: dispatch.Schema{Fields: []dispatch.Field{
			{Name: "runId", Type: dispatch.TypeString, Description: "Run id", Required: true},
		}},
	}, func(ctx context.Context, args map[string]any) (*mcpsdk.CallToolResult, error) {
		id, _ := args["runId"].(string)
		run, err := store.GetRun(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRunNotFound) {
				return dispatch.Errorf("run %q not found", id), nil
			}
			return dispatch.Errorf("load run: %s", err), nil
		}
		return dispatch.JSONResult(run), nil
	})
}

// workflowFromArgs builds a definition from validated tool arguments. Steps
// arrive as generic JSON and are checked field by field.
func workflowFromArgs(args map[string]any) (*models.Workflow, error) {
	w := &models.Workflow{Active: true}
	w.Name, _ = args["name"].(string)
	w.Description, _ = args["description"].(string)
	w.TriggerEvent, _ = args["triggerEvent"].(string)
	if c, ok := args["triggerConditions"].(map[string]any); ok {
		w.TriggerConditions = c
	}
	if a, ok := args["active"].(bool); ok {
		w.Active = a
	}

	rawSteps, _ := args["steps"].([]any)
	for i, raw := range rawSteps {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("step %d: expected object, got %T", i, raw)
		}
		spec := models.StepSpec{}
		spec.Server, _ = m["server"].(string)
		spec.Tool, _ = m["tool"].(string)
		if a, ok := m["arguments"].(map[string]any); ok {
			spec.Arguments = a
		}
		w.Steps = append(w.Steps, spec)
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}
