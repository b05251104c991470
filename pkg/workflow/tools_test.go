package workflow

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-suite/fabric/pkg/dispatch"
)

// startToolSession serves the workflow tools over an in-memory pair and
// returns a connected client session.
func startToolSession(t *testing.T, f *engineFixture) *mcpsdk.ClientSession {
	t.Helper()

	d := dispatch.New("fabric", f.bus)
	RegisterTools(d, f.store, f.engine)

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = d.Run(context.Background(), serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callDecoded(t *testing.T, session *mcpsdk.ClientSession, tool string, args map[string]any) map[string]any {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name: tool, Arguments: args,
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "tool %s returned error envelope", tool)

	var text string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text += tc.Text
		}
	}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	return decoded
}

func TestTools_WorkflowLifecycle(t *testing.T) {
	f := newEngineFixture(t, "task:blocked")
	session := startToolSession(t, f)

	f.connectPeer(t, "scrum-board", map[string]mcpsdk.ToolHandler{
		"get-task": func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return jsonResult(map[string]any{"title": "fix login"}), nil
		},
	})

	created := callDecoded(t, session, "create-workflow", map[string]any{
		"name":         "escalate",
		"triggerEvent": "task:blocked",
		"steps": []any{
			map[string]any{"server": "scrum-board", "tool": "get-task",
				"arguments": map[string]any{"taskId": "{{payload.taskId}}"}},
		},
	})
	workflowID := created["id"].(string)
	require.NotEmpty(t, workflowID)
	assert.Equal(t, true, created["active"])

	run := callDecoded(t, session, "trigger-workflow", map[string]any{
		"workflowId": workflowID,
		"payload":    map[string]any{"taskId": "t-1"},
	})
	assert.Equal(t, "completed", run["status"])
	steps := run["steps"].([]any)
	require.Len(t, steps, 1)

	fetched := callDecoded(t, session, "get-workflow-run", map[string]any{
		"runId": run["id"],
	})
	assert.Equal(t, "completed", fetched["status"])

	toggled := callDecoded(t, session, "toggle-workflow", map[string]any{
		"workflowId": workflowID,
		"active":     false,
	})
	assert.Equal(t, false, toggled["active"])
}

func TestTools_ListWorkflows(t *testing.T) {
	f := newEngineFixture(t, "task:blocked")
	session := startToolSession(t, f)

	callDecoded(t, session, "create-workflow", map[string]any{
		"name":         "one",
		"triggerEvent": "task:blocked",
		"steps":        []any{map[string]any{"server": "s", "tool": "t"}},
	})

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name: "list-workflows", Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var text string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text += tc.Text
		}
	}
	var workflows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &workflows))
	require.Len(t, workflows, 1)
	assert.Equal(t, "one", workflows[0]["name"])
}

func TestTools_CreateWorkflow_Invalid(t *testing.T) {
	f := newEngineFixture(t)
	session := startToolSession(t, f)

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name: "create-workflow",
		Arguments: map[string]any{
			"name":         "broken",
			"triggerEvent": "task:blocked",
			"steps":        []any{},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTools_GetRun_NotFound(t *testing.T) {
	f := newEngineFixture(t)
	session := startToolSession(t, f)

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "get-workflow-run",
		Arguments: map[string]any{"runId": "no-such-run"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
