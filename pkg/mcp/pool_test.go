package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// startTestServer creates an in-memory MCP server with given tools and
// returns the client-side endpoint of its transport pair.
func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *mcpsdk.InMemoryTransport {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: name, Version: "test",
	}, nil)

	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := CreateInMemoryPair()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()
	return clientTransport
}

func echoTool(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args map[string]any
	_ = json.Unmarshal(req.Params.Arguments, &args)
	data, _ := json.Marshal(args)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}

func newConnectedPool(t *testing.T, serverName string, tools map[string]mcpsdk.ToolHandler) *Pool {
	t.Helper()
	pool := NewPool()
	endpoint := startTestServer(t, serverName, tools)
	require.NoError(t, pool.ConnectInMemory(context.Background(), serverName, endpoint))
	t.Cleanup(func() { _ = pool.DisconnectAll() })
	return pool
}

func TestServerEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   ServerEntry
		wantErr bool
	}{
		{"valid stdio", ServerEntry{Name: "board", Transport: TransportStdio, Command: "scrum-board"}, false},
		{"stdio without command", ServerEntry{Name: "board", Transport: TransportStdio}, true},
		{"valid http", ServerEntry{Name: "metrics", Transport: TransportHTTP, URL: "http://localhost:9000/mcp"}, false},
		{"http without url", ServerEntry{Name: "metrics", Transport: TransportHTTP}, true},
		{"in-memory", ServerEntry{Name: "fake", Transport: TransportInMemory}, false},
		{"missing name", ServerEntry{Transport: TransportStdio, Command: "x"}, true},
		{"unsupported transport", ServerEntry{Name: "x", Transport: "websocket"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.entry.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEntry)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPool_CallTool(t *testing.T) {
	pool := newConnectedPool(t, "scrum-board", map[string]mcpsdk.ToolHandler{
		"echo": echoTool,
	})

	result, err := pool.CallTool(context.Background(), "scrum-board", "echo",
		map[string]any{"taskId": "t-1"})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	decoded := DecodeResult(result)
	assert.Equal(t, map[string]any{"taskId": "t-1"}, decoded)
}

func TestPool_CallTool_NotRegistered(t *testing.T) {
	pool := NewPool()

	_, err := pool.CallTool(context.Background(), "ghost", "echo", nil)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestPool_CallTool_ErrorEnvelopePassedThrough(t *testing.T) {
	pool := newConnectedPool(t, "scrum-board", map[string]mcpsdk.ToolHandler{
		"broken": func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "task not found"}},
				IsError: true,
			}, nil
		},
	})

	// An error envelope is a successful call at the pool level.
	result, err := pool.CallTool(context.Background(), "scrum-board", "broken", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "task not found", ExtractText(result))
}

func TestPool_ListTools(t *testing.T) {
	pool := newConnectedPool(t, "scrum-board", map[string]mcpsdk.ToolHandler{
		"create-task": echoTool,
		"move-task":   echoTool,
	})

	tools, err := pool.ListTools(context.Background(), "scrum-board")
	require.NoError(t, err)
	require.Len(t, tools, 2)

	names := []string{tools[0].Name, tools[1].Name}
	assert.Contains(t, names, "create-task")
	assert.Contains(t, names, "move-task")
}

func TestPool_GetSession_InMemoryEntryRejectsLazyConnect(t *testing.T) {
	pool := NewPool()
	require.NoError(t, pool.Register(ServerEntry{Name: "fake", Transport: TransportInMemory}))

	_, err := pool.GetSession(context.Background(), "fake")
	assert.ErrorIs(t, err, ErrTransportMismatch)
}

func TestPool_ConcurrentCallsShareOneConnection(t *testing.T) {
	pool := newConnectedPool(t, "scrum-board", map[string]mcpsdk.ToolHandler{
		"echo": echoTool,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := pool.CallTool(ctx, "scrum-board", "echo", map[string]any{"n": 1})
			assert.NoError(t, err)
			assert.False(t, result.IsError)
		}()
	}
	wg.Wait()

	assert.True(t, pool.IsConnected("scrum-board"))
}

func TestPool_Disconnect(t *testing.T) {
	pool := newConnectedPool(t, "scrum-board", map[string]mcpsdk.ToolHandler{
		"echo": echoTool,
	})

	require.True(t, pool.IsConnected("scrum-board"))
	require.NoError(t, pool.Disconnect("scrum-board"))
	assert.False(t, pool.IsConnected("scrum-board"))

	// Disconnecting an unconnected server is a no-op.
	assert.NoError(t, pool.Disconnect("scrum-board"))
	assert.NoError(t, pool.Disconnect("never-registered"))

	// The registration survives the disconnect.
	assert.Contains(t, pool.RegisteredServers(), "scrum-board")
}

func TestPool_DisconnectAll_ClosesPool(t *testing.T) {
	pool := newConnectedPool(t, "scrum-board", map[string]mcpsdk.ToolHandler{
		"echo": echoTool,
	})

	require.NoError(t, pool.DisconnectAll())

	_, err := pool.GetSession(context.Background(), "scrum-board")
	assert.ErrorIs(t, err, ErrPoolClosed)

	err = pool.Register(ServerEntry{Name: "late", Transport: TransportInMemory})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_RegisteredServers_Sorted(t *testing.T) {
	pool := NewPool()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, pool.Register(ServerEntry{Name: name, Transport: TransportInMemory}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, pool.RegisteredServers())
}
