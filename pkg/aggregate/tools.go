package aggregate

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-suite/fabric/pkg/dispatch"
	"github.com/mcp-suite/fabric/pkg/mcp"
)

// Source names one slice of a composite view: which tool on which peer
// produces it.
type Source struct {
	Name      string
	Server    string
	Tool      string
	Arguments map[string]any
}

// DefaultOverviewSources are the peers consulted by get-overview.
var DefaultOverviewSources = []Source{
	{Name: "board", Server: "scrum-board", Tool: "get-board-summary"},
	{Name: "metrics", Server: "agile-metrics", Tool: "get-metrics-summary"},
	{Name: "logs", Server: "log-analyzer", Tool: "get-recent-errors"},
}

// DefaultProjectSources are the peers consulted by get-project-summary. The
// projectId argument is forwarded to each.
var DefaultProjectSources = []Source{
	{Name: "board", Server: "scrum-board", Tool: "get-project-board"},
	{Name: "metrics", Server: "agile-metrics", Tool: "get-project-metrics"},
}

// RegisterTools exposes the aggregator surface on a dispatcher.
func RegisterTools(d *dispatch.Dispatcher, agg *Aggregator, pool *mcp.Pool) {
	d.RegisterTool(dispatch.ToolDef{
		Name:        "get-overview",
		Description: "Composite status view across all peer servers",
		Schema: dispatch.Schema{Fields: []dispatch.Field{
			{Name: "forceRefresh", Type: dispatch.TypeBoolean, Description: "Bypass the cache and rebuild"},
		}},
	}, func(ctx context.Context, args map[string]any) (*mcpsdk.CallToolResult, error) {
		force, _ := args["forceRefresh"].(bool)
		composite, err := agg.Aggregate(ctx, "overview", "global",
			sourceFetchers(pool, DefaultOverviewSources, nil), 60*time.Second, force)
		if err != nil {
			return dispatch.Errorf("build overview: %s", err), nil
		}
		return dispatch.JSONResult(composite), nil
	})

	d.RegisterTool(dispatch.ToolDef{
		Name:        "get-project-summary",
		Description: "Composite view of one project across peer servers",
		Schema: dispatch.Schema{Fields: []dispatch.Field{
			{Name: "projectId", Type: dispatch.TypeString, Description: "Project identifier", Required: true},
			{Name: "forceRefresh", Type: dispatch.TypeBoolean, Description: "Bypass the cache and rebuild"},
		}},
	}, func(ctx context.Context, args map[string]any) (*mcpsdk.CallToolResult, error) {
		projectID, _ := args["projectId"].(string)
		force, _ := args["forceRefresh"].(bool)
		composite, err := agg.Aggregate(ctx, "project-summary", projectID,
			sourceFetchers(pool, DefaultProjectSources, map[string]any{"projectId": projectID}),
			60*time.Second, force)
		if err != nil {
			return dispatch.Errorf("build project summary: %s", err), nil
		}
		return dispatch.JSONResult(composite), nil
	})

	d.RegisterTool(dispatch.ToolDef{
		Name:        "get-server-status",
		Description: "Connection state and advertised tool count of every registered peer",
		Schema: dispatch.Schema{Fields: []dispatch.Field{
			{Name: "forceRefresh", Type: dispatch.TypeBoolean, Description: "Bypass the cache and rebuild"},
		}},
	}, func(ctx context.Context, args map[string]any) (*mcpsdk.CallToolResult, error) {
		force, _ := args["forceRefresh"].(bool)
		composite, err := agg.Aggregate(ctx, "server-status", "global",
			statusFetchers(pool), 30*time.Second, force)
		if err != nil {
			return dispatch.Errorf("build server status: %s", err), nil
		}
		return dispatch.JSONResult(composite), nil
	})
}

// sourceFetchers adapts peer tool calls into fetchers. An error envelope
// from a peer counts as unavailable, same as a transport failure.
func sourceFetchers(pool *mcp.Pool, sources []Source, extraArgs map[string]any) []Fetcher {
	fetchers := make([]Fetcher, len(sources))
	for i, src := range sources {
		src := src
		fetchers[i] = Fetcher{
			Name: src.Name,
			Fetch: func(ctx context.Context) (any, error) {
				args := make(map[string]any, len(src.Arguments)+len(extraArgs))
				for k, v := range src.Arguments {
					args[k] = v
				}
				for k, v := range extraArgs {
					args[k] = v
				}
				result, err := pool.CallTool(ctx, src.Server, src.Tool, args)
				if err != nil {
					return nil, err
				}
				if result.IsError {
					return nil, nil
				}
				return mcp.DecodeResult(result), nil
			},
		}
	}
	return fetchers
}

// statusFetchers probes every registered peer with a tools/list round trip.
func statusFetchers(pool *mcp.Pool) []Fetcher {
	names := pool.RegisteredServers()
	fetchers := make([]Fetcher, len(names))
	for i, name := range names {
		name := name
		fetchers[i] = Fetcher{
			Name: name,
			Fetch: func(ctx context.Context) (any, error) {
				tools, err := pool.ListTools(ctx, name)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"connected": true,
					"toolCount": len(tools),
				}, nil
			},
		}
	}
	return fetchers
}
