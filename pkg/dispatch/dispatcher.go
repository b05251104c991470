// Package dispatch wires named tools onto an MCP server: argument
// validation against compile-time schemas, result envelope construction,
// panic containment, and event emission after side effects.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-suite/fabric/pkg/bus"
	"github.com/mcp-suite/fabric/pkg/version"
)

// ToolFunc is a tool implementation. Arguments have already passed schema
// validation. Returning an error envelope (Errorf) reports a domain failure
// to the caller; returning a Go error is reserved for transport-level
// problems and is surfaced by the SDK.
type ToolFunc func(ctx context.Context, args map[string]any) (*mcpsdk.CallToolResult, error)

// ToolDef describes one tool to register.
type ToolDef struct {
	Name        string
	Description string
	Schema      Schema
}

// Dispatcher owns one server's MCP surface and its link to the event bus.
type Dispatcher struct {
	server *mcpsdk.Server
	bus    *bus.Bus
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher serving under the given server name. The bus may
// be nil for servers that never publish events.
func New(serverName string, b *bus.Bus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		server: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    serverName,
			Version: version.GitCommit,
		}, nil),
		bus:    b,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Server returns the underlying MCP server, for connecting transports.
func (d *Dispatcher) Server() *mcpsdk.Server { return d.server }

// RegisterTool adds a tool with schema-validated arguments. Validation
// failures and handler panics become error envelopes; neither reaches the
// wire as a protocol error.
func (d *Dispatcher) RegisterTool(def ToolDef, fn ToolFunc) {
	d.server.AddTool(&mcpsdk.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: def.Schema.JSONSchema(),
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (result *mcpsdk.CallToolResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool handler panicked", "tool", def.Name, "panic", r)
				result = Errorf("internal error in tool %q", def.Name)
				err = nil
			}
		}()

		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if uerr := json.Unmarshal(req.Params.Arguments, &args); uerr != nil {
				return Errorf("failed to parse tool arguments: %s", uerr), nil
			}
		}

		if errs := def.Schema.Validate(args); len(errs) > 0 {
			return Errorf("%s", errs.Error()), nil
		}

		return fn(ctx, args)
	})
}

// Publish emits an event through the bus after a side effect. Best-effort:
// failures are logged, never surfaced to the tool caller.
func (d *Dispatcher) Publish(ctx context.Context, event string, payload bus.Payload) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, event, payload); err != nil {
		d.logger.Warn("event publication failed", "event", event, "error", err)
	}
}

// Run serves the dispatcher's MCP surface over the given transport, blocking
// until the context is cancelled or the transport closes.
func (d *Dispatcher) Run(ctx context.Context, transport mcpsdk.Transport) error {
	return d.server.Run(ctx, transport)
}
