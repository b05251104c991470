package workflow

import "github.com/mcp-suite/fabric/pkg/bus"

// Lifecycle events published by the engine around each run.
const (
	EventWorkflowTriggered = "workflow:triggered"
	EventWorkflowCompleted = "workflow:completed"
	EventWorkflowFailed    = "workflow:failed"
)

// RegisterFabricEvents registers the engine's lifecycle event schemas.
// Call once at startup before constructing the engine.
func RegisterFabricEvents(r *bus.Registry) {
	r.MustRegister(EventWorkflowTriggered, bus.Schema{Fields: []bus.Field{
		{Name: "workflowId", Kind: bus.KindString, Required: true},
		{Name: "workflowName", Kind: bus.KindString, Required: true},
		{Name: "runId", Kind: bus.KindString, Required: true},
	}})
	r.MustRegister(EventWorkflowCompleted, bus.Schema{Fields: []bus.Field{
		{Name: "runId", Kind: bus.KindString, Required: true},
	}})
	r.MustRegister(EventWorkflowFailed, bus.Schema{Fields: []bus.Field{
		{Name: "runId", Kind: bus.KindString, Required: true},
		{Name: "error", Kind: bus.KindString, Required: true},
	}})
}
