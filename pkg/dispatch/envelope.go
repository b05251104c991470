package dispatch

import (
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// TextResult builds a successful result envelope with one text part.
func TextResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

// JSONResult marshals v and wraps it in a successful result envelope. The
// text part carries a JSON document by application convention.
func JSONResult(v any) *mcpsdk.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return Errorf("failed to encode result: %s", err)
	}
	return TextResult(string(data))
}

// Errorf builds an error envelope with a human-readable description.
func Errorf(format string, args ...any) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
