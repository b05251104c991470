package mcp

import (
	"encoding/json"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ExtractText concatenates the text parts of a tool-call result envelope.
// Non-text content (images, embedded resources) is skipped.
func ExtractText(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// DecodeResult parses the envelope's text as JSON when possible, keeping the
// raw string otherwise. Successful tool results carry either plain text or a
// JSON document by application convention; callers that chain results (the
// workflow engine's step context) want the structured form when one exists.
func DecodeResult(result *mcpsdk.CallToolResult) any {
	text := ExtractText(result)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded
	}
	return text
}
