package mcp

import (
	"fmt"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// createTransport builds an MCP SDK client transport for a registry entry.
// In-memory entries have no dialable transport; they are attached with a
// pre-created linked pair via ConnectInMemory.
func createTransport(entry ServerEntry) (mcpsdk.Transport, error) {
	switch entry.Transport {
	case TransportStdio:
		return createStdioTransport(entry), nil
	case TransportHTTP:
		return &mcpsdk.StreamableClientTransport{Endpoint: entry.URL}, nil
	case TransportInMemory:
		return nil, fmt.Errorf("%q: %w", entry.Name, ErrTransportMismatch)
	default:
		return nil, fmt.Errorf("%w: unsupported transport %q", ErrInvalidEntry, entry.Transport)
	}
}

func createStdioTransport(entry ServerEntry) *mcpsdk.CommandTransport {
	cmd := exec.Command(entry.Command, entry.Args...)

	// Inherit parent environment + entry overrides. The child's stderr flows
	// to ours: peer stderr is logging only.
	env := os.Environ()
	for k, v := range entry.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env
	cmd.Stderr = os.Stderr

	return &mcpsdk.CommandTransport{Command: cmd}
}

// CreateInMemoryPair returns a linked transport pair: writes on one end are
// reads on the other. The server side connects the second endpoint; the
// first is handed to ConnectInMemory. Used for tests and co-located servers.
func CreateInMemoryPair() (*mcpsdk.InMemoryTransport, *mcpsdk.InMemoryTransport) {
	return mcpsdk.NewInMemoryTransports()
}
