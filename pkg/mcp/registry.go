package mcp

import "fmt"

// TransportType selects how the pool reaches a peer server.
type TransportType string

const (
	// TransportStdio spawns the peer as a child process and frames JSON over
	// its stdin/stdout.
	TransportStdio TransportType = "stdio"
	// TransportHTTP speaks streamable HTTP against the peer's /mcp endpoint.
	TransportHTTP TransportType = "http"
	// TransportInMemory uses a pre-created linked transport pair. Entries of
	// this type can only be attached via ConnectInMemory.
	TransportInMemory TransportType = "in-memory"
)

// ServerEntry describes one peer server in the pool registry.
type ServerEntry struct {
	Name      string            `yaml:"name"`
	Transport TransportType     `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
}

// Validate checks the cross-field requirements of the entry's transport.
func (e ServerEntry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	switch e.Transport {
	case TransportStdio:
		if e.Command == "" {
			return fmt.Errorf("%w: %q: stdio transport requires command", ErrInvalidEntry, e.Name)
		}
	case TransportHTTP:
		if e.URL == "" {
			return fmt.Errorf("%w: %q: http transport requires url", ErrInvalidEntry, e.Name)
		}
	case TransportInMemory:
		// Nothing to validate: the linked transport is supplied at attach time.
	default:
		return fmt.Errorf("%w: %q: unsupported transport %q", ErrInvalidEntry, e.Name, e.Transport)
	}
	return nil
}
