package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcp-suite/fabric/pkg/mcp"
)

// serversFile is the YAML shape of the peer inventory.
type serversFile struct {
	Servers []mcp.ServerEntry `yaml:"servers"`
}

// LoadServers reads the peer server inventory from a YAML file. Environment
// variables in the file are expanded before parsing, and per-server
// MCP_SUITE_<NAME>_URL overrides are applied afterwards so deployments can
// repoint an HTTP peer without editing the file. A missing file is an error;
// run with an empty servers list to opt out of peers.
func LoadServers(path string) ([]mcp.ServerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	var file serversFile
	if err := yaml.Unmarshal(ExpandEnv(data), &file); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	for i := range file.Servers {
		applyURLOverride(&file.Servers[i])
		if err := file.Servers[i].Validate(); err != nil {
			return nil, NewLoadError(path, err)
		}
	}
	return file.Servers, nil
}

// applyURLOverride repoints an entry at MCP_SUITE_<NAME>_URL when set. The
// name is uppercased with dashes mapped to underscores: the scrum-board
// entry reads MCP_SUITE_SCRUM_BOARD_URL. Setting an override on a stdio
// entry switches it to the HTTP transport.
func applyURLOverride(entry *mcp.ServerEntry) {
	envName := "MCP_SUITE_" + strings.ToUpper(strings.ReplaceAll(entry.Name, "-", "_")) + "_URL"
	if url := os.Getenv(envName); url != "" {
		entry.Transport = mcp.TransportHTTP
		entry.URL = url
	}
}
