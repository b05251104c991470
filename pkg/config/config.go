// Package config loads the fabric's settings from environment variables and
// the peer server inventory from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds process-level settings, loaded from environment variables.
type Config struct {
	// HTTPPort is the port of the HTTP surface (health, REST, streamable MCP).
	HTTPPort int

	// DBPath is the SQLite file backing workflows, runs, and the cache.
	DBPath string

	// ServersFile is the YAML inventory of peer MCP servers.
	ServersFile string
}

// LoadFromEnv reads configuration from environment variables, applying
// defaults for anything unset.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		HTTPPort:    8090,
		DBPath:      getEnvOrDefault("FABRIC_DB_PATH", "./fabric.db"),
		ServersFile: getEnvOrDefault("FABRIC_SERVERS_FILE", "./servers.yaml"),
	}

	if portStr := os.Getenv("FABRIC_HTTP_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("%w: FABRIC_HTTP_PORT %q", ErrValidationFailed, portStr)
		}
		cfg.HTTPPort = port
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
