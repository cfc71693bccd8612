// Package mcp implements an MCP (Model Context Protocol) client: JSON-RPC
// transports over subprocess pipes, SSE, and streamable HTTP, plus a Manager
// that owns the live connections and routes namespaced tool calls to them.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TransportType identifies the MCP transport protocol.
type TransportType string

const (
	// TransportStdio communicates via a subprocess's stdin/stdout.
	TransportStdio TransportType = "stdio"

	// TransportSSE communicates via HTTP Server-Sent Events plus
	// per-request POSTs.
	TransportSSE TransportType = "sse"

	// TransportStreamableHTTP communicates via a single HTTP endpoint
	// with optional chunked event responses.
	TransportStreamableHTTP TransportType = "streamable-http"
)

// ServerConfig describes how to reach a single MCP server. It is the
// user-edited, persisted record; IDs are stable and never reused within a
// session after deletion.
type ServerConfig struct {
	// ID uniquely identifies the server across the config list.
	ID string `json:"id"`

	// Name is the human-readable label shown in status output.
	Name string `json:"name"`

	// Transport selects the communication protocol.
	Transport TransportType `json:"transport"`

	// Command is the executable to spawn (stdio transport only).
	Command string `json:"command,omitempty"`

	// Args are command-line arguments for the subprocess.
	Args []string `json:"args,omitempty"`

	// Env are extra environment variables for the subprocess.
	Env map[string]string `json:"env,omitempty"`

	// Cwd is the working directory for the subprocess.
	Cwd string `json:"cwd,omitempty"`

	// URL is the server address (sse and streamable-http transports).
	URL string `json:"url,omitempty"`

	// Headers are extra HTTP headers sent with every request.
	Headers map[string]string `json:"headers,omitempty"`

	// Enabled marks the entry as eligible for connection.
	Enabled bool `json:"enabled"`

	// AutoConnect requests a connection attempt at startup.
	AutoConnect bool `json:"autoConnect,omitempty"`

	// TimeoutMs overrides the Manager's default per-call timeout.
	TimeoutMs int `json:"timeout,omitempty"`
}

// CallTimeout returns the per-call timeout for this server, or fallback if
// no override is configured.
func (c ServerConfig) CallTimeout(fallback time.Duration) time.Duration {
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// Validate checks that the config names an ID and carries the fields its
// transport type requires.
func (c ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidConfig)
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("%w: stdio transport requires command", ErrInvalidConfig)
		}
	case TransportSSE, TransportStreamableHTTP:
		if c.URL == "" {
			return fmt.Errorf("%w: %s transport requires url", ErrInvalidConfig, c.Transport)
		}
	case "":
		if c.Command == "" && c.URL == "" {
			return fmt.Errorf("%w: neither command nor url set", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	return nil
}

// importedServer is one entry of the foreign "mcpServers" config shape used
// by Claude Desktop style configs.
type importedServer struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type importedConfig struct {
	MCPServers map[string]importedServer `json:"mcpServers"`
}

// ImportServers parses a foreign config document keyed by server name under
// "mcpServers". URL entries are auto-detected as SSE when the URL contains
// "sse", streamable-http otherwise. The entry name becomes both ID and Name.
func ImportServers(data []byte) ([]ServerConfig, error) {
	var doc importedConfig
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mcp: parse import: %w", err)
	}
	if len(doc.MCPServers) == 0 {
		return nil, fmt.Errorf("%w: no mcpServers entries", ErrInvalidConfig)
	}

	configs := make([]ServerConfig, 0, len(doc.MCPServers))
	for name, entry := range doc.MCPServers {
		cfg := ServerConfig{
			ID:      name,
			Name:    name,
			Enabled: true,
		}
		switch {
		case entry.Command != "":
			cfg.Transport = TransportStdio
			cfg.Command = entry.Command
			cfg.Args = entry.Args
			cfg.Env = entry.Env
			cfg.Cwd = entry.Cwd
		case entry.URL != "":
			cfg.URL = entry.URL
			cfg.Headers = entry.Headers
			if strings.Contains(strings.ToLower(entry.URL), "sse") {
				cfg.Transport = TransportSSE
			} else {
				cfg.Transport = TransportStreamableHTTP
			}
		default:
			return nil, fmt.Errorf("%w: entry %q has neither command nor url", ErrInvalidConfig, name)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
