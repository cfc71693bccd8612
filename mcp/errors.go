package mcp

import (
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for the MCP package.
var (
	// ErrNotConnected is returned when attempting to use a transport or
	// server that has not established a connection.
	ErrNotConnected = errors.New("mcp: server not connected")

	// ErrServerNotFound is returned when referencing a server ID that
	// does not exist in the Manager.
	ErrServerNotFound = errors.New("mcp: server not found")

	// ErrToolNotFound is returned when a composite tool name cannot be
	// resolved to a known server/tool pair.
	ErrToolNotFound = errors.New("mcp: tool not found")

	// ErrInvalidConfig is returned when a ServerConfig is missing
	// required fields for its transport type.
	ErrInvalidConfig = errors.New("mcp: invalid server config")

	// ErrTimeout is returned when a request receives no response within
	// the per-call window. It drives the tool-call retry policy.
	ErrTimeout = errors.New("mcp: request timed out")

	// ErrDisconnected rejects pending calls when a transport is torn
	// down or its underlying channel fails.
	ErrDisconnected = errors.New("mcp: transport disconnected")
)

// ConnectError wraps a failure to reach a server or complete the handshake.
// It is surfaced to the Connect caller and never auto-retried by the Manager.
type ConnectError struct {
	ServerID string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mcp: connect %s: %s", e.ServerID, Redact(e.Err.Error()))
}

func (e *ConnectError) Unwrap() error { return e.Err }

// credentialPattern matches key/token/password style assignments and bearer
// values that must never reach user-facing error text.
var credentialPattern = regexp.MustCompile(
	`(?i)((?:api[_-]?key|token|password|secret|authorization|bearer)["']?[=:\s]+)[^\s"']+`)

// Redact masks credential-like substrings in a message so transport and
// server errors can be surfaced to users otherwise verbatim.
func Redact(msg string) string {
	return credentialPattern.ReplaceAllString(msg, "${1}[redacted]")
}
