package mcp

import (
	"encoding/json"
	"strings"
)

// protocolVersion is the MCP protocol revision this client speaks.
const protocolVersion = "2024-11-05"

// JSON-RPC method names used by the client.
const (
	methodInitialize    = "initialize"
	methodInitialized   = "notifications/initialized"
	methodToolsList     = "tools/list"
	methodResourcesList = "resources/list"
	methodToolsCall     = "tools/call"
)

// request is a JSON-RPC 2.0 request envelope. A request without an ID is a
// notification and expects no response.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response envelope.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is an inbound server message with no matching request ID.
// Transports deliver these on their Notifications channel.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC error object returned by a server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// initializeParams is sent as the first request on every connection.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the server's half of the handshake.
type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    map[string]any  `json:"capabilities"`
	ServerInfo      json.RawMessage `json:"serverInfo,omitempty"`
}

// ToolInfo describes a tool discovered from an MCP server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource describes a resource exposed by an MCP server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

type resourcesListResult struct {
	Resources []Resource `json:"resources"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// callToolResult is the implementation-defined result of tools/call. Servers
// return a list of content blocks; text blocks are the common case.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

// unmarshalResult decodes a JSON-RPC result payload into out.
func unmarshalResult(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// renderToolResult flattens a tools/call result into display text. Non-text
// content and unrecognized shapes fall back to the raw JSON.
func renderToolResult(raw json.RawMessage) (text string, isError bool) {
	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil || len(result.Content) == 0 {
		return string(raw), false
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return string(raw), result.IsError
	}
	return strings.Join(parts, "\n"), result.IsError
}
