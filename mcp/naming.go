package mcp

import "strings"

// compositePrefix namespaces every server tool advertised to the model.
const compositePrefix = "mcp_"

// CompositeToolName returns the namespaced catalog name for a server tool:
// mcp_{serverID}_{toolName}.
func CompositeToolName(serverID, toolName string) string {
	return compositePrefix + serverID + "_" + toolName
}

// IsCompositeToolName reports whether name belongs to this namespace.
// Names without the prefix are never routed to MCP servers.
func IsCompositeToolName(name string) bool {
	return strings.HasPrefix(name, compositePrefix)
}

// ParseCompositeToolName splits a composite name back into its server ID
// and tool name. The split takes the first segment after the prefix as the
// server ID and rejoins the remainder, so it is the inverse of
// CompositeToolName whenever the server ID itself contains no underscore.
func ParseCompositeToolName(name string) (serverID, toolName string, ok bool) {
	if !strings.HasPrefix(name, compositePrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, compositePrefix)
	i := strings.Index(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
