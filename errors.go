package termagent

import "errors"

// Sentinel errors returned by the agent loop.
var (
	// ErrUnknownTool marks a tool name that matches neither a built-in
	// nor a routable MCP composite name. It becomes an error-flagged tool
	// result, never a loop failure.
	ErrUnknownTool = errors.New("termagent: unknown tool")

	// ErrLoopRunning is returned when Run is called on a loop that is
	// already running.
	ErrLoopRunning = errors.New("termagent: loop already running")
)
