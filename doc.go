// Package termagent implements an embeddable agent runtime for terminal
// hosts: a bounded control loop that feeds conversation history and a tool
// catalog to a model, executes the tool calls the model requests (built-in
// terminal actions locally, namespaced MCP tools through the mcp package's
// Manager) and decides each round whether to continue or stop.
//
// The loop is provider-agnostic: any implementation of ModelClient can act
// as the event source. provider/anthropic ships the default adapter.
package termagent
