package termagent

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation history handed to the model.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall   // assistant messages only
	ToolResults []ToolResult // tool messages only
}

// ToolCall is a model-issued intent to invoke a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of executing one tool call. The loop feeds it
// back into history so the model can react, including to failures.
type ToolResult struct {
	CallID   string
	Name     string
	Content  string
	IsError  bool
	Metadata map[string]any
}

// TextResult is a convenience constructor for a successful text result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: text}
}

// ErrorResult is a convenience constructor for an error-flagged result.
func ErrorResult(text string) *ToolResult {
	return &ToolResult{Content: text, IsError: true}
}

// ToolSpec is a catalog entry advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ModelTurn is the accumulated output of one model call: the streamed text
// plus any tool-call intents.
type ModelTurn struct {
	Text      string
	ToolCalls []ToolCall
}

// ModelClient is the upstream event source the loop consumes. One call
// streams one model turn; onDelta receives text fragments as they arrive
// and may be nil. A returned error aborts the current loop run.
type ModelClient interface {
	StreamTurn(ctx context.Context, history []Message, tools []ToolSpec, onDelta func(delta string)) (*ModelTurn, error)
}
