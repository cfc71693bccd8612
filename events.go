package termagent

// EventSink receives progress callbacks from a running loop. Implementations
// must not block; the loop calls them synchronously between steps.
type EventSink interface {
	// OnRoundStart fires before each model call with the 1-based round number.
	OnRoundStart(round int)

	// OnStream fires for each streamed text fragment.
	OnStream(delta string)

	// OnToolCall fires before a tool-call intent is executed.
	OnToolCall(call ToolCall)

	// OnToolResult fires after each tool execution with its outcome.
	OnToolResult(result ToolResult)

	// OnResult fires once when the loop stops, for any reason.
	OnResult(result LoopResult)
}

// NopSink discards all events. Embed it to implement only part of EventSink.
type NopSink struct{}

var _ EventSink = NopSink{}

func (NopSink) OnRoundStart(int)        {}
func (NopSink) OnStream(string)         {}
func (NopSink) OnToolCall(ToolCall)     {}
func (NopSink) OnToolResult(ToolResult) {}
func (NopSink) OnResult(LoopResult)     {}
