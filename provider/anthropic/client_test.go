package anthropic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	termagent "github.com/armatrix/termagent"
	"github.com/armatrix/termagent/internal/usage"
)

// mockStreamer serves pre-built SSE bodies for successive calls and records
// the request params.
type mockStreamer struct {
	mu        sync.Mutex
	responses []string
	params    []anthropic.MessageNewParams
	callIdx   int
}

func newMockStreamer(responses ...string) *mockStreamer {
	return &mockStreamer{responses: responses}
}

func (m *mockStreamer) NewStreaming(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	m.mu.Lock()
	idx := m.callIdx
	m.callIdx++
	m.params = append(m.params, params)
	m.mu.Unlock()

	if idx >= len(m.responses) {
		return ssestream.NewStream[anthropic.MessageStreamEventUnion](nil, fmt.Errorf("no more mock responses"))
	}

	resp := &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(m.responses[idx])),
		Header:     http.Header{},
	}
	return ssestream.NewStream[anthropic.MessageStreamEventUnion](ssestream.NewDecoder(resp), nil)
}

func (m *mockStreamer) lastParams() anthropic.MessageNewParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params[len(m.params)-1]
}

type sseEvent struct {
	Type string
	Data string
}

func buildSSE(events ...sseEvent) string {
	var sb strings.Builder
	for _, e := range events {
		fmt.Fprintf(&sb, "event: %s\ndata: %s\n\n", e.Type, e.Data)
	}
	return sb.String()
}

func messageStart(model string, inputTokens int64) sseEvent {
	return sseEvent{
		Type: "message_start",
		Data: fmt.Sprintf(`{"type":"message_start","message":{"id":"msg_test","type":"message","role":"assistant","content":[],"model":"%s","stop_reason":null,"usage":{"input_tokens":%d,"output_tokens":0}}}`, model, inputTokens),
	}
}

func textBlockStart(index int) sseEvent {
	return sseEvent{
		Type: "content_block_start",
		Data: fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, index),
	}
}

func textDelta(index int, text string) sseEvent {
	return sseEvent{
		Type: "content_block_delta",
		Data: fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":"%s"}}`, index, text),
	}
}

func blockStop(index int) sseEvent {
	return sseEvent{
		Type: "content_block_stop",
		Data: fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, index),
	}
}

func toolUseStart(index int, id, name string) sseEvent {
	return sseEvent{
		Type: "content_block_start",
		Data: fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"tool_use","id":"%s","name":"%s","input":{}}}`, index, id, name),
	}
}

func inputJSONDelta(index int, json string) sseEvent {
	return sseEvent{
		Type: "content_block_delta",
		Data: fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"input_json_delta","partial_json":"%s"}}`, index, json),
	}
}

func messageDelta(stopReason string, outputTokens int64) sseEvent {
	return sseEvent{
		Type: "message_delta",
		Data: fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":"%s","stop_sequence":null},"usage":{"output_tokens":%d}}`, stopReason, outputTokens),
	}
}

func messageStop() sseEvent {
	return sseEvent{Type: "message_stop", Data: `{"type":"message_stop"}`}
}

func newTestClient(streamer Streamer, opts ...Option) *Client {
	opts = append([]Option{WithStreamer(streamer)}, opts...)
	return New(anthropic.Client{}, opts...)
}

func TestStreamTurn_TextResponse(t *testing.T) {
	sse := buildSSE(
		messageStart("claude-sonnet-4-5", 10),
		textBlockStart(0),
		textDelta(0, "Hello"),
		textDelta(0, " world"),
		blockStop(0),
		messageDelta("end_turn", 5),
		messageStop(),
	)
	streamer := newMockStreamer(sse)
	client := newTestClient(streamer)

	var deltas []string
	turn, err := client.StreamTurn(context.Background(),
		[]termagent.Message{{Role: termagent.RoleUser, Content: "Hi"}}, nil,
		func(delta string) { deltas = append(deltas, delta) })
	require.NoError(t, err)

	assert.Equal(t, "Hello world", turn.Text)
	assert.Empty(t, turn.ToolCalls)
	assert.Equal(t, []string{"Hello", " world"}, deltas)
}

func TestStreamTurn_ToolUse(t *testing.T) {
	sse := buildSSE(
		messageStart("claude-sonnet-4-5", 10),
		textBlockStart(0),
		textDelta(0, "Checking."),
		blockStop(0),
		toolUseStart(1, "toolu_123", "read_terminal_output"),
		inputJSONDelta(1, `{\"lines\": 50}`),
		blockStop(1),
		messageDelta("tool_use", 20),
		messageStop(),
	)
	client := newTestClient(newMockStreamer(sse))

	turn, err := client.StreamTurn(context.Background(),
		[]termagent.Message{{Role: termagent.RoleUser, Content: "check output"}}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "Checking.", turn.Text)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "toolu_123", turn.ToolCalls[0].ID)
	assert.Equal(t, "read_terminal_output", turn.ToolCalls[0].Name)
	assert.JSONEq(t, `{"lines": 50}`, string(turn.ToolCalls[0].Arguments))
}

func TestStreamTurn_StreamError(t *testing.T) {
	client := newTestClient(newMockStreamer()) // exhausted: every call errors

	_, err := client.StreamTurn(context.Background(),
		[]termagent.Message{{Role: termagent.RoleUser, Content: "Hi"}}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model stream")
}

func TestStreamTurn_RecordsUsage(t *testing.T) {
	sse := buildSSE(
		messageStart("claude-sonnet-4-5", 100),
		textBlockStart(0),
		textDelta(0, "ok"),
		blockStop(0),
		messageDelta("end_turn", 7),
		messageStop(),
	)
	tracker := usage.NewTracker(nil)
	client := newTestClient(newMockStreamer(sse),
		WithModel("claude-sonnet-4-5"), WithUsageTracker(tracker))

	_, err := client.StreamTurn(context.Background(),
		[]termagent.Message{{Role: termagent.RoleUser, Content: "Hi"}}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, tracker.Calls())
	assert.Equal(t, 100, tracker.Total().InputTokens)
	assert.Equal(t, 7, tracker.Total().OutputTokens)
	assert.True(t, tracker.Cost().IsPositive())
}

func TestStreamTurn_SendsSystemPromptAndTools(t *testing.T) {
	sse := buildSSE(
		messageStart("claude-sonnet-4-5", 1),
		textBlockStart(0),
		blockStop(0),
		messageDelta("end_turn", 1),
		messageStop(),
	)
	streamer := newMockStreamer(sse)
	client := newTestClient(streamer,
		WithSystemPrompt("You are a terminal agent."),
		WithMaxTokens(2048))

	tools := []termagent.ToolSpec{{
		Name:        "read_terminal_output",
		Description: "Reads terminal output",
		InputSchema: []byte(`{"type":"object","properties":{"lines":{"type":"integer"}},"required":["lines"]}`),
	}}
	_, err := client.StreamTurn(context.Background(),
		[]termagent.Message{{Role: termagent.RoleUser, Content: "Hi"}}, tools, nil)
	require.NoError(t, err)

	params := streamer.lastParams()
	assert.Equal(t, int64(2048), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "You are a terminal agent.", params.System[0].Text)
	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.Tools[0].OfTool)
	assert.Equal(t, "read_terminal_output", params.Tools[0].OfTool.Name)
	assert.Equal(t, []string{"lines"}, params.Tools[0].OfTool.InputSchema.Required)
}

func TestStreamTurn_InvalidToolSchema(t *testing.T) {
	client := newTestClient(newMockStreamer())

	tools := []termagent.ToolSpec{{Name: "broken", InputSchema: []byte(`{not json`)}}
	_, err := client.StreamTurn(context.Background(), nil, tools, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input schema")
}

func TestConvertHistory(t *testing.T) {
	history := []termagent.Message{
		{Role: termagent.RoleUser, Content: "run the tests"},
		{Role: termagent.RoleAssistant, Content: "Running.", ToolCalls: []termagent.ToolCall{
			{ID: "toolu_1", Name: "write_to_terminal", Arguments: []byte(`{"command":"go test"}`)},
		}},
		{Role: termagent.RoleTool, ToolResults: []termagent.ToolResult{
			{CallID: "toolu_1", Content: "PASS", IsError: false},
		}},
		{Role: termagent.RoleAssistant}, // empty turn still needs a block
	}

	out := convertHistory(history)
	require.Len(t, out, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	require.Len(t, out[1].Content, 2) // text + tool_use
	assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
	require.Len(t, out[2].Content, 1)
	assert.NotNil(t, out[2].Content[0].OfToolResult)
	require.Len(t, out[3].Content, 1)
}

func TestConvertHistory_DropsEmptyToolMessage(t *testing.T) {
	out := convertHistory([]termagent.Message{{Role: termagent.RoleTool}})
	assert.Empty(t, out)
}
