// Package anthropic adapts the Anthropic Messages API to the agent's
// model client interface.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	termagent "github.com/armatrix/termagent"
	"github.com/armatrix/termagent/internal/usage"
)

const (
	defaultModel     = anthropic.ModelClaudeSonnet4_5
	defaultMaxTokens = 8192
)

// Streamer abstracts the Messages streaming endpoint so tests can inject
// a mock. Production code passes the real client.Messages.NewStreaming.
type Streamer interface {
	NewStreaming(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

type messageServiceAdapter struct {
	svc anthropic.MessageService
}

func (a *messageServiceAdapter) NewStreaming(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	return a.svc.NewStreaming(ctx, params)
}

// Client implements termagent.ModelClient over the Anthropic API.
type Client struct {
	streamer  Streamer
	model     anthropic.Model
	maxTokens int64
	system    string
	tracker   *usage.Tracker
}

var _ termagent.ModelClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(model anthropic.Model) Option {
	return func(c *Client) { c.model = model }
}

// WithMaxTokens sets the per-turn output token limit.
func WithMaxTokens(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithSystemPrompt sets the system prompt sent on every turn.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) { c.system = prompt }
}

// WithUsageTracker records token usage for every call on the tracker.
func WithUsageTracker(t *usage.Tracker) Option {
	return func(c *Client) { c.tracker = t }
}

// WithStreamer replaces the underlying streaming endpoint. Used by tests.
func WithStreamer(s Streamer) Option {
	return func(c *Client) { c.streamer = s }
}

// New creates a Client backed by api. The API key is read from the
// environment by the SDK (ANTHROPIC_API_KEY).
func New(api anthropic.Client, opts ...Option) *Client {
	c := &Client{
		streamer:  &messageServiceAdapter{svc: api.Messages},
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamTurn sends the history and tool catalog to the model and
// accumulates one assistant turn, forwarding text deltas to onDelta.
func (c *Client) StreamTurn(ctx context.Context, history []termagent.Message, tools []termagent.ToolSpec, onDelta func(string)) (*termagent.ModelTurn, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  convertHistory(history),
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}
	if len(tools) > 0 {
		apiTools, err := convertTools(tools)
		if err != nil {
			return nil, err
		}
		params.Tools = apiTools
	}

	stream := c.streamer.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate stream event: %w", err)
		}
		if onDelta != nil && event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			onDelta(event.Delta.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("model stream: %w", err)
	}

	if c.tracker != nil {
		c.tracker.Record(string(params.Model), usage.Usage{
			InputTokens:              int(msg.Usage.InputTokens),
			OutputTokens:             int(msg.Usage.OutputTokens),
			CacheReadInputTokens:     int(msg.Usage.CacheReadInputTokens),
			CacheCreationInputTokens: int(msg.Usage.CacheCreationInputTokens),
		})
	}

	turn := &termagent.ModelTurn{}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			tu := block.AsToolUse()
			turn.ToolCalls = append(turn.ToolCalls, termagent.ToolCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: json.RawMessage(tu.Input),
			})
		}
	}
	turn.Text = text.String()
	return turn, nil
}

// convertHistory maps loop messages onto API message params. Tool results
// travel as user messages, the way the API expects them.
func convertHistory(history []termagent.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case termagent.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))

		case termagent.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case termagent.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, res := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(res.CallID, res.Content, res.IsError))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return out
}

func convertTools(tools []termagent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, spec := range tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if len(spec.InputSchema) > 0 {
			if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid input schema: %w", spec.Name, err)
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: param.NewOpt(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}
	return out, nil
}
