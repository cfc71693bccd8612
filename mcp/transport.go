package mcp

import (
	"context"
	"encoding/json"
)

// Transport is one physical channel to an MCP server. Implementations
// multiplex concurrent requests over the channel; each request carries a
// unique correlation ID and callers may have several in flight at once.
type Transport interface {
	// Connect establishes the channel. It fails if the server is
	// unreachable and is required before any other method.
	Connect(ctx context.Context) error

	// Call sends one JSON-RPC request and blocks until the matching
	// response, transport failure, or context cancellation.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a fire-and-forget notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Notifications returns the stream of inbound server messages that
	// match no pending request. The channel is closed on disconnect.
	Notifications() <-chan Notification

	// Connected reports whether the channel is currently usable.
	Connected() bool

	// Close tears down the channel, rejects every pending call with a
	// disconnected error, and releases resources. It is idempotent.
	Close() error
}

// NewTransport builds the Transport matching cfg.Transport. The transport
// kind is a closed set; configs that name no kind fall back on whichever of
// command/url is present.
func NewTransport(cfg ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		return NewStdioTransport(cfg)
	case TransportSSE:
		return NewSSETransport(cfg)
	case TransportStreamableHTTP:
		return NewStreamableHTTPTransport(cfg)
	default:
		if cfg.Command != "" {
			return NewStdioTransport(cfg)
		}
		if cfg.URL != "" {
			return NewStreamableHTTPTransport(cfg)
		}
		return nil, ErrInvalidConfig
	}
}

// notificationBuffer is the channel capacity for inbound pushes. Transports
// drop pushes once the buffer is full rather than stalling their reader.
const notificationBuffer = 32
