package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// sseMaxReconnects is how many times a dropped push stream is
	// re-established before pending calls are rejected.
	sseMaxReconnects = 5

	// sseReconnectStep is the linear backoff unit: attempt N waits N×step.
	sseReconnectStep = 3 * time.Second
)

// SSETransport speaks MCP over a persistent Server-Sent Events push channel
// plus an independent HTTP POST per outbound request. Responses arrive on
// the push stream and are matched to requests by correlation ID.
type SSETransport struct {
	cfg    ServerConfig
	logger *slog.Logger
	client *http.Client

	mu         sync.Mutex
	messageURL string
	cancel     context.CancelFunc
	connected  atomic.Bool
	closed     bool

	// endpointCh delivers the message endpoint announced by the server's
	// first "endpoint" event.
	endpointCh chan string

	pending *pendingCalls
	notifs  chan Notification
}

var _ Transport = (*SSETransport)(nil)

// NewSSETransport creates a transport for an SSE-based server.
// Returns ErrInvalidConfig if URL is empty.
func NewSSETransport(cfg ServerConfig) (*SSETransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: sse transport requires url", ErrInvalidConfig)
	}
	return &SSETransport{
		cfg:        cfg,
		logger:     slog.Default(),
		client:     &http.Client{}, // no client timeout: the push stream is long-lived
		endpointCh: make(chan string, 1),
		pending:    newPendingCalls(),
		notifs:     make(chan Notification, notificationBuffer),
	}, nil
}

// SetLogger replaces the transport's logger. Must be called before Connect.
func (t *SSETransport) SetLogger(l *slog.Logger) {
	if l != nil {
		t.logger = l
	}
}

// Connect opens the push stream and resolves the message endpoint, either
// from the server's "endpoint" event or by deriving a sibling path from the
// base URL.
func (t *SSETransport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.closed = false
	t.mu.Unlock()

	body, err := t.openStream(streamCtx)
	if err != nil {
		cancel()
		return err
	}
	t.connected.Store(true)
	go t.consumeStream(streamCtx, body)

	// Servers that follow the SSE flavor of the protocol announce their
	// message endpoint as the first event; fall back to a derived URL.
	select {
	case ep := <-t.endpointCh:
		t.setMessageURL(ep)
	case <-time.After(2 * time.Second):
		t.setMessageURL(deriveMessageURL(t.cfg.URL))
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	}

	return nil
}

func (t *SSETransport) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("mcp: sse connect: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// deriveMessageURL maps an events-style URL onto its sibling message
// endpoint: .../sse -> .../messages, otherwise append /messages.
func deriveMessageURL(base string) string {
	trimmed := strings.TrimSuffix(base, "/")
	if strings.HasSuffix(trimmed, "/sse") {
		return strings.TrimSuffix(trimmed, "/sse") + "/messages"
	}
	return trimmed + "/messages"
}

func (t *SSETransport) setMessageURL(u string) {
	t.mu.Lock()
	// Endpoint events may carry a relative path.
	if strings.HasPrefix(u, "/") {
		if i := strings.Index(t.cfg.URL, "://"); i >= 0 {
			if j := strings.Index(t.cfg.URL[i+3:], "/"); j >= 0 {
				u = t.cfg.URL[:i+3+j] + u
			} else {
				u = t.cfg.URL + u
			}
		}
	}
	t.messageURL = u
	t.mu.Unlock()
}

// consumeStream reads the push channel until it drops, then runs the
// reconnect policy: up to sseMaxReconnects attempts with linearly growing
// backoff, after which every pending call is rejected.
func (t *SSETransport) consumeStream(ctx context.Context, body io.ReadCloser) {
	for {
		t.readEvents(body)
		body.Close()

		if ctx.Err() != nil {
			return
		}

		reconnected := false
		for attempt := 1; attempt <= sseMaxReconnects; attempt++ {
			wait := time.Duration(attempt) * sseReconnectStep
			t.logger.Warn("mcp: sse stream lost, reconnecting",
				"server", t.cfg.ID, "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			next, err := t.openStream(ctx)
			if err != nil {
				t.logger.Warn("mcp: sse reconnect failed", "server", t.cfg.ID, "error", Redact(err.Error()))
				continue
			}
			body = next
			reconnected = true
			break
		}
		if !reconnected {
			t.connected.Store(false)
			t.pending.failAll(fmt.Errorf("%w: sse stream lost", ErrDisconnected))
			t.closeNotifs()
			return
		}
	}
}

// readEvents parses SSE framing: "event:" names the event, "data:" carries
// the payload, a blank line dispatches it.
func (t *SSETransport) readEvents(body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), stdioMaxLineBytes)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && data != "":
			t.dispatch(event, data)
			event, data = "", ""
		}
	}
	if data != "" {
		t.dispatch(event, data)
	}
}

func (t *SSETransport) dispatch(event, data string) {
	if event == "endpoint" {
		select {
		case t.endpointCh <- data:
		default:
		}
		return
	}

	var resp response
	if err := json.Unmarshal([]byte(data), &resp); err == nil && (resp.Result != nil || resp.Error != nil) {
		if t.pending.resolve(&resp) {
			return
		}
	}

	var notif Notification
	if err := json.Unmarshal([]byte(data), &notif); err != nil || notif.Method == "" {
		return
	}
	select {
	case t.notifs <- notif:
	default:
		t.logger.Warn("mcp: notification buffer full, dropping", "server", t.cfg.ID, "method", notif.Method)
	}
}

// Call POSTs one request to the message endpoint and waits for the matching
// response on the push stream.
func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := t.pending.next()
	ch := t.pending.register(id)
	defer t.pending.remove(id)

	if err := t.post(ctx, request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != nil {
			return nil, res.resp.Error
		}
		return res.resp.Result, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Notify POSTs a fire-and-forget notification.
func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	return t.post(ctx, request{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *SSETransport) post(ctx context.Context, req request) error {
	t.mu.Lock()
	target := t.messageURL
	t.mu.Unlock()
	if target == "" {
		return ErrNotConnected
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mcp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("mcp: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: post failed: %s", ErrDisconnected, Redact(err.Error()))
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("mcp: post status %d", resp.StatusCode)
	}
	return nil
}

// Notifications returns the inbound push stream.
func (t *SSETransport) Notifications() <-chan Notification {
	return t.notifs
}

// Connected reports whether the push stream is live.
func (t *SSETransport) Connected() bool {
	return t.connected.Load()
}

func (t *SSETransport) closeNotifs() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.notifs)
	}
	t.mu.Unlock()
}

// Close cancels the push stream and rejects every pending call. Idempotent.
func (t *SSETransport) Close() error {
	if !t.connected.Swap(false) {
		t.mu.Lock()
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.pending.failAll(ErrDisconnected)
	t.closeNotifs()
	return nil
}
