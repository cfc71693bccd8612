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
	// sessionHeader carries the token negotiated on first contact.
	sessionHeader = "Mcp-Session-Id"

	// pollRetryDelay is the fixed wait before re-issuing a failed
	// long-poll GET.
	pollRetryDelay = 5 * time.Second
)

// StreamableHTTPTransport speaks MCP against a single HTTP endpoint. Every
// request is a POST to the configured URL; the response body is either one
// JSON object or a chunked event stream in which the chunk bearing the
// request's ID is the response and every other chunk is a notification. A
// best-effort long-poll GET loop picks up asynchronous pushes.
type StreamableHTTPTransport struct {
	cfg    ServerConfig
	logger *slog.Logger
	client *http.Client

	mu        sync.Mutex
	sessionID string
	cancel    context.CancelFunc
	connected atomic.Bool
	closed    bool

	pending *pendingCalls
	notifs  chan Notification
}

var _ Transport = (*StreamableHTTPTransport)(nil)

// NewStreamableHTTPTransport creates a transport for a streamable-http
// server. Returns ErrInvalidConfig if URL is empty.
func NewStreamableHTTPTransport(cfg ServerConfig) (*StreamableHTTPTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: streamable-http transport requires url", ErrInvalidConfig)
	}
	return &StreamableHTTPTransport{
		cfg:     cfg,
		logger:  slog.Default(),
		client:  &http.Client{},
		pending: newPendingCalls(),
		notifs:  make(chan Notification, notificationBuffer),
	}, nil
}

// SetLogger replaces the transport's logger. Must be called before Connect.
func (t *StreamableHTTPTransport) SetLogger(l *slog.Logger) {
	if l != nil {
		t.logger = l
	}
}

// Connect marks the transport usable and starts the long-poll loop. The
// session token is negotiated lazily by the first POST (the initialize
// call), which is when the server first answers.
func (t *StreamableHTTPTransport) Connect(_ context.Context) error {
	if t.connected.Swap(true) {
		return nil
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.closed = false
	t.mu.Unlock()

	go t.pollLoop(pollCtx)
	return nil
}

// Call POSTs one request and decodes whichever body shape the server chose.
func (t *StreamableHTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := t.pending.next()
	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal request: %w", err)
	}

	// Register before sending: a server may accept the POST with an empty
	// body and deliver the response on the long-poll stream instead, and
	// teardown must be able to reject the call either way.
	ch := t.pending.register(id)
	defer t.pending.remove(id)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mcp: build request: %w", err)
	}
	t.setHeaders(httpReq)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: post failed: %s", ErrDisconnected, Redact(err.Error()))
	}
	defer httpResp.Body.Close()

	t.captureSession(httpResp)

	if httpResp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("mcp: status %d: %s", httpResp.StatusCode, Redact(string(body)))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return t.decodeEventBody(httpResp.Body, id)
	}
	return t.decodeJSONBody(ctx, httpResp.Body, id, ch)
}

// decodeJSONBody handles the single-object response shape.
func (t *StreamableHTTPTransport) decodeJSONBody(ctx context.Context, body io.Reader, id int64, ch chan callResult) (json.RawMessage, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %s", ErrDisconnected, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// Accepted with no body: the server pushes the response on the
		// long-poll stream, so wait for it there.
		return t.awaitResult(ctx, ch)
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("mcp: parse response: %w", err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("mcp: response id %d does not match request %d", resp.ID, id)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// awaitResult blocks until the long-poll stream delivers the response for a
// call the server accepted without a body.
func (t *StreamableHTTPTransport) awaitResult(ctx context.Context, ch chan callResult) (json.RawMessage, error) {
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

// decodeEventBody incrementally decodes a chunked event stream. The chunk
// carrying the request's ID is the response; every other chunk is routed to
// the notification stream.
func (t *StreamableHTTPTransport) decodeEventBody(body io.Reader, id int64) (json.RawMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), stdioMaxLineBytes)

	var result json.RawMessage
	var rpcErr *RPCError
	found := false

	var data string
	flush := func() {
		if data == "" {
			return
		}
		payload := data
		data = ""

		var resp response
		if err := json.Unmarshal([]byte(payload), &resp); err == nil && (resp.Result != nil || resp.Error != nil) {
			if resp.ID == id {
				result, rpcErr = resp.Result, resp.Error
				found = true
				return
			}
			if t.pending.resolve(&resp) {
				return
			}
		}
		t.pushNotification([]byte(payload))
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			flush()
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: event body: %s", ErrDisconnected, err)
	}
	if !found {
		return nil, fmt.Errorf("mcp: no response for request %d in event body", id)
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	return result, nil
}

func (t *StreamableHTTPTransport) pushNotification(payload []byte) {
	var notif Notification
	if err := json.Unmarshal(payload, &notif); err != nil || notif.Method == "" {
		return
	}
	select {
	case t.notifs <- notif:
	default:
		t.logger.Warn("mcp: notification buffer full, dropping", "server", t.cfg.ID, "method", notif.Method)
	}
}

// Notify POSTs a fire-and-forget notification.
func (t *StreamableHTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}

	data, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("mcp: marshal notification: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("mcp: build request: %w", err)
	}
	t.setHeaders(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: post failed: %s", ErrDisconnected, Redact(err.Error()))
	}
	t.captureSession(resp)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// pollLoop re-issues GETs for asynchronous pushes. Failures retry after a
// fixed delay; cancellation stops the loop cleanly.
func (t *StreamableHTTPTransport) pollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		stop, err := t.pollOnce(ctx)
		if stop {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Debug("mcp: long-poll failed, retrying", "server", t.cfg.ID, "error", Redact(err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
		}
	}
}

func (t *StreamableHTTPTransport) pollOnce(ctx context.Context) (stop bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	t.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	t.captureSession(resp)

	if resp.StatusCode == http.StatusMethodNotAllowed {
		// Server does not support the push channel.
		return true, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("poll status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), stdioMaxLineBytes)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && data != "":
			var resp response
			if err := json.Unmarshal([]byte(data), &resp); err == nil && (resp.Result != nil || resp.Error != nil) && t.pending.resolve(&resp) {
				data = ""
				continue
			}
			t.pushNotification([]byte(data))
			data = ""
		}
	}
	return false, scanner.Err()
}

func (t *StreamableHTTPTransport) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.Unlock()
}

// captureSession stores the session token from the server's first answer so
// subsequent requests carry it.
func (t *StreamableHTTPTransport) captureSession(resp *http.Response) {
	sid := resp.Header.Get(sessionHeader)
	if sid == "" {
		return
	}
	t.mu.Lock()
	if t.sessionID == "" {
		t.sessionID = sid
	}
	t.mu.Unlock()
}

// Notifications returns the inbound push stream.
func (t *StreamableHTTPTransport) Notifications() <-chan Notification {
	return t.notifs
}

// Connected reports whether the transport is usable.
func (t *StreamableHTTPTransport) Connected() bool {
	return t.connected.Load()
}

// Close stops the long-poll loop and rejects every pending call. Idempotent.
func (t *StreamableHTTPTransport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if !t.connected.Swap(false) {
		return nil
	}
	t.pending.failAll(ErrDisconnected)

	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.notifs)
	}
	t.mu.Unlock()
	return nil
}
