package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseTestServer emulates an SSE-flavored MCP server: a GET push stream that
// announces its message endpoint, and a POST endpoint whose responses are
// delivered back over the push stream.
type sseTestServer struct {
	*httptest.Server
	frames chan string

	// respond builds the push-stream reply for a POSTed request.
	respond func(req request) any
}

func newSSETestServer(t *testing.T) *sseTestServer {
	t.Helper()
	s := &sseTestServer{
		frames: make(chan string, 16),
		respond: func(req request) any {
			return response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case frame := <-s.frames:
				fmt.Fprint(w, frame)
				flusher.Flush()
			}
		}
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req request
		require.NoError(t, json.Unmarshal(body, &req))
		w.WriteHeader(http.StatusAccepted)

		if req.ID == 0 {
			return // notification, nothing to push back
		}
		if reply := s.respond(req); reply != nil {
			data, err := json.Marshal(reply)
			require.NoError(t, err)
			s.frames <- fmt.Sprintf("data: %s\n\n", data)
		}
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *sseTestServer) transport(t *testing.T) *SSETransport {
	t.Helper()
	tr, err := NewSSETransport(ServerConfig{ID: "sse-test", Transport: TransportSSE, URL: s.URL + "/sse"})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestSSETransport_CallRoundTrip(t *testing.T) {
	server := newSSETestServer(t)
	tr := server.transport(t)

	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, tr.Connected())

	result, err := tr.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestSSETransport_ServerError(t *testing.T) {
	server := newSSETestServer(t)
	server.respond = func(req request) any {
		return response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: -32601, Message: "nope"}}
	}
	tr := server.transport(t)
	require.NoError(t, tr.Connect(context.Background()))

	_, err := tr.Call(context.Background(), "missing/method", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestSSETransport_CallTimeout(t *testing.T) {
	server := newSSETestServer(t)
	server.respond = func(req request) any { return nil } // never answer
	tr := server.transport(t)
	require.NoError(t, tr.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := tr.Call(ctx, "slow", nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSSETransport_Notify(t *testing.T) {
	server := newSSETestServer(t)
	tr := server.transport(t)
	require.NoError(t, tr.Connect(context.Background()))

	assert.NoError(t, tr.Notify(context.Background(), methodInitialized, nil))
}

func TestSSETransport_InboundNotification(t *testing.T) {
	server := newSSETestServer(t)
	tr := server.transport(t)
	require.NoError(t, tr.Connect(context.Background()))

	server.frames <- "data: {\"method\":\"notifications/progress\",\"params\":{\"done\":1}}\n\n"

	select {
	case notif := <-tr.Notifications():
		assert.Equal(t, "notifications/progress", notif.Method)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestSSETransport_CloseRejectsPending(t *testing.T) {
	server := newSSETestServer(t)
	server.respond = func(req request) any { return nil }
	tr := server.transport(t)
	require.NoError(t, tr.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Call(context.Background(), "hang", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond) // let the call register
	require.NoError(t, tr.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("pending call not rejected on close")
	}
	assert.False(t, tr.Connected())
}

func TestSSETransport_CallBeforeConnect(t *testing.T) {
	tr, err := NewSSETransport(ServerConfig{ID: "x", URL: "http://localhost:1/sse"})
	require.NoError(t, err)
	_, err = tr.Call(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSSETransport_ConnectRefused(t *testing.T) {
	tr, err := NewSSETransport(ServerConfig{ID: "x", URL: "http://127.0.0.1:1/sse"})
	require.NoError(t, err)
	assert.Error(t, tr.Connect(context.Background()))
	assert.False(t, tr.Connected())
}

func TestDeriveMessageURL(t *testing.T) {
	assert.Equal(t, "http://h/messages", deriveMessageURL("http://h/sse"))
	assert.Equal(t, "http://h/messages", deriveMessageURL("http://h/sse/"))
	assert.Equal(t, "http://h/mcp/messages", deriveMessageURL("http://h/mcp"))
}
