package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// stdioMaxLineBytes bounds a single JSON-RPC line on stdout. Tool results
// can be large; the default bufio limit of 64K is not enough.
const stdioMaxLineBytes = 4 * 1024 * 1024

// StdioTransport speaks JSON-RPC to a spawned subprocess over its standard
// pipes. Messages are newline-delimited JSON on stdin/stdout; stderr is
// diagnostic output only and is logged, never parsed as protocol.
type StdioTransport struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected atomic.Bool
	closed    bool

	pending *pendingCalls
	notifs  chan Notification
}

var _ Transport = (*StdioTransport)(nil)

// NewStdioTransport creates a transport for a subprocess-based server.
// Returns ErrInvalidConfig if Command is empty.
func NewStdioTransport(cfg ServerConfig) (*StdioTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: stdio transport requires command", ErrInvalidConfig)
	}
	return &StdioTransport{
		cfg:     cfg,
		logger:  slog.Default(),
		pending: newPendingCalls(),
		notifs:  make(chan Notification, notificationBuffer),
	}, nil
}

// SetLogger replaces the transport's logger. Must be called before Connect.
func (t *StdioTransport) SetLogger(l *slog.Logger) {
	if l != nil {
		t.logger = l
	}
}

// Connect spawns the configured executable and starts the pipe readers.
// The child is deliberately not bound to ctx: cancelling a caller must not
// kill a server meant to stay connected. Close terminates it explicitly.
func (t *StdioTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected.Load() {
		return nil
	}

	name, args := shellCommand(t.cfg.Command, t.cfg.Args)
	cmd := exec.Command(name, args...)
	cmd.Dir = t.cfg.Cwd
	if len(t.cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range t.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("mcp: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp: spawn %s: %w", t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.closed = false
	t.connected.Store(true)

	go t.readStdout(stdout)
	go t.readStderr(stderr)
	go t.wait()

	return nil
}

// shellCommand wraps interpreter-style executables through the platform
// shell on Windows, where scripts like npx/uvx fail to spawn directly.
func shellCommand(command string, args []string) (string, []string) {
	if runtime.GOOS != "windows" {
		return command, args
	}
	if strings.HasSuffix(strings.ToLower(command), ".exe") {
		return command, args
	}
	return "cmd", append([]string{"/c", command}, args...)
}

// readStdout line-splits stdout and parses each line as one JSON-RPC
// object. Lines with a pending correlation ID resolve that call; everything
// else is pushed on the notification stream.
func (t *StdioTransport) readStdout(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), stdioMaxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err == nil && (resp.Result != nil || resp.Error != nil) {
			if t.pending.resolve(&resp) {
				continue
			}
		}

		var notif Notification
		if err := json.Unmarshal(line, &notif); err != nil || notif.Method == "" {
			t.logger.Debug("mcp: ignoring unparseable stdout line", "server", t.cfg.ID)
			continue
		}
		select {
		case t.notifs <- notif:
		default:
			t.logger.Warn("mcp: notification buffer full, dropping", "server", t.cfg.ID, "method", notif.Method)
		}
	}
}

func (t *StdioTransport) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("mcp: server stderr", "server", t.cfg.ID, "line", scanner.Text())
	}
}

// wait blocks on process exit, then fails all pending calls and marks the
// transport dead. An exit while calls are in flight is a transport failure.
func (t *StdioTransport) wait() {
	err := t.cmd.Wait()
	t.connected.Store(false)
	if err != nil {
		t.logger.Warn("mcp: server process exited", "server", t.cfg.ID, "error", Redact(err.Error()))
	}
	t.pending.failAll(fmt.Errorf("%w: process exited", ErrDisconnected))

	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.notifs)
	}
	t.mu.Unlock()
}

// Call writes one request line to stdin and waits for the matching response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := t.pending.next()
	ch := t.pending.register(id)
	defer t.pending.remove(id)

	if err := t.writeLine(request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
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

// Notify writes a fire-and-forget notification line.
func (t *StdioTransport) Notify(_ context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	return t.writeLine(request{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *StdioTransport) writeLine(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mcp: marshal request: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stdin == nil {
		return ErrNotConnected
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write failed: %s", ErrDisconnected, err)
	}
	return nil
}

// Notifications returns the inbound push stream.
func (t *StdioTransport) Notifications() <-chan Notification {
	return t.notifs
}

// Connected reports whether the subprocess is alive.
func (t *StdioTransport) Connected() bool {
	return t.connected.Load()
}

// Close terminates the subprocess. Pending calls are rejected by the exit
// path in wait(). Idempotent.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	stdin, cmd := t.stdin, t.cmd
	t.stdin = nil
	t.mu.Unlock()

	if !t.connected.Load() && stdin == nil {
		return nil
	}
	t.connected.Store(false)

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}
