package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Client identity sent during the initialize handshake.
const (
	clientName    = "termagent"
	clientVersion = "0.1.0"
)

const (
	// DefaultCallTimeout applies when a server config carries no override.
	DefaultCallTimeout = 30 * time.Second

	// callToolRetries is how many additional attempts follow a failed
	// tools/call before the error is surfaced.
	callToolRetries = 3

	// callRetryStep is the linear delay unit: retry N waits N×step.
	callRetryStep = time.Second
)

// Status describes one server's connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ServerState is a read-only snapshot of a live (or failed) client.
type ServerState struct {
	Config    ServerConfig
	Status    Status
	Tools     []ToolInfo
	Resources []Resource
	LastError string
}

// StatusUpdate is broadcast to subscribers on every lifecycle change.
type StatusUpdate struct {
	ServerID  string
	Status    Status
	ToolCount int
	Err       string
}

// liveClient is the runtime pairing of a config snapshot with its
// transport and discovered capabilities. At most one exists per server ID.
type liveClient struct {
	config    ServerConfig
	transport Transport
	tools     []ToolInfo
	resources []Resource
	status    Status
	lastErr   string
}

// Manager owns every live MCP connection. It performs the handshake and
// discovery on connect, correlates and retries tool calls, keeps the
// call-history ring, and broadcasts status changes. All shared state is
// mutated only behind the Manager's lock.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*liveClient

	store        ConfigStore
	history      *CallHistory
	logger       *slog.Logger
	callTimeout  time.Duration
	retryStep    time.Duration
	newTransport func(ServerConfig) (Transport, error)

	// connMu guards connLocks; each entry serializes Connect calls for one
	// server ID so concurrent connects cannot both store a client.
	connMu    sync.Mutex
	connLocks map[string]*sync.Mutex

	subMu sync.Mutex
	subs  []chan StatusUpdate
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets the persistence port for the server list.
func WithStore(store ConfigStore) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithLogger sets the Manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCallTimeout sets the default per-call timeout.
func WithCallTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// WithHistoryCapacity sets the call-history ring capacity.
func WithHistoryCapacity(n int) ManagerOption {
	return func(m *Manager) { m.history = NewCallHistory(n) }
}

// WithRetryStep overrides the linear retry delay unit. Used by tests to
// keep retry runs fast.
func WithRetryStep(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.retryStep = d
		}
	}
}

// WithTransportFactory replaces the transport constructor. Used by tests to
// inject mock transports.
func WithTransportFactory(fn func(ServerConfig) (Transport, error)) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.newTransport = fn
		}
	}
}

// NewManager creates a Manager with no connections.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clients:      make(map[string]*liveClient),
		connLocks:    make(map[string]*sync.Mutex),
		history:      NewCallHistory(DefaultHistoryCapacity),
		logger:       slog.Default(),
		callTimeout:  DefaultCallTimeout,
		retryStep:    callRetryStep,
		newTransport: NewTransport,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect establishes a connection for cfg. Any existing client under the
// same ID is torn down first, so reconnect is safe. On success the client
// is stored with status connected; on failure status error is recorded and
// a ConnectError is returned.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	lock := m.connLock(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	m.Disconnect(cfg.ID)
	m.setStatus(cfg, StatusConnecting, nil, "")

	transport, err := m.newTransport(cfg)
	if err != nil {
		return m.failConnect(cfg, err)
	}
	if err := transport.Connect(ctx); err != nil {
		return m.failConnect(cfg, err)
	}
	if err := m.handshake(ctx, cfg, transport); err != nil {
		transport.Close()
		return m.failConnect(cfg, err)
	}

	// Discovery is best-effort: servers without tools or resources
	// legitimately reject these methods.
	tools := m.discoverTools(ctx, cfg, transport)
	resources := m.discoverResources(ctx, cfg, transport)

	m.mu.Lock()
	m.clients[cfg.ID] = &liveClient{
		config:    cfg,
		transport: transport,
		tools:     tools,
		resources: resources,
		status:    StatusConnected,
	}
	m.mu.Unlock()

	m.logger.Info("mcp: server connected", "server", cfg.ID, "tools", len(tools))
	m.broadcast(StatusUpdate{ServerID: cfg.ID, Status: StatusConnected, ToolCount: len(tools)})
	return nil
}

func (m *Manager) connLock(id string) *sync.Mutex {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	lock, ok := m.connLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.connLocks[id] = lock
	}
	return lock
}

func (m *Manager) failConnect(cfg ServerConfig, err error) error {
	cerr := &ConnectError{ServerID: cfg.ID, Err: err}
	m.setStatus(cfg, StatusError, nil, cerr.Error())
	m.logger.Warn("mcp: connect failed", "server", cfg.ID, "error", Redact(err.Error()))
	m.broadcast(StatusUpdate{ServerID: cfg.ID, Status: StatusError, Err: cerr.Error()})
	return cerr
}

func (m *Manager) setStatus(cfg ServerConfig, status Status, transport Transport, lastErr string) {
	m.mu.Lock()
	m.clients[cfg.ID] = &liveClient{
		config:    cfg,
		transport: transport,
		status:    status,
		lastErr:   lastErr,
	}
	m.mu.Unlock()
	if status == StatusConnecting {
		m.broadcast(StatusUpdate{ServerID: cfg.ID, Status: status})
	}
}

// handshake runs initialize and the initialized notification. A top-level
// JSON-RPC error fails the connection.
func (m *Manager) handshake(ctx context.Context, cfg ServerConfig, transport Transport) error {
	hsCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout(m.callTimeout))
	defer cancel()

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
	}
	raw, err := transport.Call(hsCtx, methodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if raw != nil {
		if err := unmarshalResult(raw, &result); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}

	if err := transport.Notify(hsCtx, methodInitialized, nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

func (m *Manager) discoverTools(ctx context.Context, cfg ServerConfig, transport Transport) []ToolInfo {
	listCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout(m.callTimeout))
	defer cancel()

	raw, err := transport.Call(listCtx, methodToolsList, nil)
	if err != nil {
		m.logger.Debug("mcp: tools/list unsupported", "server", cfg.ID, "error", Redact(err.Error()))
		return nil
	}
	var result toolsListResult
	if err := unmarshalResult(raw, &result); err != nil {
		m.logger.Debug("mcp: tools/list unparseable", "server", cfg.ID, "error", err)
		return nil
	}
	return result.Tools
}

func (m *Manager) discoverResources(ctx context.Context, cfg ServerConfig, transport Transport) []Resource {
	listCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout(m.callTimeout))
	defer cancel()

	raw, err := transport.Call(listCtx, methodResourcesList, nil)
	if err != nil {
		m.logger.Debug("mcp: resources/list unsupported", "server", cfg.ID, "error", Redact(err.Error()))
		return nil
	}
	var result resourcesListResult
	if err := unmarshalResult(raw, &result); err != nil {
		m.logger.Debug("mcp: resources/list unparseable", "server", cfg.ID, "error", err)
		return nil
	}
	return result.Resources
}

// Disconnect tears down the client for id. Transport errors are swallowed;
// a missing id is a no-op.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	client, ok := m.clients[id]
	if ok {
		delete(m.clients, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if client.transport != nil {
		if err := client.transport.Close(); err != nil {
			m.logger.Debug("mcp: disconnect error", "server", id, "error", Redact(err.Error()))
		}
	}
	m.broadcast(StatusUpdate{ServerID: id, Status: StatusDisconnected})
}

// Close disconnects every live client.
func (m *Manager) Close() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
	return nil
}

// CallTool invokes a tool on a connected server with the per-call timeout
// and retry policy. Exactly one ToolCallRecord reflecting the final outcome
// is appended per invocation. A serverID with no connected client rejects
// immediately and records nothing.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (string, error) {
	if _, err := m.connectedClient(serverID); err != nil {
		return "", err
	}

	start := time.Now()
	result, err := m.callWithRetry(ctx, serverID, toolName, args)

	rec := ToolCallRecord{
		ServerID:  serverID,
		ToolName:  toolName,
		Arguments: args,
		Duration:  time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		rec.Error = Redact(err.Error())
	} else {
		rec.Result = result
		rec.Success = true
	}
	m.history.Append(rec)

	return result, err
}

// callWithRetry runs the initial attempt plus up to callToolRetries more,
// with linearly growing delays. Connectivity is re-validated per attempt: a
// concurrent disconnect ends the retry run.
func (m *Manager) callWithRetry(parent context.Context, serverID, toolName string, args map[string]any) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= callToolRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * m.retryStep
			m.logger.Debug("mcp: retrying tool call",
				"server", serverID, "tool", toolName, "attempt", attempt, "delay", delay)
			select {
			case <-parent.Done():
				return "", parent.Err()
			case <-time.After(delay):
			}
		}

		client, err := m.connectedClient(serverID)
		if err != nil {
			if lastErr != nil {
				return "", lastErr
			}
			return "", err
		}

		result, err := m.callOnce(parent, client, toolName, args)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if parent.Err() != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

func (m *Manager) callOnce(parent context.Context, client *liveClient, toolName string, args map[string]any) (string, error) {
	callCtx, cancel := context.WithTimeout(parent, client.config.CallTimeout(m.callTimeout))
	defer cancel()

	raw, err := client.transport.Call(callCtx, methodToolsCall, callToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return "", err
	}

	text, isError := renderToolResult(raw)
	if isError {
		return "", fmt.Errorf("mcp: tool %s reported an error: %s", toolName, Redact(text))
	}
	return text, nil
}

// CallByName routes a composite mcp_{server}_{tool} name to its server.
// Unparseable names return ErrToolNotFound.
func (m *Manager) CallByName(ctx context.Context, compositeName string, args map[string]any) (string, error) {
	serverID, toolName, ok := ParseCompositeToolName(compositeName)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, compositeName)
	}
	return m.CallTool(ctx, serverID, toolName, args)
}

func (m *Manager) connectedClient(serverID string) (*liveClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	if client.status != StatusConnected || client.transport == nil || !client.transport.Connected() {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, serverID)
	}
	return client, nil
}

// Tools returns the flattened catalog of every connected server's tools
// under their composite names.
func (m *Manager) Tools() []ToolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ToolInfo
	for id, client := range m.clients {
		if client.status != StatusConnected {
			continue
		}
		for _, tool := range client.tools {
			out = append(out, ToolInfo{
				Name:        CompositeToolName(id, tool.Name),
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}
	return out
}

// ServerState returns a snapshot for id.
func (m *Manager) ServerState(id string) (ServerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[id]
	if !ok {
		return ServerState{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return snapshotState(client), nil
}

// States returns a snapshot of every tracked server.
func (m *Manager) States() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerState, 0, len(m.clients))
	for _, client := range m.clients {
		out = append(out, snapshotState(client))
	}
	return out
}

func snapshotState(client *liveClient) ServerState {
	return ServerState{
		Config:    client.config,
		Status:    client.status,
		Tools:     append([]ToolInfo(nil), client.tools...),
		Resources: append([]Resource(nil), client.resources...),
		LastError: client.lastErr,
	}
}

// History returns a chronological snapshot of the call records.
func (m *Manager) History() []ToolCallRecord {
	return m.history.Records()
}

// Subscribe registers a status listener. The returned cancel func must be
// called to release it. Slow subscribers miss updates rather than blocking
// the Manager.
func (m *Manager) Subscribe() (<-chan StatusUpdate, func()) {
	ch := make(chan StatusUpdate, 16)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.subMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) broadcast(update StatusUpdate) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

// AutoConnect loads the persisted server list and starts a connection
// attempt for every enabled entry. Attempts run concurrently and do not
// block the caller; failures surface through status updates.
func (m *Manager) AutoConnect(ctx context.Context) ([]ServerConfig, error) {
	if m.store == nil {
		return nil, nil
	}
	configs, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		go func(cfg ServerConfig) {
			if err := m.Connect(ctx, cfg); err != nil {
				m.logger.Warn("mcp: auto-connect failed", "server", cfg.ID, "error", Redact(err.Error()))
			}
		}(cfg)
	}
	return configs, nil
}

// AddServer persists a new config and connects it if enabled. An existing
// client under the same ID is disconnected first.
func (m *Manager) AddServer(ctx context.Context, cfg ServerConfig) error {
	return m.upsertServer(ctx, cfg, false)
}

// UpdateServer replaces the persisted config for cfg.ID, reconnecting if
// still enabled.
func (m *Manager) UpdateServer(ctx context.Context, cfg ServerConfig) error {
	return m.upsertServer(ctx, cfg, true)
}

func (m *Manager) upsertServer(ctx context.Context, cfg ServerConfig, mustExist bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.Disconnect(cfg.ID)

	if m.store != nil {
		configs, err := m.store.Load()
		if err != nil {
			return err
		}
		found := false
		for i, existing := range configs {
			if existing.ID == cfg.ID {
				configs[i] = cfg
				found = true
				break
			}
		}
		if !found {
			if mustExist {
				return fmt.Errorf("%w: %s", ErrServerNotFound, cfg.ID)
			}
			configs = append(configs, cfg)
		}
		if err := m.store.Save(configs); err != nil {
			return err
		}
	}

	if cfg.Enabled {
		return m.Connect(ctx, cfg)
	}
	return nil
}

// RemoveServer disconnects and unpersists the config for id.
func (m *Manager) RemoveServer(id string) error {
	m.Disconnect(id)

	if m.store == nil {
		return nil
	}
	configs, err := m.store.Load()
	if err != nil {
		return err
	}
	kept := configs[:0]
	for _, cfg := range configs {
		if cfg.ID != id {
			kept = append(kept, cfg)
		}
	}
	return m.store.Save(kept)
}
