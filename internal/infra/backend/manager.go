// Package backend owns the lifecycle of one connection per configured
// backend tool server: launch, tool enumeration, invocation, teardown.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/mcpcodec"
)

// Launcher starts a protocol connection for a backend spec. The process
// launcher is the production implementation; tests inject fakes.
type Launcher interface {
	Start(ctx context.Context, spec domain.BackendSpec) (domain.Conn, error)
}

type ManagerOptions struct {
	Launcher        Launcher
	Logger          *zap.Logger
	Metrics         domain.Metrics
	DiscoverTimeout time.Duration
	InvokeTimeout   time.Duration
	ReconnectMin    time.Duration
}

// Manager keeps one long-lived connection per backend. Connections are
// established once and reused; a dead connection fails fast rather than
// reconnecting implicitly. Reconnection is an explicit, rate-limited call.
type Manager struct {
	launcher        Launcher
	logger          *zap.Logger
	metrics         domain.Metrics
	discoverTimeout time.Duration
	invokeTimeout   time.Duration
	reconnectMin    time.Duration

	mu       sync.RWMutex
	backends map[string]*backendConn
}

type backendConn struct {
	spec          domain.BackendSpec
	conn          domain.Conn
	connectedAt   time.Time
	lastReconnect time.Time
	toolCount     int
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	discoverTimeout := opts.DiscoverTimeout
	if discoverTimeout <= 0 {
		discoverTimeout = time.Duration(domain.DefaultDiscoverTimeoutSeconds) * time.Second
	}
	invokeTimeout := opts.InvokeTimeout
	if invokeTimeout <= 0 {
		invokeTimeout = time.Duration(domain.DefaultInvokeTimeoutSeconds) * time.Second
	}
	reconnectMin := opts.ReconnectMin
	if reconnectMin <= 0 {
		reconnectMin = time.Duration(domain.DefaultReconnectMinSeconds) * time.Second
	}
	return &Manager{
		launcher:        opts.Launcher,
		logger:          logger.Named("backend"),
		metrics:         opts.Metrics,
		discoverTimeout: discoverTimeout,
		invokeTimeout:   invokeTimeout,
		reconnectMin:    reconnectMin,
		backends:        make(map[string]*backendConn),
	}
}

// Register launches a connection for the spec and enumerates its tools.
// Discovery failure does not fail registration: the backend stays connected
// and contributes zero tools until a reconnect rediscovers it.
func (m *Manager) Register(ctx context.Context, spec domain.BackendSpec) ([]domain.Tool, error) {
	if spec.Name == "" {
		return nil, errors.New("backend name is required")
	}

	m.mu.Lock()
	if _, exists := m.backends[spec.Name]; exists {
		m.mu.Unlock()
		return nil, domain.ErrBackendExists
	}
	// Reserve the slot before the slow launch so concurrent registrations
	// of the same name fail fast.
	m.backends[spec.Name] = nil
	m.mu.Unlock()

	conn, err := m.launcher.Start(ctx, spec)
	if err != nil {
		m.mu.Lock()
		delete(m.backends, spec.Name)
		m.mu.Unlock()
		return nil, fmt.Errorf("launch backend %s: %w", spec.Name, err)
	}

	tools, derr := m.discover(ctx, spec.Name, conn)
	if derr != nil {
		m.logger.Warn("backend discovery failed, registering with zero tools",
			zap.String("backend", spec.Name),
			zap.Error(derr),
		)
		tools = nil
	}

	m.mu.Lock()
	m.backends[spec.Name] = &backendConn{
		spec:        spec,
		conn:        conn,
		connectedAt: time.Now(),
		toolCount:   len(tools),
	}
	m.mu.Unlock()
	m.observeAlive(spec.Name, conn.Alive())

	m.logger.Info("backend registered",
		zap.String("backend", spec.Name),
		zap.Int("tools", len(tools)),
	)
	return tools, nil
}

// Deregister tears down a backend connection and forgets it.
func (m *Manager) Deregister(name string) error {
	m.mu.Lock()
	entry, ok := m.backends[name]
	delete(m.backends, name)
	m.mu.Unlock()
	if !ok {
		return domain.ErrUnknownBackend
	}
	if entry != nil && entry.conn != nil {
		_ = entry.conn.Close()
	}
	m.observeAlive(name, false)
	m.logger.Info("backend deregistered", zap.String("backend", name))
	return nil
}

// DiscoverTools re-enumerates a registered backend's tools.
func (m *Manager) DiscoverTools(ctx context.Context, name string) ([]domain.Tool, error) {
	conn, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	tools, err := m.discover(ctx, name, conn)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if current, ok := m.backends[name]; ok && current != nil {
		current.toolCount = len(tools)
	}
	m.mu.Unlock()
	return tools, nil
}

// Invoke forwards a tool call to a backend and waits for the matching reply.
func (m *Manager) Invoke(ctx context.Context, name, toolName string, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	result, err := m.invoke(ctx, name, toolName, args)
	if m.metrics != nil {
		m.metrics.ObserveInvocation(name, time.Since(start), err)
	}
	return result, err
}

func (m *Manager) invoke(ctx context.Context, name, toolName string, args json.RawMessage) (json.RawMessage, error) {
	conn, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	if !conn.Alive() {
		m.observeAlive(name, false)
		return nil, domain.ErrBackendUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, m.invokeTimeout)
	defer cancel()

	params := &mcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}
	result, err := conn.Call(callCtx, "tools/call", params)
	if err != nil {
		return nil, m.mapInvokeError(ctx, name, err)
	}
	return result, nil
}

// Reconnect tears down and relaunches a backend connection, then
// rediscovers its tools. Attempts inside the minimum interval are refused so
// a flapping backend cannot trigger a reconnect storm.
func (m *Manager) Reconnect(ctx context.Context, name string) ([]domain.Tool, error) {
	m.mu.Lock()
	entry, ok := m.backends[name]
	if !ok || entry == nil {
		m.mu.Unlock()
		return nil, domain.ErrUnknownBackend
	}
	if since := time.Since(entry.lastReconnect); since < m.reconnectMin {
		m.mu.Unlock()
		return nil, domain.ErrReconnectTooSoon
	}
	entry.lastReconnect = time.Now()
	spec := entry.spec
	old := entry.conn
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	conn, err := m.launcher.Start(ctx, spec)
	if err != nil {
		m.observeAlive(name, false)
		return nil, fmt.Errorf("relaunch backend %s: %w", name, err)
	}

	tools, derr := m.discover(ctx, name, conn)
	if derr != nil {
		m.logger.Warn("rediscovery failed after reconnect",
			zap.String("backend", name),
			zap.Error(derr),
		)
		tools = nil
	}

	m.mu.Lock()
	if current, ok := m.backends[name]; ok && current != nil {
		current.conn = conn
		current.connectedAt = time.Now()
		current.toolCount = len(tools)
	} else {
		// Deregistered while reconnecting.
		_ = conn.Close()
	}
	m.mu.Unlock()
	m.observeAlive(name, conn.Alive())
	return tools, nil
}

// List returns a status snapshot per registered backend, sorted by name.
func (m *Manager) List() []domain.BackendStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.BackendStatus, 0, len(m.backends))
	for name, entry := range m.backends {
		status := domain.BackendStatus{Name: name}
		if entry != nil {
			status.Alive = entry.conn != nil && entry.conn.Alive()
			status.ToolCount = entry.toolCount
			status.ConnectedAt = entry.connectedAt
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close tears down every backend connection.
func (m *Manager) Close() {
	m.mu.Lock()
	backends := m.backends
	m.backends = make(map[string]*backendConn)
	m.mu.Unlock()
	for name, entry := range backends {
		if entry != nil && entry.conn != nil {
			_ = entry.conn.Close()
		}
		m.observeAlive(name, false)
	}
}

func (m *Manager) discover(ctx context.Context, name string, conn domain.Conn) ([]domain.Tool, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, m.discoverTimeout)
	defer cancel()

	var wireTools []*mcp.Tool
	cursor := ""
	for {
		params := &mcp.ListToolsParams{Cursor: cursor}
		raw, err := conn.Call(discoverCtx, "tools/list", params)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("backend %s: %w", name, domain.ErrDiscoveryTimeout)
			}
			if errors.Is(err, domain.ErrConnectionClosed) || errors.Is(err, domain.ErrTruncatedStream) {
				return nil, fmt.Errorf("backend %s: %w", name, domain.ErrBackendUnavailable)
			}
			return nil, fmt.Errorf("backend %s: %w: %s", name, domain.ErrDiscoveryProtocol, err)
		}

		var result mcp.ListToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("backend %s: %w: decode tools/list result: %s", name, domain.ErrDiscoveryProtocol, err)
		}
		wireTools = append(wireTools, result.Tools...)
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	return mcpcodec.ToolsFromWire(name, wireTools), nil
}

func (m *Manager) mapInvokeError(parent context.Context, name string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		return fmt.Errorf("backend %s: %w", name, domain.ErrInvocationTimeout)
	case errors.Is(err, domain.ErrConnectionClosed), errors.Is(err, domain.ErrTruncatedStream):
		m.observeAlive(name, false)
		return fmt.Errorf("backend %s: %w", name, domain.ErrBackendUnavailable)
	default:
		return err
	}
}

// lookup copies the backend's conn out while holding the lock; callers must
// never touch the map entry itself, Reconnect swaps its fields concurrently.
func (m *Manager) lookup(name string) (domain.Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.backends[name]
	if !ok || entry == nil {
		return nil, domain.ErrUnknownBackend
	}
	return entry.conn, nil
}

func (m *Manager) observeAlive(name string, alive bool) {
	if m.metrics != nil {
		m.metrics.SetBackendAlive(name, alive)
	}
}
