// Package mcp provides the inter-server RPC layer: a registry of peer MCP
// servers with pluggable transports, a lazily-connected client pool, and
// result envelope helpers.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-suite/fabric/pkg/version"
)

// Pool timeouts.
const (
	// ConnectTimeout bounds transport creation plus the MCP handshake.
	ConnectTimeout = 30 * time.Second

	// DefaultCallTimeout is the overall deadline applied to each remote
	// tool call and resource read.
	DefaultCallTimeout = 30 * time.Second
)

// connection pairs a client endpoint with its live session, keyed by server
// name in the pool. The pool exclusively owns the connection; callers hold a
// short-lived capability to invoke it.
type connection struct {
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

// Pool is a registry of peer servers plus a connection cache. Connections
// are opened lazily on first use and reused until Disconnect/DisconnectAll.
// Thread-safe; concurrent calls against one server multiplex over its single
// connection (the MCP layer correlates replies by request id).
type Pool struct {
	mu      sync.RWMutex
	entries map[string]ServerEntry
	conns   map[string]*connection
	closed  bool

	// Per-server mutex serializing connection establishment, so concurrent
	// GetSession calls for one name coalesce into a single connect.
	connectMu sync.Map // name → *sync.Mutex

	callTimeout time.Duration
	logger      *slog.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithCallTimeout overrides the per-call deadline.
func WithCallTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.callTimeout = d }
}

// WithPoolLogger sets the structured logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates an empty client pool.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		entries:     make(map[string]ServerEntry),
		conns:       make(map[string]*connection),
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Register records a server entry. Duplicate names overwrite. No I/O occurs
// until the first call against the server.
func (p *Pool) Register(entry ServerEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.entries[entry.Name] = entry
	return nil
}

// RegisterMany records a batch of entries, failing on the first invalid one.
func (p *Pool) RegisterMany(entries []ServerEntry) error {
	for _, e := range entries {
		if err := p.Register(e); err != nil {
			return err
		}
	}
	return nil
}

// GetSession returns the cached session for a server, opening a new
// connection per the entry's transport when none exists. Concurrent calls
// for the same name coalesce into a single connect.
func (p *Pool) GetSession(ctx context.Context, name string) (*mcpsdk.ClientSession, error) {
	// Fast path: cached connection.
	p.mu.RLock()
	if conn, ok := p.conns[name]; ok {
		p.mu.RUnlock()
		return conn.session, nil
	}
	closed := p.closed
	entry, registered := p.entries[name]
	p.mu.RUnlock()

	if closed {
		return nil, ErrPoolClosed
	}
	if !registered {
		return nil, fmt.Errorf("%q: %w", name, ErrNotRegistered)
	}

	// Serialize connects per server: the second caller blocks here and then
	// finds the connection opened by the first.
	mu := p.serverMutex(name)
	mu.Lock()
	defer mu.Unlock()

	p.mu.RLock()
	if conn, ok := p.conns[name]; ok {
		p.mu.RUnlock()
		return conn.session, nil
	}
	p.mu.RUnlock()

	transport, err := createTransport(entry)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %q: %w: %v", name, ErrConnection, err)
	}

	p.storeConnection(name, &connection{client: client, session: session})
	p.logger.Info("peer server connected", "server", name, "transport", entry.Transport)
	return session, nil
}

// CallTool issues a tools/call against a server, connecting lazily. The
// returned envelope is not interpreted: an isError envelope is returned to
// the caller as-is, not translated into a Go error.
func (p *Pool) CallTool(ctx context.Context, name, tool string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	session, err := p.GetSession(ctx, name)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	result, err := session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", name, tool, err)
	}
	return result, nil
}

// ReadResource issues a resources/read against a server, connecting lazily.
func (p *Pool) ReadResource(ctx context.Context, name, uri string) (*mcpsdk.ReadResourceResult, error) {
	session, err := p.GetSession(ctx, name)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	result, err := session.ReadResource(callCtx, &mcpsdk.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", name, uri, err)
	}
	return result, nil
}

// ListTools returns the tools a server advertises, connecting lazily.
func (p *Pool) ListTools(ctx context.Context, name string) ([]*mcpsdk.Tool, error) {
	session, err := p.GetSession(ctx, name)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	result, err := session.ListTools(callCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", name, err)
	}
	return result.Tools, nil
}

// ConnectInMemory attaches a server through a pre-created linked transport
// endpoint. The peer must already be serving the other endpoint of the pair.
// Registers the name as an in-memory entry when it is not yet registered.
func (p *Pool) ConnectInMemory(ctx context.Context, name string, endpoint *mcpsdk.InMemoryTransport) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if _, ok := p.entries[name]; !ok {
		p.entries[name] = ServerEntry{Name: name, Transport: TransportInMemory}
	}
	p.mu.Unlock()

	mu := p.serverMutex(name)
	mu.Lock()
	defer mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(connectCtx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("connect in-memory %q: %w: %v", name, ErrConnection, err)
	}

	p.storeConnection(name, &connection{client: client, session: session})
	p.logger.Info("peer server connected", "server", name, "transport", TransportInMemory)
	return nil
}

// Disconnect closes the connection for a server and forgets it. Safe when
// the server is not connected. The registration is kept.
func (p *Pool) Disconnect(name string) error {
	p.mu.Lock()
	conn, ok := p.conns[name]
	delete(p.conns, name)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	if err := conn.session.Close(); err != nil {
		return fmt.Errorf("disconnect %q: %w", name, err)
	}
	p.logger.Info("peer server disconnected", "server", name)
	return nil
}

// DisconnectAll closes every connection concurrently and marks the pool
// closed. Pending tool calls fail as their sessions close. Returns the first
// close error encountered.
func (p *Pool) DisconnectAll() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*connection)
	p.closed = true
	p.mu.Unlock()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for name, conn := range conns {
		wg.Add(1)
		go func(name string, conn *connection) {
			defer wg.Done()
			if err := conn.session.Close(); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("disconnect %q: %w", name, err)
				}
				errMu.Unlock()
			}
		}(name, conn)
	}
	wg.Wait()
	return firstErr
}

// IsConnected reports whether a live connection is cached for the server.
func (p *Pool) IsConnected(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.conns[name]
	return ok
}

// RegisteredServers returns all registered server names, sorted.
func (p *Pool) RegisteredServers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Pool) serverMutex(name string) *sync.Mutex {
	muI, _ := p.connectMu.LoadOrStore(name, &sync.Mutex{})
	return muI.(*sync.Mutex)
}

func (p *Pool) storeConnection(name string, conn *connection) {
	p.mu.Lock()
	p.conns[name] = conn
	p.mu.Unlock()
}
