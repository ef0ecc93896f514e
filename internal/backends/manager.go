// Package backends owns the outbound side of the gateway: one MCP client
// session per enabled backend server. It discovers each server's tools,
// prompts, and resources into the feature inventory, publishes domain
// events when the inventory changes, and dispatches calls to the session
// that owns the target feature.
package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/events"
	"github.com/ion-ash/mcp-mux/internal/finitestate"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/robbyt/go-supervisor/supervisor"
)

var (
	_ supervisor.Runnable  = (*Manager)(nil)
	_ supervisor.Stateable = (*Manager)(nil)
)

// ErrServerUnavailable is returned by the dispatch methods when the
// target server has no live session.
var ErrServerUnavailable = errors.New("backend server unavailable")

const defaultSyncTimeout = 30 * time.Second

// connection is one live client session to a backend server.
type connection struct {
	server  domain.Server
	session *mcp.ClientSession
	flowID  uint64
}

// Manager connects to every enabled backend server and keeps the feature
// inventory in sync with what each server advertises. It implements
// supervisor.Runnable. There is no automatic reconnect: a dead backend
// stays disconnected until the manager is restarted.
type Manager struct {
	spaces      domain.SpaceRepository
	servers     domain.ServerRepository
	features    domain.FeatureRepository
	broadcaster *events.Broadcaster
	transport   TransportFactory
	syncTimeout time.Duration
	impl        *mcp.Implementation

	logger *slog.Logger
	fsm    finitestate.Machine

	runCtx    context.Context
	runCancel context.CancelFunc
	parentCtx context.Context

	mu    sync.Mutex
	conns map[string]*connection
	flows map[string]uint64

	wg sync.WaitGroup
}

// NewManager creates a backend manager over the given repositories and
// event stream.
func NewManager(
	spaces domain.SpaceRepository,
	servers domain.ServerRepository,
	features domain.FeatureRepository,
	broadcaster *events.Broadcaster,
	opts ...Option,
) (*Manager, error) {
	m := &Manager{
		spaces:      spaces,
		servers:     servers,
		features:    features,
		broadcaster: broadcaster,
		transport:   defaultTransport,
		syncTimeout: defaultSyncTimeout,
		impl:        &mcp.Implementation{Name: "mcp-mux", Version: "0.1.0"},
		logger:      slog.Default().WithGroup("backends.Manager"),
		parentCtx:   context.Background(),
		conns:       make(map[string]*connection),
		flows:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}

	fsmLogger := m.logger.WithGroup("fsm")
	machine, err := finitestate.New(fsmLogger.Handler())
	if err != nil {
		return nil, fmt.Errorf("failed to create state machine: %w", err)
	}
	m.fsm = machine
	return m, nil
}

// String implements the supervisor.Runnable interface
func (m *Manager) String() string {
	return "backends.Manager"
}

// Run implements the supervisor.Runnable interface
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Debug("Starting Manager")

	if err := m.fsm.Transition(finitestate.StatusBooting); err != nil {
		return fmt.Errorf("failed to transition to booting state: %w", err)
	}

	m.runCtx, m.runCancel = context.WithCancel(ctx)
	defer m.runCancel()

	if err := m.connectAll(m.runCtx); err != nil {
		m.logger.Error("Initial backend connect pass failed", "error", err)
	}

	if err := m.fsm.Transition(finitestate.StatusRunning); err != nil {
		return fmt.Errorf("failed to transition to running state: %w", err)
	}

	select {
	case <-m.parentCtx.Done():
		m.logger.Debug("Parent context canceled")
	case <-m.runCtx.Done():
		m.logger.Debug("Run context canceled")
	}

	m.logger.Info("Manager shutting down")

	if m.fsm.GetState() != finitestate.StatusStopping {
		if err := m.fsm.Transition(finitestate.StatusStopping); err != nil {
			m.logger.Error("Failed to transition to stopping state", "error", err)
		}
	}

	m.closeAll()
	m.wg.Wait()

	if err := m.fsm.Transition(finitestate.StatusStopped); err != nil {
		return fmt.Errorf("failed to transition to stopped state: %w", err)
	}
	return nil
}

// Stop implements the supervisor.Runnable interface
func (m *Manager) Stop() {
	m.logger.Debug("Stopping Manager")
	if err := m.fsm.Transition(finitestate.StatusStopping); err != nil {
		m.logger.Error("Failed to transition to stopping state", "error", err)
	}
	if m.runCancel != nil {
		m.runCancel()
	}
}

// connectAll connects every enabled server of every space. Servers are
// independent, so failures are logged per server and never abort the pass.
func (m *Manager) connectAll(ctx context.Context) error {
	spaces, err := m.spaces.List(ctx)
	if err != nil {
		return fmt.Errorf("listing spaces: %w", err)
	}

	var wg sync.WaitGroup
	for _, space := range spaces {
		servers, err := m.servers.List(ctx, space.ID)
		if err != nil {
			m.logger.Error("Listing servers failed", "space_id", space.ID, "error", err)
			continue
		}
		for _, server := range servers {
			if !server.Enabled {
				continue
			}
			wg.Add(1)
			go func(server domain.Server) {
				defer wg.Done()
				if err := m.Connect(ctx, server); err != nil {
					m.logger.Warn("Backend connect failed",
						"space_id", server.SpaceID,
						"server_id", server.ID,
						"error", err,
					)
				}
			}(server)
		}
	}
	wg.Wait()
	return nil
}

// Connect establishes a session to one backend server, runs the initial
// feature discovery, and starts the session monitor. Calling it for a
// server that already has a live session replaces nothing and fails.
func (m *Manager) Connect(ctx context.Context, server domain.Server) error {
	key := connKey(server.SpaceID, server.ID)

	m.mu.Lock()
	if _, ok := m.conns[key]; ok {
		m.mu.Unlock()
		return fmt.Errorf("server %s in space %s is already connected", server.ID, server.SpaceID)
	}
	m.flows[key]++
	flowID := m.flows[key]
	m.mu.Unlock()

	m.setStatus(ctx, server, domain.StatusConnecting, flowID, "")

	transport, err := m.transport(server)
	if err != nil {
		m.setStatus(ctx, server, domain.StatusDisconnected, flowID, err.Error())
		return fmt.Errorf("building transport: %w", err)
	}

	client := mcp.NewClient(m.impl, m.clientOptions(server))
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		m.setStatus(ctx, server, domain.StatusDisconnected, flowID, err.Error())
		return fmt.Errorf("connecting to server %s: %w", server.ID, err)
	}

	conn := &connection{server: server, session: session, flowID: flowID}
	m.mu.Lock()
	m.conns[key] = conn
	m.mu.Unlock()

	m.setStatus(ctx, server, domain.StatusConnected, flowID, "")
	m.logger.Info("Backend connected",
		"space_id", server.SpaceID,
		"server_id", server.ID,
		"flow_id", flowID,
	)

	if err := m.syncServer(ctx, conn); err != nil {
		m.logger.Warn("Initial feature discovery failed",
			"server_id", server.ID,
			"error", err,
		)
	}

	m.wg.Add(1)
	go m.monitor(conn)
	return nil
}

// clientOptions wires the list-changed notification handlers so a backend
// announcing a change triggers a re-discovery of that kind.
func (m *Manager) clientOptions(server domain.Server) *mcp.ClientOptions {
	return &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			go m.resync(server, domain.KindTool)
		},
		PromptListChangedHandler: func(context.Context, *mcp.PromptListChangedRequest) {
			go m.resync(server, domain.KindPrompt)
		},
		ResourceListChangedHandler: func(context.Context, *mcp.ResourceListChangedRequest) {
			go m.resync(server, domain.KindResource)
		},
	}
}

// monitor blocks until the session terminates, then tears the server's
// state down. Backends do not reconnect automatically.
func (m *Manager) monitor(conn *connection) {
	defer m.wg.Done()
	err := conn.session.Wait()
	m.handleDisconnect(conn, err)
}

func (m *Manager) handleDisconnect(conn *connection, cause error) {
	key := connKey(conn.server.SpaceID, conn.server.ID)

	m.mu.Lock()
	current, ok := m.conns[key]
	if !ok || current.flowID != conn.flowID {
		// A later flow owns the server now; this exit is stale.
		m.mu.Unlock()
		return
	}
	delete(m.conns, key)
	m.mu.Unlock()

	message := ""
	if cause != nil {
		message = cause.Error()
	}
	m.logger.Info("Backend disconnected",
		"space_id", conn.server.SpaceID,
		"server_id", conn.server.ID,
		"flow_id", conn.flowID,
		"cause", message,
	)

	ctx, cancel := context.WithTimeout(context.Background(), m.syncTimeout)
	defer cancel()

	if err := m.features.DeleteForServer(ctx, conn.server.SpaceID, conn.server.ID); err != nil {
		m.logger.Error("Removing features of disconnected server failed",
			"server_id", conn.server.ID,
			"error", err,
		)
	}
	m.setStatus(ctx, conn.server, domain.StatusDisconnected, conn.flowID, message)
}

// setStatus persists a connection state transition and broadcasts it.
func (m *Manager) setStatus(
	ctx context.Context,
	server domain.Server,
	status domain.ConnectionStatus,
	flowID uint64,
	message string,
) {
	if err := m.servers.SetStatus(ctx, server.SpaceID, server.ID, status); err != nil {
		m.logger.Error("Persisting server status failed",
			"server_id", server.ID,
			"status", status,
			"error", err,
		)
	}
	m.broadcaster.Publish(domain.ServerStatusChanged{
		SpaceID:  server.SpaceID,
		ServerID: server.ID,
		Status:   status,
		FlowID:   flowID,
		Message:  message,
	})
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		if err := conn.session.Close(); err != nil {
			m.logger.Debug("Closing backend session failed",
				"server_id", conn.server.ID,
				"error", err,
			)
		}
	}
}

// lookup returns the live connection for a server, or ErrServerUnavailable.
func (m *Manager) lookup(spaceID uuid.UUID, serverID string) (*connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connKey(spaceID, serverID)]
	if !ok {
		return nil, fmt.Errorf("server %s in space %s: %w", serverID, spaceID, ErrServerUnavailable)
	}
	return conn, nil
}

// CallTool invokes a tool on the backend that owns it. The name is the
// server-local tool name, not a qualified name.
func (m *Manager) CallTool(
	ctx context.Context,
	spaceID uuid.UUID,
	serverID, name string,
	args any,
) (*mcp.CallToolResult, error) {
	conn, err := m.lookup(spaceID, serverID)
	if err != nil {
		return nil, err
	}
	return conn.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

// GetPrompt fetches a prompt from the backend that owns it.
func (m *Manager) GetPrompt(
	ctx context.Context,
	spaceID uuid.UUID,
	serverID, name string,
	args map[string]string,
) (*mcp.GetPromptResult, error) {
	conn, err := m.lookup(spaceID, serverID)
	if err != nil {
		return nil, err
	}
	params := &mcp.GetPromptParams{Name: name}
	if len(args) > 0 {
		params.Arguments = args
	}
	return conn.session.GetPrompt(ctx, params)
}

// ReadResource reads a resource from the backend that owns it. Resources
// are identified by their URI.
func (m *Manager) ReadResource(
	ctx context.Context,
	spaceID uuid.UUID,
	serverID, uri string,
) (*mcp.ReadResourceResult, error) {
	conn, err := m.lookup(spaceID, serverID)
	if err != nil {
		return nil, err
	}
	return conn.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

func connKey(spaceID uuid.UUID, serverID string) string {
	return spaceID.String() + "\x00" + serverID
}
