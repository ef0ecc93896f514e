// Package gateway is the inbound MCP surface. Every authenticated client
// connection gets its own MCP server populated with exactly the features
// the client's grants make visible, addressed by qualified name. The
// per-session sink keeps that server in sync as grants and backends
// change, which is how list-changed notifications reach the client.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/oauth"
	"github.com/ion-ash/mcp-mux/internal/router"
	"github.com/ion-ash/mcp-mux/internal/sessions"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Caller dispatches routed requests to live backend sessions. Implemented
// by backends.Manager.
type Caller interface {
	CallTool(ctx context.Context, spaceID uuid.UUID, serverID, name string, args any) (*mcp.CallToolResult, error)
	GetPrompt(ctx context.Context, spaceID uuid.UUID, serverID, name string, args map[string]string) (*mcp.GetPromptResult, error)
	ReadResource(ctx context.Context, spaceID uuid.UUID, serverID, uri string) (*mcp.ReadResourceResult, error)
}

// Primer records a fresh session's baseline content hashes so connecting
// never fires a notification by itself. Implemented by notifier.Runner.
type Primer interface {
	Prime(ctx context.Context, session *sessions.Session)
}

// Gateway builds per-session MCP servers for authenticated clients.
type Gateway struct {
	router   *router.Router
	backends Caller
	registry *sessions.Registry
	primer   Primer
	impl     *mcp.Implementation
	logger   *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogHandler sets a custom log handler for the Gateway.
func WithLogHandler(handler slog.Handler) Option {
	return func(g *Gateway) {
		g.logger = slog.New(handler)
	}
}

// WithImplementation overrides the server identity announced to clients.
func WithImplementation(impl *mcp.Implementation) Option {
	return func(g *Gateway) {
		if impl != nil {
			g.impl = impl
		}
	}
}

// New creates a Gateway over the routing and dispatch plumbing.
func New(
	rt *router.Router,
	backends Caller,
	registry *sessions.Registry,
	primer Primer,
	opts ...Option,
) *Gateway {
	g := &Gateway{
		router:   rt,
		backends: backends,
		registry: registry,
		primer:   primer,
		impl:     &mcp.Implementation{Name: "mcp-mux", Version: "0.1.0"},
		logger:   slog.Default().WithGroup("gateway.Gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler returns the Streamable HTTP handler for the MCP endpoint. It
// must sit behind the oauth middleware, which injects the identity the
// per-session server is scoped to.
func (g *Gateway) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		identity, ok := oauth.IdentityFromContext(req.Context())
		if !ok {
			g.logger.Error("MCP request reached the gateway without an identity")
			return nil
		}
		return g.sessionServer(req.Context(), identity)
	}, nil)
}

// sessionServer builds one client's MCP server: registers the visible
// features under their qualified names, enters the session into the
// registry, and primes its notification baseline.
func (g *Gateway) sessionServer(ctx context.Context, identity oauth.Identity) *mcp.Server {
	sink := newFeatureSink(g, identity.ClientID, identity.SpaceID)

	srv := mcp.NewServer(g.impl, &mcp.ServerOptions{
		HasTools:           true,
		HasPrompts:         true,
		HasResources:       true,
		InitializedHandler: sink.initialized,
	})
	sink.server = srv

	// Register and prime before presenting any features. The primed hash
	// is read strictly before the reconcile reads, so it can only lag
	// what the client is shown: a change racing construction hashes
	// differently and still produces a notification.
	session := g.registry.Register(identity.ClientID, identity.SpaceID, sink)
	sink.session = session
	g.primer.Prime(ctx, session)

	for _, kind := range domain.Kinds() {
		if err := sink.reconcile(ctx, kind); err != nil {
			g.logger.Warn("initial feature registration failed",
				"client_id", identity.ClientID,
				"space_id", identity.SpaceID,
				"kind", kind,
				"error", err,
			)
		}
	}

	g.logger.Info("client session opened",
		"session_id", session.ID,
		"client_id", identity.ClientID,
		"space_id", identity.SpaceID,
	)
	return srv
}
