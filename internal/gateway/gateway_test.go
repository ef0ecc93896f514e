package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/backends"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/events"
	"github.com/ion-ash/mcp-mux/internal/grants"
	"github.com/ion-ash/mcp-mux/internal/notifier"
	"github.com/ion-ash/mcp-mux/internal/oauth"
	"github.com/ion-ash/mcp-mux/internal/resolver"
	"github.com/ion-ash/mcp-mux/internal/router"
	"github.com/ion-ash/mcp-mux/internal/sessions"
	"github.com/ion-ash/mcp-mux/internal/storage/memory"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoInput struct {
	Text string `json:"text"`
}

type echoOutput struct {
	Text string `json:"text"`
}

// stack is the full in-process pipeline: one fake backend behind the
// backends manager, the resolver/router/notifier core, the oauth
// boundary, and the gateway served over a test HTTP listener.
type stack struct {
	t        *testing.T
	store    *memory.Store
	space    domain.Space
	server   domain.Server
	backend  *mcp.Server
	manager  *backends.Manager
	grantSvc *grants.Service
	auth     *oauth.Service
	registry *sessions.Registry
	ts       *httptest.Server
}

func discard() slog.Handler {
	return slog.NewTextHandler(io.Discard, nil)
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	s := &stack{t: t, store: memory.NewStore()}
	s.space = domain.Space{ID: uuid.Must(uuid.NewV4()), Name: "work"}
	require.NoError(t, s.store.Spaces().Create(ctx, s.space))

	s.server = domain.Server{
		ID: "fake", SpaceID: s.space.ID,
		Transport: "stdio", Command: "unused", Enabled: true,
	}
	require.NoError(t, s.store.Servers().Upsert(ctx, s.server))

	s.backend = mcp.NewServer(&mcp.Implementation{Name: "fake-backend", Version: "0.0.1"}, nil)
	mcp.AddTool(s.backend, &mcp.Tool{Name: "echo", Description: "echoes input"},
		func(_ context.Context, _ *mcp.CallToolRequest, in echoInput) (*mcp.CallToolResult, echoOutput, error) {
			return nil, echoOutput{Text: in.Text}, nil
		})
	s.backend.AddPrompt(&mcp.Prompt{Name: "greeting", Description: "a canned greeting"},
		func(context.Context, *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Messages: []*mcp.PromptMessage{
					{Role: "user", Content: &mcp.TextContent{Text: "hello"}},
				},
			}, nil
		})

	broadcaster := events.NewBroadcaster()
	t.Cleanup(broadcaster.Close)

	manager, err := backends.NewManager(
		s.store.Spaces(), s.store.Servers(), s.store.Features(), broadcaster,
		backends.WithTransportFactory(func(domain.Server) (mcp.Transport, error) {
			clientSide, serverSide := mcp.NewInMemoryTransports()
			if _, err := s.backend.Connect(context.Background(), serverSide, nil); err != nil {
				return nil, err
			}
			return clientSide, nil
		}),
		backends.WithLogHandler(discard()),
	)
	require.NoError(t, err)
	s.manager = manager
	s.runRunnable(manager.Run, manager.IsRunning)

	res := resolver.New(
		s.store.Features(), s.store.FeatureSets(), s.store.Grants(),
		resolver.WithLogHandler(discard()),
	)
	s.registry = sessions.NewRegistry(sessions.WithLogHandler(discard()))

	notif, err := notifier.NewRunner(s.registry, res, broadcaster,
		notifier.WithThrottleWindow(10*time.Millisecond),
		notifier.WithLogHandler(discard()),
	)
	require.NoError(t, err)
	s.runRunnable(notif.Run, notif.IsRunning)

	s.grantSvc = grants.NewService(
		s.store.Grants(), s.store.FeatureSets(), s.store.Spaces(), broadcaster,
		grants.WithLogHandler(discard()),
	)

	s.auth, err = oauth.NewService(
		s.store.Clients(), s.store.Spaces(),
		"https://mux.test", []byte("test-secret"), time.Hour,
		oauth.WithLogHandler(discard()),
	)
	require.NoError(t, err)

	rt := router.New(res, router.WithLogHandler(discard()))
	gw := New(rt, manager, s.registry, notif, WithLogHandler(discard()))
	s.ts = httptest.NewServer(s.auth.Middleware(gw.Handler()))
	t.Cleanup(s.ts.Close)

	return s
}

func (s *stack) runRunnable(run func(context.Context) error, isRunning func() bool) {
	s.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	s.t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(s.t, err)
		case <-time.After(5 * time.Second):
			s.t.Error("runnable did not shut down")
		}
	})
	require.Eventually(s.t, isRunning, 5*time.Second, 10*time.Millisecond)
}

// registerClient registers a client and returns it with a valid token.
func (s *stack) registerClient(name string) (domain.Client, string) {
	s.t.Helper()
	ctx := context.Background()
	client, err := s.auth.Register(ctx, domain.Client{Name: name})
	require.NoError(s.t, err)
	token, _, err := s.auth.IssueToken(ctx, client.ID)
	require.NoError(s.t, err)
	return client, token
}

// grantServer issues a builtin grant covering everything the fake
// backend exposes.
func (s *stack) grantServer(clientID string) domain.Grant {
	s.t.Helper()
	ctx := context.Background()
	set, err := s.grantSvc.CreateBuiltinSet(ctx, s.space.ID, "all of fake", s.server.ID)
	require.NoError(s.t, err)
	grant, err := s.grantSvc.Issue(ctx, clientID, s.space.ID, set.ID)
	require.NoError(s.t, err)
	return grant
}

type bearerTransport struct {
	token string
}

func (b bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+b.token)
	return http.DefaultTransport.RoundTrip(clone)
}

// connect opens an MCP client session through the HTTP gateway.
func (s *stack) connect(token string, opts *mcp.ClientOptions) *mcp.ClientSession {
	s.t.Helper()
	transport := &mcp.StreamableClientTransport{
		Endpoint:   s.ts.URL,
		HTTPClient: &http.Client{Transport: bearerTransport{token: token}},
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, opts)
	session, err := client.Connect(context.Background(), transport, nil)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = session.Close() })
	return session
}

func (s *stack) qualified(kind domain.FeatureKind, name string) string {
	s.t.Helper()
	qn, err := domain.EncodeQualifiedName(s.space.ID, s.server.ID, kind, name)
	require.NoError(s.t, err)
	return string(qn)
}

func TestSessionSeesOnlyGrantedFeatures(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()

	granted, grantedToken := s.registerClient("granted")
	s.grantServer(granted.ID)
	_, bareToken := s.registerClient("bare")

	grantedSession := s.connect(grantedToken, nil)
	tools, err := grantedSession.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, s.qualified(domain.KindTool, "echo"), tools.Tools[0].Name)

	prompts, err := grantedSession.ListPrompts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, prompts.Prompts, 1)
	assert.Equal(t, s.qualified(domain.KindPrompt, "greeting"), prompts.Prompts[0].Name)

	// No grants, same space: nothing is visible.
	bareSession := s.connect(bareToken, nil)
	tools, err = bareSession.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, tools.Tools)
}

func TestCallToolRoutesThroughBackend(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()

	client, token := s.registerClient("caller")
	s.grantServer(client.ID)
	session := s.connect(token, nil)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      s.qualified(domain.KindTool, "echo"),
		Arguments: map[string]any{"text": "ping"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	prompt, err := session.GetPrompt(ctx, &mcp.GetPromptParams{
		Name: s.qualified(domain.KindPrompt, "greeting"),
	})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
}

func TestUngrantedFeatureIndistinguishableFromMissing(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()

	_, token := s.registerClient("bare")
	session := s.connect(token, nil)

	// A real feature the client has no grant for, and a feature that
	// does not exist anywhere, fail identically.
	_, grantedErr := session.CallTool(ctx, &mcp.CallToolParams{
		Name: s.qualified(domain.KindTool, "echo"),
	})
	require.Error(t, grantedErr)
	_, missingErr := session.CallTool(ctx, &mcp.CallToolParams{
		Name: s.qualified(domain.KindTool, "no_such_tool"),
	})
	require.Error(t, missingErr)
}

func TestGrantDeliversToolListChanged(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()

	client, token := s.registerClient("latecomer")

	notified := make(chan struct{}, 8)
	session := s.connect(token, &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			notified <- struct{}{}
		},
	})

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, tools.Tools)

	s.grantServer(client.ID)

	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("no tool list changed notification after grant")
	}

	assert.Eventually(t, func() bool {
		tools, err := session.ListTools(ctx, nil)
		return err == nil && len(tools.Tools) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRevokeHidesFeatures(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()

	client, token := s.registerClient("revoked")
	grant := s.grantServer(client.ID)
	session := s.connect(token, nil)

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)

	require.NoError(t, s.grantSvc.Revoke(ctx, grant.ID))

	assert.Eventually(t, func() bool {
		tools, err := session.ListTools(ctx, nil)
		return err == nil && len(tools.Tools) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLockedClientIsIsolatedFromOtherSpaces(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()

	personal := domain.Space{ID: uuid.Must(uuid.NewV4()), Name: "personal"}
	require.NoError(t, s.store.Spaces().Create(ctx, personal))

	locked, err := s.auth.Register(ctx, domain.Client{
		Name: "pinned", Mode: domain.ModeLockedSpace, LockedSpaceID: personal.ID,
	})
	require.NoError(t, err)
	// Grant in the work space; the session lives in the personal space.
	s.grantServer(locked.ID)
	token, _, err := s.auth.IssueToken(ctx, locked.ID)
	require.NoError(t, err)

	session := s.connect(token, nil)
	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, tools.Tools)

	_, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name: s.qualified(domain.KindTool, "echo"),
	})
	assert.Error(t, err)
}

func TestRequestWithoutTokenIsRejected(t *testing.T) {
	t.Parallel()
	s := newStack(t)

	resp, err := http.Post(s.ts.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
