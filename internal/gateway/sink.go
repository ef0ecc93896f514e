package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/sessions"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const reconcileTimeout = 10 * time.Second

// featureSink keeps one client session's MCP server aligned with the
// client's visible set. Adding or removing features on the server makes
// the SDK push the matching list-changed notification to the client, so
// reconciling is how notifications are delivered.
type featureSink struct {
	gateway  *Gateway
	clientID string
	spaceID  uuid.UUID
	server   *mcp.Server
	session  *sessions.Session

	mu         sync.Mutex
	closed     bool
	registered map[domain.FeatureKind]map[string]struct{}
}

var _ sessions.Sink = (*featureSink)(nil)

func newFeatureSink(g *Gateway, clientID string, spaceID uuid.UUID) *featureSink {
	registered := make(map[domain.FeatureKind]map[string]struct{}, 3)
	for _, kind := range domain.Kinds() {
		registered[kind] = make(map[string]struct{})
	}
	return &featureSink{
		gateway:    g,
		clientID:   clientID,
		spaceID:    spaceID,
		registered: registered,
	}
}

// Send implements sessions.Sink.
func (s *featureSink) Send(kind domain.FeatureKind) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return sessions.ErrSinkClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	return s.reconcile(ctx, kind)
}

// reconcile diffs the server's registered features of one kind against
// the freshly resolved visible set and applies the difference.
func (s *featureSink) reconcile(ctx context.Context, kind domain.FeatureKind) error {
	features, err := s.gateway.router.List(ctx, s.clientID, s.spaceID, kind)
	if err != nil {
		return fmt.Errorf("resolving visible %ss: %w", kind, err)
	}

	want := make(map[string]domain.Feature, len(features))
	for _, f := range features {
		want[string(f.QualifiedName())] = f
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sessions.ErrSinkClosed
	}

	have := s.registered[kind]
	var removed []string
	for name := range have {
		if _, ok := want[name]; !ok {
			removed = append(removed, name)
			delete(have, name)
		}
	}
	var added []domain.Feature
	for name, f := range want {
		if _, ok := have[name]; !ok {
			added = append(added, f)
			have[name] = struct{}{}
		}
	}

	switch kind {
	case domain.KindTool:
		if len(removed) > 0 {
			s.server.RemoveTools(removed...)
		}
		for _, f := range added {
			s.server.AddTool(muxTool(f), s.handleTool)
		}
	case domain.KindPrompt:
		if len(removed) > 0 {
			s.server.RemovePrompts(removed...)
		}
		for _, f := range added {
			s.server.AddPrompt(muxPrompt(f), s.handlePrompt)
		}
	case domain.KindResource:
		if len(removed) > 0 {
			s.server.RemoveResources(removed...)
		}
		for _, f := range added {
			s.server.AddResource(muxResource(f), s.handleResource)
		}
	}
	return nil
}

// initialized starts the teardown watch once the MCP handshake finishes.
func (s *featureSink) initialized(_ context.Context, req *mcp.InitializedRequest) {
	ss := req.Session
	if ss == nil {
		return
	}
	go func() {
		_ = ss.Wait()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.gateway.registry.Unregister(s.session)
		s.gateway.logger.Info("client session closed",
			"session_id", s.session.ID,
			"client_id", s.clientID,
		)
	}()
}

func (s *featureSink) handleTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var qn domain.QualifiedName
	var args any
	if req.Params != nil {
		qn = domain.QualifiedName(req.Params.Name)
		args = req.Params.Arguments
	}
	target, err := s.gateway.router.Route(ctx, s.clientID, s.spaceID, qn, domain.KindTool)
	if err != nil {
		return nil, err
	}
	return s.gateway.backends.CallTool(ctx, target.SpaceID, target.ServerID, target.Name, args)
}

func (s *featureSink) handlePrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	var qn domain.QualifiedName
	var args map[string]string
	if req.Params != nil {
		qn = domain.QualifiedName(req.Params.Name)
		args = req.Params.Arguments
	}
	target, err := s.gateway.router.Route(ctx, s.clientID, s.spaceID, qn, domain.KindPrompt)
	if err != nil {
		return nil, err
	}
	return s.gateway.backends.GetPrompt(ctx, target.SpaceID, target.ServerID, target.Name, args)
}

func (s *featureSink) handleResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	var qn domain.QualifiedName
	if req.Params != nil {
		qn = domain.QualifiedName(req.Params.URI)
	}
	target, err := s.gateway.router.Route(ctx, s.clientID, s.spaceID, qn, domain.KindResource)
	if err != nil {
		return nil, err
	}
	result, err := s.gateway.backends.ReadResource(ctx, target.SpaceID, target.ServerID, target.Name)
	if err != nil {
		return nil, err
	}
	// Contents carry backend-local URIs; clients only know qualified names.
	for _, contents := range result.Contents {
		if contents.URI == target.Name {
			contents.URI = string(qn)
		}
	}
	return result, nil
}

func muxTool(f domain.Feature) *mcp.Tool {
	tool := &mcp.Tool{
		Name:        string(f.QualifiedName()),
		Description: f.Description,
	}
	if len(f.Schema) > 0 {
		var schema *jsonschema.Schema
		if err := json.Unmarshal(f.Schema, &schema); err == nil {
			tool.InputSchema = schema
		}
	}
	if tool.InputSchema == nil {
		tool.InputSchema = &jsonschema.Schema{Type: "object"}
	}
	return tool
}

func muxPrompt(f domain.Feature) *mcp.Prompt {
	prompt := &mcp.Prompt{
		Name:        string(f.QualifiedName()),
		Description: f.Description,
	}
	if len(f.Schema) > 0 {
		var args []*mcp.PromptArgument
		if err := json.Unmarshal(f.Schema, &args); err == nil {
			prompt.Arguments = args
		}
	}
	return prompt
}

func muxResource(f domain.Feature) *mcp.Resource {
	resource := &mcp.Resource{
		URI:         string(f.QualifiedName()),
		Name:        string(f.QualifiedName()),
		Description: f.Description,
	}
	if len(f.Schema) > 0 {
		var descriptor struct {
			Name     string `json:"name"`
			MIMEType string `json:"mimeType"`
		}
		if err := json.Unmarshal(f.Schema, &descriptor); err == nil {
			if descriptor.Name != "" {
				resource.Title = descriptor.Name
			}
			resource.MIMEType = descriptor.MIMEType
		}
	}
	return resource
}
