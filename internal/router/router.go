// Package router maps inbound qualified-name requests onto backend
// targets. It is the single authorization choke point: a feature a client
// was not granted is reported exactly like one that does not exist, so
// probing the gateway reveals nothing about other tenants.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/resolver"
)

// Target is a routed request destination: the backend server and the
// feature's local name within it.
type Target struct {
	SpaceID  uuid.UUID
	ServerID string
	Kind     domain.FeatureKind
	Name     string
	Feature  domain.Feature
}

// Router resolves qualified names against a client's visible set.
type Router struct {
	resolver *resolver.Resolver
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogHandler sets a custom log handler for the Router.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Router) {
		r.logger = slog.New(handler)
	}
}

// New creates a Router over the given resolver.
func New(res *resolver.Resolver, opts ...Option) *Router {
	r := &Router{
		resolver: res,
		logger:   slog.Default().WithGroup("router.Router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route resolves a qualified name for the client. It returns
// domain.ErrNotFound when the name is malformed, names a feature outside
// the session's space, names a feature that does not exist, or names one
// the client holds no grant for. Those four cases are indistinguishable
// to the caller on purpose.
func (r *Router) Route(ctx context.Context, clientID string, spaceID uuid.UUID, qn domain.QualifiedName, wantKind domain.FeatureKind) (Target, error) {
	notFound := fmt.Errorf("feature %q: %w", qn, domain.ErrNotFound)

	nameSpace, serverID, kind, name, err := qn.Decode()
	if err != nil {
		r.logger.Debug("rejecting malformed qualified name",
			"client_id", clientID,
			"error", err,
		)
		return Target{}, notFound
	}
	if nameSpace != spaceID || kind != wantKind {
		return Target{}, notFound
	}

	visible, err := r.resolver.VisibleSet(ctx, clientID, spaceID)
	if err != nil {
		return Target{}, fmt.Errorf("resolving visible set: %w", err)
	}
	feature, ok := visible[qn]
	if !ok {
		// The caller gets the uniform not-found either way; operators
		// get to see which misses were authorization denials.
		if exists, lookupErr := r.resolver.FeatureExists(ctx, spaceID, serverID, kind, name); lookupErr == nil && exists {
			r.logger.Warn("denied access to ungranted feature",
				"client_id", clientID,
				"space_id", spaceID,
				"qualified_name", string(qn),
				"error", domain.ErrUnauthorized,
			)
		}
		return Target{}, notFound
	}

	return Target{
		SpaceID:  spaceID,
		ServerID: serverID,
		Kind:     kind,
		Name:     name,
		Feature:  feature,
	}, nil
}

// List returns the client's visible features of one kind, sorted by
// qualified name.
func (r *Router) List(ctx context.Context, clientID string, spaceID uuid.UUID, kind domain.FeatureKind) ([]domain.Feature, error) {
	return r.resolver.VisibleKind(ctx, clientID, spaceID, kind)
}
