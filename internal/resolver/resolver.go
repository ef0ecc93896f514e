// Package resolver computes a client's effective visible capability set by
// composing its active grants with the live feature inventory.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
)

// VisibleSet is the resolved union of features a client may see in one
// space, keyed by qualified name.
type VisibleSet map[domain.QualifiedName]domain.Feature

// Contains reports whether the qualified name is part of the visible set.
func (s VisibleSet) Contains(qn domain.QualifiedName) bool {
	_, ok := s[qn]
	return ok
}

// Kind returns the features of one kind, sorted by qualified name so the
// result is stable across calls.
func (s VisibleSet) Kind(kind domain.FeatureKind) []domain.Feature {
	out := make([]domain.Feature, 0, len(s))
	for _, f := range s {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out
}

// Resolver resolves visible sets. It holds no mutable state and never
// caches results: every call reflects the repositories at call time.
// Hashing and change caching belong to the notifier, not here.
type Resolver struct {
	features domain.FeatureRepository
	sets     domain.FeatureSetRepository
	grants   domain.GrantRepository
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogHandler sets a custom log handler for the Resolver.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Resolver) {
		r.logger = slog.New(handler)
	}
}

// New creates a Resolver over the given repositories.
func New(
	features domain.FeatureRepository,
	sets domain.FeatureSetRepository,
	grants domain.GrantRepository,
	opts ...Option,
) *Resolver {
	r := &Resolver{
		features: features,
		sets:     sets,
		grants:   grants,
		logger:   slog.Default().WithGroup("resolver.Resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VisibleSet resolves the union of every feature set granted to the client
// in the space. A client with no grants, or a space with no features, gets
// an empty set, not an error.
func (r *Resolver) VisibleSet(ctx context.Context, clientID string, spaceID uuid.UUID) (VisibleSet, error) {
	grants, err := r.grants.ActiveGrants(ctx, clientID, spaceID)
	if err != nil {
		return nil, fmt.Errorf("listing grants for client %q: %w", clientID, err)
	}

	visible := make(VisibleSet)
	if len(grants) == 0 {
		return visible, nil
	}

	// Index of every feature in the space, loaded lazily: only custom
	// memberships need it, builtin server-scoped ones query narrower.
	var spaceIndex VisibleSet
	loadSpaceIndex := func() (VisibleSet, error) {
		if spaceIndex != nil {
			return spaceIndex, nil
		}
		all, err := r.features.ListFeatures(ctx, spaceID, "")
		if err != nil {
			return nil, fmt.Errorf("listing features in space %s: %w", spaceID, err)
		}
		spaceIndex = make(VisibleSet, len(all))
		for _, f := range all {
			spaceIndex[f.QualifiedName()] = f
		}
		return spaceIndex, nil
	}

	for _, grant := range grants {
		membership, err := r.sets.ResolveMembership(ctx, grant.FeatureSetID)
		if errors.Is(err, domain.ErrNotFound) {
			// The feature set was deleted after the grant was issued.
			r.logger.Debug("grant references missing feature set",
				"client_id", clientID,
				"feature_set_id", grant.FeatureSetID,
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving feature set %s: %w", grant.FeatureSetID, err)
		}

		switch m := membership.(type) {
		case domain.BuiltinMembership:
			if m.SpaceID != spaceID {
				// A grant must never expand outside its own space.
				r.logger.Warn("builtin feature set scoped to foreign space, skipping",
					"feature_set_id", grant.FeatureSetID,
					"set_space_id", m.SpaceID,
					"grant_space_id", spaceID,
				)
				continue
			}
			feats, err := r.features.ListFeatures(ctx, spaceID, m.ServerID)
			if err != nil {
				return nil, fmt.Errorf("expanding builtin set %s: %w", grant.FeatureSetID, err)
			}
			for _, f := range feats {
				visible[f.QualifiedName()] = f
			}
		case domain.CustomMembership:
			index, err := loadSpaceIndex()
			if err != nil {
				return nil, err
			}
			for _, member := range m.Members {
				memberSpace, _, _, _, err := member.Decode()
				if err != nil || memberSpace != spaceID {
					// Malformed or cross-space references are stale,
					// not errors.
					continue
				}
				if f, ok := index[member]; ok {
					visible[member] = f
				}
			}
		default:
			return nil, fmt.Errorf("unhandled membership variant %T for feature set %s", membership, grant.FeatureSetID)
		}
	}

	return visible, nil
}

// VisibleKind resolves the visible set and narrows it to one kind.
func (r *Resolver) VisibleKind(ctx context.Context, clientID string, spaceID uuid.UUID, kind domain.FeatureKind) ([]domain.Feature, error) {
	visible, err := r.VisibleSet(ctx, clientID, spaceID)
	if err != nil {
		return nil, err
	}
	return visible.Kind(kind), nil
}

// FeatureExists reports whether the feature is in the space's inventory
// at all, ignoring grants. The router uses it to tell an authorization
// miss from a genuinely absent feature when logging; the answer never
// reaches a client.
func (r *Resolver) FeatureExists(ctx context.Context, spaceID uuid.UUID, serverID string, kind domain.FeatureKind, name string) (bool, error) {
	features, err := r.features.ListFeatures(ctx, spaceID, serverID)
	if err != nil {
		return false, fmt.Errorf("listing features of server %q: %w", serverID, err)
	}
	for _, f := range features {
		if f.Kind == kind && f.Name == name {
			return true, nil
		}
	}
	return false, nil
}
