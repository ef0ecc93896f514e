package domain

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

// SpaceRepository stores tenant spaces.
type SpaceRepository interface {
	Create(ctx context.Context, space Space) error
	Get(ctx context.Context, id uuid.UUID) (Space, error)
	List(ctx context.Context) ([]Space, error)
	// SetDefault marks one space as default and clears the flag from the
	// previous holder in the same transaction.
	SetDefault(ctx context.Context, id uuid.UUID) error
	Default(ctx context.Context) (Space, error)
}

// ServerRepository stores registered backend servers per space.
type ServerRepository interface {
	Upsert(ctx context.Context, server Server) error
	List(ctx context.Context, spaceID uuid.UUID) ([]Server, error)
	SetStatus(ctx context.Context, spaceID uuid.UUID, serverID string, status ConnectionStatus) error
}

// FeatureRepository is the feature inventory. The core only reads it;
// writes originate from backend discovery and are what produce domain
// events.
type FeatureRepository interface {
	// ListFeatures returns the features of one server, or of the whole
	// space when serverID is empty.
	ListFeatures(ctx context.Context, spaceID uuid.UUID, serverID string) ([]Feature, error)
	Upsert(ctx context.Context, feature Feature) error
	// Delete removes one feature. Deleting an absent feature is a no-op.
	Delete(ctx context.Context, spaceID uuid.UUID, serverID string, kind FeatureKind, name string) error
	DeleteForServer(ctx context.Context, spaceID uuid.UUID, serverID string) error
}

// FeatureSetRepository stores named feature groupings.
type FeatureSetRepository interface {
	Create(ctx context.Context, set FeatureSet) error
	Get(ctx context.Context, id uuid.UUID) (FeatureSet, error)
	// ResolveMembership returns the set's membership rule: builtin scope
	// or stored custom references.
	ResolveMembership(ctx context.Context, id uuid.UUID) (Membership, error)
	AddMember(ctx context.Context, setID uuid.UUID, member QualifiedName) error
	RemoveMember(ctx context.Context, setID uuid.UUID, member QualifiedName) error
}

// GrantRepository stores client/feature-set associations.
type GrantRepository interface {
	Issue(ctx context.Context, grant Grant) error
	Get(ctx context.Context, grantID uuid.UUID) (Grant, error)
	Revoke(ctx context.Context, grantID uuid.UUID) error
	ActiveGrants(ctx context.Context, clientID string, spaceID uuid.UUID) ([]Grant, error)
}

// ClientRepository stores inbound clients registered through DCR.
type ClientRepository interface {
	Save(ctx context.Context, client Client) error
	Get(ctx context.Context, clientID string) (Client, error)
	List(ctx context.Context) ([]Client, error)
}
