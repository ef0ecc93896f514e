// Package grants is the write side of authorization: issuing and revoking
// grants and managing feature sets. Every successful mutation publishes
// the matching domain event, which is what drives visible-set
// recomputation for affected sessions.
package grants

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/events"
)

// Service mutates grants and feature sets and announces the changes.
type Service struct {
	grants      domain.GrantRepository
	sets        domain.FeatureSetRepository
	spaces      domain.SpaceRepository
	broadcaster *events.Broadcaster
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogHandler sets a custom log handler for the Service.
func WithLogHandler(handler slog.Handler) Option {
	return func(s *Service) {
		s.logger = slog.New(handler)
	}
}

// NewService creates a grant service.
func NewService(
	grants domain.GrantRepository,
	sets domain.FeatureSetRepository,
	spaces domain.SpaceRepository,
	broadcaster *events.Broadcaster,
	opts ...Option,
) *Service {
	s := &Service{
		grants:      grants,
		sets:        sets,
		spaces:      spaces,
		broadcaster: broadcaster,
		logger:      slog.Default().WithGroup("grants.Service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue grants a feature set to a client within a space. The set must
// exist and belong to that space.
func (s *Service) Issue(ctx context.Context, clientID string, spaceID, setID uuid.UUID) (domain.Grant, error) {
	set, err := s.sets.Get(ctx, setID)
	if err != nil {
		return domain.Grant{}, fmt.Errorf("loading feature set %s: %w", setID, err)
	}
	if set.SpaceID != spaceID {
		return domain.Grant{}, fmt.Errorf(
			"feature set %s belongs to space %s, not %s: %w",
			setID, set.SpaceID, spaceID, domain.ErrNotFound,
		)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return domain.Grant{}, fmt.Errorf("generating grant id: %w", err)
	}
	grant := domain.Grant{
		ID:           id,
		ClientID:     clientID,
		SpaceID:      spaceID,
		FeatureSetID: setID,
	}
	if err := s.grants.Issue(ctx, grant); err != nil {
		return domain.Grant{}, fmt.Errorf("issuing grant: %w", err)
	}

	s.logger.Info("grant issued",
		"grant_id", grant.ID,
		"client_id", clientID,
		"space_id", spaceID,
		"feature_set_id", setID,
	)
	s.broadcaster.Publish(domain.GrantIssued{
		SpaceID:      spaceID,
		ClientID:     clientID,
		FeatureSetID: setID,
	})
	return grant, nil
}

// Revoke removes a grant by id.
func (s *Service) Revoke(ctx context.Context, grantID uuid.UUID) error {
	grant, err := s.grants.Get(ctx, grantID)
	if err != nil {
		return fmt.Errorf("loading grant %s: %w", grantID, err)
	}
	if err := s.grants.Revoke(ctx, grantID); err != nil {
		return fmt.Errorf("revoking grant %s: %w", grantID, err)
	}

	s.logger.Info("grant revoked",
		"grant_id", grantID,
		"client_id", grant.ClientID,
		"space_id", grant.SpaceID,
	)
	s.broadcaster.Publish(domain.GrantRevoked{
		SpaceID:      grant.SpaceID,
		ClientID:     grant.ClientID,
		FeatureSetID: grant.FeatureSetID,
	})
	return nil
}

// CreateBuiltinSet creates the "everything this server exposes" set.
func (s *Service) CreateBuiltinSet(ctx context.Context, spaceID uuid.UUID, name, serverID string) (domain.FeatureSet, error) {
	return s.createSet(ctx, domain.FeatureSet{
		SpaceID:         spaceID,
		Name:            name,
		Type:            domain.FeatureSetBuiltin,
		BuiltinServerID: serverID,
	})
}

// CreateCustomSet creates an explicitly curated set. Members referencing
// features outside the set's space are rejected.
func (s *Service) CreateCustomSet(ctx context.Context, spaceID uuid.UUID, name string, members []domain.QualifiedName) (domain.FeatureSet, error) {
	for _, member := range members {
		memberSpace, _, _, _, err := member.Decode()
		if err != nil {
			return domain.FeatureSet{}, fmt.Errorf("member %q: %w", member, err)
		}
		if memberSpace != spaceID {
			return domain.FeatureSet{}, fmt.Errorf(
				"member %q belongs to space %s, not %s", member, memberSpace, spaceID)
		}
	}

	set, err := s.createSet(ctx, domain.FeatureSet{
		SpaceID: spaceID,
		Name:    name,
		Type:    domain.FeatureSetCustom,
	})
	if err != nil {
		return domain.FeatureSet{}, err
	}
	for _, member := range members {
		if err := s.sets.AddMember(ctx, set.ID, member); err != nil {
			return domain.FeatureSet{}, fmt.Errorf("adding member %q: %w", member, err)
		}
	}
	return set, nil
}

func (s *Service) createSet(ctx context.Context, set domain.FeatureSet) (domain.FeatureSet, error) {
	if _, err := s.spaces.Get(ctx, set.SpaceID); err != nil {
		return domain.FeatureSet{}, fmt.Errorf("space %s: %w", set.SpaceID, err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return domain.FeatureSet{}, fmt.Errorf("generating feature set id: %w", err)
	}
	set.ID = id
	if err := s.sets.Create(ctx, set); err != nil {
		return domain.FeatureSet{}, fmt.Errorf("creating feature set %q: %w", set.Name, err)
	}
	s.logger.Info("feature set created",
		"feature_set_id", set.ID,
		"space_id", set.SpaceID,
		"type", set.Type,
	)
	return set, nil
}
