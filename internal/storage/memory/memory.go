// Package memory provides in-memory implementations of the domain
// repositories. The gateway uses them when no database path is configured
// (ephemeral mode) and the test suites use them as repository doubles.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
)

// Store holds the shared state behind the repository facets. All facets
// share one mutex so multi-entity reads observe a consistent snapshot.
type Store struct {
	mu sync.RWMutex

	spaces   map[uuid.UUID]domain.Space
	servers  map[string]domain.Server
	features map[string]domain.Feature
	sets     map[uuid.UUID]domain.FeatureSet
	members  map[uuid.UUID][]domain.QualifiedName
	grants   map[uuid.UUID]domain.Grant
	clients  map[string]domain.Client
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		spaces:   make(map[uuid.UUID]domain.Space),
		servers:  make(map[string]domain.Server),
		features: make(map[string]domain.Feature),
		sets:     make(map[uuid.UUID]domain.FeatureSet),
		members:  make(map[uuid.UUID][]domain.QualifiedName),
		grants:   make(map[uuid.UUID]domain.Grant),
		clients:  make(map[string]domain.Client),
	}
}

// Spaces returns the space repository facet.
func (s *Store) Spaces() domain.SpaceRepository { return &spaceRepo{s} }

// Servers returns the backend server repository facet.
func (s *Store) Servers() domain.ServerRepository { return &serverRepo{s} }

// Features returns the feature repository facet.
func (s *Store) Features() domain.FeatureRepository { return &featureRepo{s} }

// FeatureSets returns the feature set repository facet.
func (s *Store) FeatureSets() domain.FeatureSetRepository { return &featureSetRepo{s} }

// Grants returns the grant repository facet.
func (s *Store) Grants() domain.GrantRepository { return &grantRepo{s} }

// Clients returns the inbound client repository facet.
func (s *Store) Clients() domain.ClientRepository { return &clientRepo{s} }

func featureKey(spaceID uuid.UUID, serverID string, kind domain.FeatureKind, name string) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s", spaceID, serverID, kind, name)
}

func serverKey(spaceID uuid.UUID, serverID string) string {
	return fmt.Sprintf("%s\x00%s", spaceID, serverID)
}

type spaceRepo struct{ store *Store }

var _ domain.SpaceRepository = (*spaceRepo)(nil)

// Create adds a space. The first space created becomes the default.
func (r *spaceRepo) Create(_ context.Context, space domain.Space) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.spaces[space.ID]; ok {
		return fmt.Errorf("space %s already exists", space.ID)
	}
	if len(r.store.spaces) == 0 {
		space.IsDefault = true
	}
	r.store.spaces[space.ID] = space
	return nil
}

func (r *spaceRepo) Get(_ context.Context, id uuid.UUID) (domain.Space, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	space, ok := r.store.spaces[id]
	if !ok {
		return domain.Space{}, fmt.Errorf("space %s: %w", id, domain.ErrNotFound)
	}
	return space, nil
}

func (r *spaceRepo) List(_ context.Context) ([]domain.Space, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Space, 0, len(r.store.spaces))
	for _, space := range r.store.spaces {
		out = append(out, space)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *spaceRepo) SetDefault(_ context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	next, ok := r.store.spaces[id]
	if !ok {
		return fmt.Errorf("space %s: %w", id, domain.ErrNotFound)
	}
	for sid, space := range r.store.spaces {
		if space.IsDefault {
			space.IsDefault = false
			r.store.spaces[sid] = space
		}
	}
	next.IsDefault = true
	r.store.spaces[id] = next
	return nil
}

func (r *spaceRepo) Default(_ context.Context) (domain.Space, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, space := range r.store.spaces {
		if space.IsDefault {
			return space, nil
		}
	}
	return domain.Space{}, fmt.Errorf("default space: %w", domain.ErrNotFound)
}

type serverRepo struct{ store *Store }

var _ domain.ServerRepository = (*serverRepo)(nil)

func (r *serverRepo) Upsert(_ context.Context, server domain.Server) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.servers[serverKey(server.SpaceID, server.ID)] = server
	return nil
}

func (r *serverRepo) List(_ context.Context, spaceID uuid.UUID) ([]domain.Server, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Server
	for _, server := range r.store.servers {
		if server.SpaceID == spaceID {
			out = append(out, server)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *serverRepo) SetStatus(_ context.Context, spaceID uuid.UUID, serverID string, status domain.ConnectionStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := serverKey(spaceID, serverID)
	server, ok := r.store.servers[key]
	if !ok {
		return fmt.Errorf("server %s in space %s: %w", serverID, spaceID, domain.ErrNotFound)
	}
	server.Status = status
	r.store.servers[key] = server
	return nil
}

type featureRepo struct{ store *Store }

var _ domain.FeatureRepository = (*featureRepo)(nil)

func (r *featureRepo) ListFeatures(_ context.Context, spaceID uuid.UUID, serverID string) ([]domain.Feature, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Feature
	for _, f := range r.store.features {
		if f.SpaceID != spaceID {
			continue
		}
		if serverID != "" && f.ServerID != serverID {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out, nil
}

func (r *featureRepo) Upsert(_ context.Context, f domain.Feature) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.features[featureKey(f.SpaceID, f.ServerID, f.Kind, f.Name)] = f
	return nil
}

func (r *featureRepo) Delete(_ context.Context, spaceID uuid.UUID, serverID string, kind domain.FeatureKind, name string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.features, featureKey(spaceID, serverID, kind, name))
	return nil
}

func (r *featureRepo) DeleteForServer(_ context.Context, spaceID uuid.UUID, serverID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for key, f := range r.store.features {
		if f.SpaceID == spaceID && f.ServerID == serverID {
			delete(r.store.features, key)
		}
	}
	return nil
}

type featureSetRepo struct{ store *Store }

var _ domain.FeatureSetRepository = (*featureSetRepo)(nil)

func (r *featureSetRepo) Create(_ context.Context, set domain.FeatureSet) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sets[set.ID]; ok {
		return fmt.Errorf("feature set %s already exists", set.ID)
	}
	r.store.sets[set.ID] = set
	return nil
}

func (r *featureSetRepo) Get(_ context.Context, id uuid.UUID) (domain.FeatureSet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	set, ok := r.store.sets[id]
	if !ok {
		return domain.FeatureSet{}, fmt.Errorf("feature set %s: %w", id, domain.ErrNotFound)
	}
	return set, nil
}

func (r *featureSetRepo) ResolveMembership(_ context.Context, id uuid.UUID) (domain.Membership, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	set, ok := r.store.sets[id]
	if !ok {
		return nil, fmt.Errorf("feature set %s: %w", id, domain.ErrNotFound)
	}
	switch set.Type {
	case domain.FeatureSetBuiltin:
		return domain.BuiltinMembership{SpaceID: set.SpaceID, ServerID: set.BuiltinServerID}, nil
	case domain.FeatureSetCustom:
		members := make([]domain.QualifiedName, len(r.store.members[id]))
		copy(members, r.store.members[id])
		return domain.CustomMembership{Members: members}, nil
	default:
		return nil, fmt.Errorf("feature set %s has unknown type %q", id, set.Type)
	}
}

func (r *featureSetRepo) AddMember(_ context.Context, setID uuid.UUID, member domain.QualifiedName) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sets[setID]; !ok {
		return fmt.Errorf("feature set %s: %w", setID, domain.ErrNotFound)
	}
	for _, existing := range r.store.members[setID] {
		if existing == member {
			return nil
		}
	}
	r.store.members[setID] = append(r.store.members[setID], member)
	return nil
}

func (r *featureSetRepo) RemoveMember(_ context.Context, setID uuid.UUID, member domain.QualifiedName) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	members := r.store.members[setID]
	for i, existing := range members {
		if existing == member {
			r.store.members[setID] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return nil
}

type grantRepo struct{ store *Store }

var _ domain.GrantRepository = (*grantRepo)(nil)

func (r *grantRepo) Issue(_ context.Context, grant domain.Grant) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if grant.IssuedAt.IsZero() {
		grant.IssuedAt = time.Now().UTC()
	}
	r.store.grants[grant.ID] = grant
	return nil
}

func (r *grantRepo) Get(_ context.Context, grantID uuid.UUID) (domain.Grant, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	grant, ok := r.store.grants[grantID]
	if !ok {
		return domain.Grant{}, fmt.Errorf("grant %s: %w", grantID, domain.ErrNotFound)
	}
	return grant, nil
}

func (r *grantRepo) Revoke(_ context.Context, grantID uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.grants[grantID]; !ok {
		return fmt.Errorf("grant %s: %w", grantID, domain.ErrNotFound)
	}
	delete(r.store.grants, grantID)
	return nil
}

func (r *grantRepo) ActiveGrants(_ context.Context, clientID string, spaceID uuid.UUID) ([]domain.Grant, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Grant
	for _, g := range r.store.grants {
		if g.ClientID == clientID && g.SpaceID == spaceID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

type clientRepo struct{ store *Store }

var _ domain.ClientRepository = (*clientRepo)(nil)

func (r *clientRepo) Save(_ context.Context, client domain.Client) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.store.clients[client.ID]; ok {
		client.CreatedAt = existing.CreatedAt
	} else if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now
	r.store.clients[client.ID] = client
	return nil
}

func (r *clientRepo) Get(_ context.Context, clientID string) (domain.Client, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	client, ok := r.store.clients[clientID]
	if !ok {
		return domain.Client{}, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	return client, nil
}

func (r *clientRepo) List(_ context.Context) ([]domain.Client, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Client, 0, len(r.store.clients))
	for _, c := range r.store.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
