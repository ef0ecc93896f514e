package resolver

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	resolver *Resolver
	space    uuid.UUID
	other    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	return &fixture{
		store:    store,
		resolver: New(store.Features(), store.FeatureSets(), store.Grants()),
		space:    uuid.Must(uuid.NewV4()),
		other:    uuid.Must(uuid.NewV4()),
	}
}

func (f *fixture) addFeature(t *testing.T, spaceID uuid.UUID, serverID string, kind domain.FeatureKind, name string) domain.Feature {
	t.Helper()
	feat := domain.Feature{SpaceID: spaceID, ServerID: serverID, Kind: kind, Name: name}
	require.NoError(t, f.store.Features().Upsert(context.Background(), feat))
	return feat
}

func (f *fixture) grantBuiltin(t *testing.T, clientID string, spaceID uuid.UUID, serverID string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	setID := uuid.Must(uuid.NewV4())
	require.NoError(t, f.store.FeatureSets().Create(ctx, domain.FeatureSet{
		ID:              setID,
		SpaceID:         spaceID,
		Name:            "builtin-" + serverID,
		Type:            domain.FeatureSetBuiltin,
		BuiltinServerID: serverID,
	}))
	require.NoError(t, f.store.Grants().Issue(ctx, domain.Grant{
		ID:           uuid.Must(uuid.NewV4()),
		ClientID:     clientID,
		SpaceID:      spaceID,
		FeatureSetID: setID,
	}))
	return setID
}

func (f *fixture) grantCustom(t *testing.T, clientID string, spaceID uuid.UUID, members ...domain.QualifiedName) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	setID := uuid.Must(uuid.NewV4())
	require.NoError(t, f.store.FeatureSets().Create(ctx, domain.FeatureSet{
		ID:      setID,
		SpaceID: spaceID,
		Name:    "custom",
		Type:    domain.FeatureSetCustom,
	}))
	for _, m := range members {
		require.NoError(t, f.store.FeatureSets().AddMember(ctx, setID, m))
	}
	require.NoError(t, f.store.Grants().Issue(ctx, domain.Grant{
		ID:           uuid.Must(uuid.NewV4()),
		ClientID:     clientID,
		SpaceID:      spaceID,
		FeatureSetID: setID,
	}))
	return setID
}

func TestVisibleSetEmptyWithoutGrants(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addFeature(t, f.space, "github", domain.KindTool, "create_issue")

	visible, err := f.resolver.VisibleSet(context.Background(), "client-a", f.space)
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestVisibleSetBuiltinServerScope(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	granted := f.addFeature(t, f.space, "github", domain.KindTool, "create_issue")
	f.addFeature(t, f.space, "github", domain.KindPrompt, "review_pr")
	f.addFeature(t, f.space, "weather", domain.KindTool, "forecast")

	f.grantBuiltin(t, "client-a", f.space, "github")

	visible, err := f.resolver.VisibleSet(context.Background(), "client-a", f.space)
	require.NoError(t, err)
	assert.Len(t, visible, 2)
	assert.True(t, visible.Contains(granted.QualifiedName()))

	// The ungranted server's feature must be absent.
	other := domain.Feature{SpaceID: f.space, ServerID: "weather", Kind: domain.KindTool, Name: "forecast"}
	assert.False(t, visible.Contains(other.QualifiedName()))
}

func TestVisibleSetBuiltinWholeSpace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addFeature(t, f.space, "github", domain.KindTool, "create_issue")
	f.addFeature(t, f.space, "weather", domain.KindTool, "forecast")
	f.addFeature(t, f.other, "github", domain.KindTool, "create_issue")

	// Empty server id means the whole space.
	f.grantBuiltin(t, "client-a", f.space, "")

	visible, err := f.resolver.VisibleSet(context.Background(), "client-a", f.space)
	require.NoError(t, err)
	assert.Len(t, visible, 2)
	for qn := range visible {
		spaceID, _, _, _, err := qn.Decode()
		require.NoError(t, err)
		assert.Equal(t, f.space, spaceID)
	}
}

func TestVisibleSetUnionAcrossGrants(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	gh := f.addFeature(t, f.space, "github", domain.KindTool, "create_issue")
	wx := f.addFeature(t, f.space, "weather", domain.KindTool, "forecast")

	f.grantBuiltin(t, "client-a", f.space, "github")
	f.grantCustom(t, "client-a", f.space, wx.QualifiedName())

	visible, err := f.resolver.VisibleSet(context.Background(), "client-a", f.space)
	require.NoError(t, err)
	assert.Len(t, visible, 2)
	assert.True(t, visible.Contains(gh.QualifiedName()))
	assert.True(t, visible.Contains(wx.QualifiedName()))
}

func TestVisibleSetOverlappingGrantsDeduplicate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	gh := f.addFeature(t, f.space, "github", domain.KindTool, "create_issue")

	f.grantBuiltin(t, "client-a", f.space, "github")
	f.grantCustom(t, "client-a", f.space, gh.QualifiedName())

	visible, err := f.resolver.VisibleSet(context.Background(), "client-a", f.space)
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestVisibleSetCustomDropsStaleMembers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	live := f.addFeature(t, f.space, "github", domain.KindTool, "create_issue")

	// A member whose feature no longer exists in the inventory.
	gone, err := domain.EncodeQualifiedName(f.space, "github", domain.KindTool, "deleted_tool")
	require.NoError(t, err)
	// A member from another space must never leak in.
	foreign, err := domain.EncodeQualifiedName(f.other, "github", domain.KindTool, "create_issue")
	require.NoError(t, err)

	f.grantCustom(t, "client-a", f.space, live.QualifiedName(), gone, foreign, "not:a:valid\\name")

	visible, err := f.resolver.VisibleSet(context.Background(), "client-a", f.space)
	require.NoError(t, err)
	assert.Len(t, visible, 1)
	assert.True(t, visible.Contains(live.QualifiedName()))
}

func TestVisibleSetBuiltinForeignSpaceSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addFeature(t, f.other, "github", domain.KindTool, "create_issue")

	ctx := context.Background()
	setID := uuid.Must(uuid.NewV4())
	require.NoError(t, f.store.FeatureSets().Create(ctx, domain.FeatureSet{
		ID:              setID,
		SpaceID:         f.other,
		Name:            "foreign",
		Type:            domain.FeatureSetBuiltin,
		BuiltinServerID: "github",
	}))
	// A grant pointing at a set scoped to another space yields nothing.
	require.NoError(t, f.store.Grants().Issue(ctx, domain.Grant{
		ID:           uuid.Must(uuid.NewV4()),
		ClientID:     "client-a",
		SpaceID:      f.space,
		FeatureSetID: setID,
	}))

	visible, err := f.resolver.VisibleSet(ctx, "client-a", f.space)
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestVisibleSetToleratesDeletedFeatureSet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	gh := f.addFeature(t, f.space, "github", domain.KindTool, "create_issue")
	f.grantBuiltin(t, "client-a", f.space, "github")

	// Grant whose set never existed. It must be skipped, not fail the call.
	require.NoError(t, f.store.Grants().Issue(context.Background(), domain.Grant{
		ID:           uuid.Must(uuid.NewV4()),
		ClientID:     "client-a",
		SpaceID:      f.space,
		FeatureSetID: uuid.Must(uuid.NewV4()),
	}))

	visible, err := f.resolver.VisibleSet(context.Background(), "client-a", f.space)
	require.NoError(t, err)
	assert.Len(t, visible, 1)
	assert.True(t, visible.Contains(gh.QualifiedName()))
}

func TestVisibleSetIsolatedPerClient(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addFeature(t, f.space, "github", domain.KindTool, "create_issue")
	f.grantBuiltin(t, "client-a", f.space, "github")

	visible, err := f.resolver.VisibleSet(context.Background(), "client-b", f.space)
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestVisibleKindFiltersAndSorts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addFeature(t, f.space, "github", domain.KindTool, "zz_last")
	f.addFeature(t, f.space, "github", domain.KindTool, "aa_first")
	f.addFeature(t, f.space, "github", domain.KindPrompt, "review_pr")

	f.grantBuiltin(t, "client-a", f.space, "github")

	tools, err := f.resolver.VisibleKind(context.Background(), "client-a", f.space, domain.KindTool)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "aa_first", tools[0].Name)
	assert.Equal(t, "zz_last", tools[1].Name)

	prompts, err := f.resolver.VisibleKind(context.Background(), "client-a", f.space, domain.KindPrompt)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "review_pr", prompts[0].Name)
}
