package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/events"
	"github.com/ion-ash/mcp-mux/internal/grants"
	"github.com/ion-ash/mcp-mux/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "topsecret"

type adminFixture struct {
	store *memory.Store
	ts    *httptest.Server
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	store := memory.NewStore()
	broadcaster := events.NewBroadcaster()
	t.Cleanup(broadcaster.Close)

	grantSvc := grants.NewService(
		store.Grants(), store.FeatureSets(), store.Spaces(), broadcaster,
		grants.WithLogHandler(discard()),
	)
	api, err := NewAdminAPI(
		store.Spaces(), store.Servers(), store.Clients(), grantSvc,
		adminToken, WithAdminLogHandler(discard()),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return &adminFixture{store: store, ts: ts}
}

func (f *adminFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAdminRejectsBadToken(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/admin/spaces", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminSpaceLifecycle(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)

	resp := f.do(t, http.MethodPost, "/admin/spaces", map[string]string{"name": "work"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	work := decode[spacePayload](t, resp)
	assert.Equal(t, "work", work.Name)
	// The first space becomes the default.
	assert.True(t, work.IsDefault)

	resp = f.do(t, http.MethodPost, "/admin/spaces", map[string]string{"name": "personal"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	personal := decode[spacePayload](t, resp)
	assert.False(t, personal.IsDefault)

	resp = f.do(t, http.MethodPut, "/admin/spaces/default", map[string]string{"space_id": personal.ID})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/admin/spaces", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	spaces := decode[[]spacePayload](t, resp)
	require.Len(t, spaces, 2)
	for _, space := range spaces {
		assert.Equal(t, space.ID == personal.ID, space.IsDefault)
	}
}

func TestAdminGrantLifecycle(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)
	ctx := context.Background()

	space := domain.Space{ID: uuid.Must(uuid.NewV4()), Name: "work"}
	require.NoError(t, f.store.Spaces().Create(ctx, space))
	require.NoError(t, f.store.Clients().Save(ctx, domain.Client{
		ID: "client-a", Name: "editor", Mode: domain.ModeFollowActive,
	}))

	resp := f.do(t, http.MethodPost, "/admin/feature-sets", map[string]any{
		"space_id":          space.ID.String(),
		"name":              "all of github",
		"builtin_server_id": "github",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	set := decode[map[string]string](t, resp)
	assert.Equal(t, string(domain.FeatureSetBuiltin), set["type"])

	resp = f.do(t, http.MethodPost, "/admin/grants", map[string]string{
		"client_id":      "client-a",
		"space_id":       space.ID.String(),
		"feature_set_id": set["id"],
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	grant := decode[map[string]string](t, resp)

	active, err := f.store.Grants().ActiveGrants(ctx, "client-a", space.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/admin/grants/%s", grant["id"]), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	active, err = f.store.Grants().ActiveGrants(ctx, "client-a", space.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestAdminGrantValidation(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)

	resp := f.do(t, http.MethodPost, "/admin/grants", map[string]string{
		"client_id":      "client-a",
		"space_id":       uuid.Must(uuid.NewV4()).String(),
		"feature_set_id": uuid.Must(uuid.NewV4()).String(),
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/admin/grants/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/feature-sets", map[string]any{
		"space_id": uuid.Must(uuid.NewV4()).String(),
		"name":     "orphan",
		"members":  []string{"garbage"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminListClients(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)
	ctx := context.Background()

	space := domain.Space{ID: uuid.Must(uuid.NewV4()), Name: "work"}
	require.NoError(t, f.store.Spaces().Create(ctx, space))
	require.NoError(t, f.store.Clients().Save(ctx, domain.Client{
		ID: "client-a", Name: "editor",
		Mode: domain.ModeLockedSpace, LockedSpaceID: space.ID,
	}))

	resp := f.do(t, http.MethodGet, "/admin/clients", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	clients := decode[[]map[string]string](t, resp)
	require.Len(t, clients, 1)
	assert.Equal(t, "editor", clients[0]["name"])
	assert.Equal(t, "locked_space", clients[0]["connection_mode"])
	assert.Equal(t, space.ID.String(), clients[0]["locked_space_id"])
}
