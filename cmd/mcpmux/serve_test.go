package main

import (
	"context"
	"testing"

	"github.com/ion-ash/mcp-mux/internal/config"
	"github.com/ion-ash/mcp-mux/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedConfig = `
version = "v1"

[oauth]
issuer = "https://mux.example.com"
signing_secret = "not-a-real-secret"

[[spaces]]
name = "work"

[[spaces]]
name = "personal"
default = true

[[servers]]
id = "github"
space = "work"
transport = "stdio"
command = "github-mcp-server"
args = ["stdio"]
enabled = true

[[servers]]
id = "docs"
transport = "http"
endpoint = "https://docs.example.com/mcp"
enabled = false
`

func TestSeedCreatesSpacesAndServers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg, err := config.NewConfigFromBytes([]byte(seedConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	store := memory.NewStore()
	require.NoError(t, seed(ctx, cfg, store))

	spaces, err := store.Spaces().List(ctx)
	require.NoError(t, err)
	require.Len(t, spaces, 2)

	def, err := store.Spaces().Default(ctx)
	require.NoError(t, err)
	assert.Equal(t, "personal", def.Name)

	var workID = def.ID
	for _, space := range spaces {
		if space.Name == "work" {
			workID = space.ID
		}
	}

	servers, err := store.Servers().List(ctx, workID)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "github", servers[0].ID)
	assert.Equal(t, []string{"stdio"}, servers[0].Args)

	// The server without an explicit space lands in the default space.
	servers, err = store.Servers().List(ctx, def.ID)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "docs", servers[0].ID)
	assert.False(t, servers[0].Enabled)
}

func TestSeedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg, err := config.NewConfigFromBytes([]byte(seedConfig))
	require.NoError(t, err)

	store := memory.NewStore()
	require.NoError(t, seed(ctx, cfg, store))
	require.NoError(t, seed(ctx, cfg, store))

	spaces, err := store.Spaces().List(ctx)
	require.NoError(t, err)
	assert.Len(t, spaces, 2)
}

func TestSeedRejectsUnknownSpace(t *testing.T) {
	t.Parallel()

	cfg, err := config.NewConfigFromBytes([]byte(`
version = "v1"

[[servers]]
id = "github"
space = "nowhere"
transport = "stdio"
command = "github-mcp-server"
enabled = true
`))
	require.NoError(t, err)

	err = seed(context.Background(), cfg, memory.NewStore())
	assert.ErrorContains(t, err, "unknown space")
}
