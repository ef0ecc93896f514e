package fancy

import (
	"testing"

	"github.com/ion-ash/mcp-mux/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigTree(t *testing.T) {
	t.Parallel()

	cfg, err := config.NewConfigFromBytes([]byte(`
listen = "127.0.0.1:9000"

[oauth]
signing_secret = "hush"
issuer = "https://mux.local"

[[spaces]]
name = "work"
default = true

[[servers]]
id = "github"
space = "work"
transport = "stdio"
command = "github-mcp-server"
enabled = true

[[servers]]
id = "weather"
transport = "http"
endpoint = "http://localhost:7000/mcp"
enabled = false
`))
	require.NoError(t, err)

	out := ConfigTree(cfg)
	assert.Contains(t, out, "mcpmux")
	assert.Contains(t, out, "127.0.0.1:9000")
	assert.Contains(t, out, "work")
	assert.Contains(t, out, "github")
	assert.Contains(t, out, "github-mcp-server")
	assert.Contains(t, out, "weather")
	assert.Contains(t, out, "http://localhost:7000/mcp")
	// The signing secret never appears in rendered output.
	assert.NotContains(t, out, "hush")
	assert.Contains(t, out, "in-memory")
}
