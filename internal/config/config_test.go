package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTOML = `
version = "v1"
listen = "127.0.0.1:9000"
database_path = "/tmp/mux.db"
throttle_window = "750ms"

[logging]
level = "debug"
format = "json"

[oauth]
issuer = "https://mux.local"
signing_secret = "super-secret"
token_ttl = "30m"

[[spaces]]
name = "work"
default = true

[[spaces]]
name = "personal"

[[servers]]
id = "github"
space = "work"
transport = "stdio"
command = "github-mcp-server"
args = ["--stdio"]
enabled = true

[[servers]]
id = "weather"
space = "personal"
transport = "http"
endpoint = "http://localhost:7000/mcp"
enabled = true
`

func TestNewConfigFromBytes(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfigFromBytes([]byte(validTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/tmp/mux.db", cfg.DatabasePath)
	assert.Equal(t, 750*time.Millisecond, cfg.ThrottleWindow.AsDuration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 30*time.Minute, cfg.OAuth.TokenTTL.AsDuration())
	require.Len(t, cfg.Spaces, 2)
	assert.True(t, cfg.Spaces[0].Default)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, []string{"--stdio"}, cfg.Servers[0].Args)
}

func TestNewConfigFromBytesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfigFromBytes([]byte(`
[oauth]
signing_secret = "s"
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, DefaultListenAddress, cfg.Listen)
	assert.Equal(t, DefaultThrottleWindow, cfg.ThrottleWindow.AsDuration())
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, DefaultTokenTTL, cfg.OAuth.TokenTTL.AsDuration())
	assert.Empty(t, cfg.DatabasePath)
}

func TestNewConfigFromBytesInterpolatesEnv(t *testing.T) {
	t.Setenv("MUX_SIGNING_SECRET", "from-env")
	t.Setenv("MUX_GITHUB_CMD", "github-mcp-server")

	cfg, err := NewConfigFromBytes([]byte(`
[oauth]
signing_secret = "${MUX_SIGNING_SECRET}"

[[spaces]]
name = "work"

[[servers]]
id = "github"
space = "work"
transport = "stdio"
command = "${MUX_GITHUB_CMD}"
args = ["--token=${MUX_GITHUB_TOKEN:anonymous}"]
enabled = true
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "from-env", cfg.OAuth.SigningSecret)
	assert.Equal(t, "github-mcp-server", cfg.Servers[0].Command)
	assert.Equal(t, []string{"--token=anonymous"}, cfg.Servers[0].Args)
}

func TestNewConfigFromBytesRejectsMissingEnv(t *testing.T) {
	t.Parallel()

	_, err := NewConfigFromBytes([]byte(`
[oauth]
signing_secret = "${MUX_TEST_NO_SUCH_VAR}"
`))
	require.ErrorIs(t, err, ErrFailedToLoadConfig)
	assert.Contains(t, err.Error(), "MUX_TEST_NO_SUCH_VAR")
}

func TestNewConfigFromBytesRejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	_, err := NewConfigFromBytes([]byte(`version = "v2"`))
	assert.ErrorIs(t, err, ErrUnsupportedConfigVer)
}

func TestNewConfigFromBytesRejectsBadTOML(t *testing.T) {
	t.Parallel()

	_, err := NewConfigFromBytes([]byte(`listen = [`))
	assert.ErrorIs(t, err, ErrFailedToLoadConfig)
}

func TestValidateJoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfigFromBytes([]byte(`
[logging]
level = "loud"
format = "yaml"

[[spaces]]
name = "a"
default = true

[[spaces]]
name = "a"
default = true

[[servers]]
id = "broken"
space = "missing"
transport = "carrier-pigeon"

[[servers]]
id = "quiet"
space = "a"
transport = "stdio"

[[servers]]
id = "web"
space = "a"
transport = "http"
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrFailedToValidateConfig)

	msg := err.Error()
	for _, want := range []string{
		"unsupported log format",
		"unsupported log level",
		"signing_secret",
		"duplicate space name",
		"at most one space",
		"undeclared space",
		"unsupported transport",
		"no command",
		"no endpoint",
	} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %q", want, msg)
	}
}

func TestNewConfigFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mux.toml")
	require.NoError(t, os.WriteFile(path, []byte(validTOML), 0o644))

	cfg, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
}

func TestNewConfigRejectsMissingOrNonTOML(t *testing.T) {
	t.Parallel()

	_, err := NewConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorIs(t, err, ErrFailedToLoadConfig)

	path := filepath.Join(t.TempDir(), "mux.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: x"), 0o644))
	_, err = NewConfig(path)
	assert.ErrorIs(t, err, ErrFailedToLoadConfig)
}
