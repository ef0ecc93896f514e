package interpolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	t.Setenv("MUX_TEST_TOKEN", "s3cret")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty input", input: "", want: ""},
		{name: "no references", input: "plain text", want: "plain text"},
		{name: "set variable", input: "${MUX_TEST_TOKEN}", want: "s3cret"},
		{name: "embedded", input: "Bearer ${MUX_TEST_TOKEN}!", want: "Bearer s3cret!"},
		{name: "default used", input: "${MUX_TEST_UNSET:fallback}", want: "fallback"},
		{name: "default ignored when set", input: "${MUX_TEST_TOKEN:fallback}", want: "s3cret"},
		{name: "empty default", input: "${MUX_TEST_UNSET:}", want: ""},
		{name: "missing without default", input: "${MUX_TEST_UNSET}", wantErr: true},
		{name: "dollar without braces untouched", input: "$MUX_TEST_TOKEN", want: "$MUX_TEST_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply(t *testing.T) {
	t.Setenv("MUX_TEST_CMD", "real-server")

	type inner struct {
		Secret  string `env_interpolation:"yes"`
		Skipped string
	}
	type outer struct {
		Command string   `env_interpolation:"yes"`
		Args    []string `env_interpolation:"yes"`
		Nested  inner
		Items   []inner
	}

	cfg := outer{
		Command: "${MUX_TEST_CMD}",
		Args:    []string{"--name=${MUX_TEST_CMD}", "plain"},
		Nested:  inner{Secret: "${MUX_TEST_CMD}", Skipped: "${MUX_TEST_CMD}"},
		Items:   []inner{{Secret: "${MUX_TEST_UNSET:dflt}"}},
	}
	require.NoError(t, Apply(&cfg))

	assert.Equal(t, "real-server", cfg.Command)
	assert.Equal(t, []string{"--name=real-server", "plain"}, cfg.Args)
	assert.Equal(t, "real-server", cfg.Nested.Secret)
	// Untagged fields pass through untouched.
	assert.Equal(t, "${MUX_TEST_CMD}", cfg.Nested.Skipped)
	assert.Equal(t, "dflt", cfg.Items[0].Secret)
}

func TestApplyMissingVariable(t *testing.T) {
	type cfg struct {
		Token string `env_interpolation:"yes"`
	}
	c := cfg{Token: "${MUX_TEST_DEFINITELY_UNSET}"}
	err := Apply(&c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MUX_TEST_DEFINITELY_UNSET")
}

func TestApplyRejectsNonStruct(t *testing.T) {
	t.Parallel()
	assert.Error(t, Apply(42))
	assert.Error(t, Apply(nil))
	var s string
	assert.Error(t, Apply(&s))
}
