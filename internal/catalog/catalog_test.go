package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalog(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "deepseek/deepseek-chat-v3-0324:free", c.Default().ID)
	assert.Len(t, c.Models(), 2)
	assert.True(t, c.Has("meta-llama/llama-4-maverick:free"))
	assert.Equal(t, "Llama 4 Maverick", c.Resolve("meta-llama/llama-4-maverick:free").Name)
}

func TestResolveFallsBackToDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, c.Default(), c.Resolve(""))
	assert.Equal(t, c.Default(), c.Resolve("unknown/model"))
}

func TestLoadFromFileReplacesCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: missing/model
models:
  - id: custom/one
  - id: custom/one
    name: Duplicate
  - id: custom/two
    name: Two
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, c.Models(), 2)
	assert.Equal(t, "custom/one", c.Default().ID, "unknown default falls back to the first model")
	assert.Equal(t, "custom/one", c.Resolve("custom/one").Name)
}

func TestParseRejectsEmptyCatalog(t *testing.T) {
	_, err := Parse([]byte("models: []\n"))
	assert.Error(t, err)
}
