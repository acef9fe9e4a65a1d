package misc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyConfigTemplate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "config.example.yaml")
	require.NoError(t, os.WriteFile(src, []byte("debug: false\n"), 0o600))

	dst := filepath.Join(dir, "nested", "config.yaml")
	require.NoError(t, CopyConfigTemplate(src, dst, false))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "debug: false\n", string(data))

	require.NoError(t, os.WriteFile(src, []byte("debug: true\n"), 0o600))
	assert.ErrorIs(t, CopyConfigTemplate(src, dst, false), ErrConfigExists)

	require.NoError(t, CopyConfigTemplate(src, dst, true))
	data, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "debug: true\n", string(data))
}

func TestCopyConfigTemplateMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyConfigTemplate(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "config.yaml"), false)
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "config.yaml"))
	assert.True(t, os.IsNotExist(statErr))
}
