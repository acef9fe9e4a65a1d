package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/faultsys/alertrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8100
upstream:
  host: file-host
  port: 9100
admin:
  addr: ""
`), 0o600))

	env := envMap(map[string]string{
		"ALERTRELAY_LISTEN_PORT":   "8200",
		"ALERTRELAY_UPSTREAM_HOST": "env-host",
	})

	cfg, err := ResolveConfig(path, false, Overrides{}, env)
	require.NoError(t, err)
	assert.Equal(t, 8200, cfg.Server.Port)
	assert.Equal(t, "env-host:9100", cfg.UpstreamAddr())
	assert.Empty(t, cfg.Admin.Addr)

	cfg, err = ResolveConfig(path, false, Overrides{Port: 8300, Upstream: "flag-host:9300", Debug: true}, env)
	require.NoError(t, err)
	assert.Equal(t, 8300, cfg.Server.Port)
	assert.Equal(t, "flag-host:9300", cfg.UpstreamAddr())
	assert.True(t, cfg.Debug)
}

func TestResolveConfigOptionalMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := ResolveConfig(path, true, Overrides{}, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultListenPort, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9000", cfg.UpstreamAddr())

	_, err = ResolveConfig(path, false, Overrides{}, envMap(nil))
	assert.Error(t, err)
}

func TestResolveConfigRejectsInvalid(t *testing.T) {
	_, err := ResolveConfig("", true, Overrides{Upstream: "no-port"}, envMap(nil))
	assert.Error(t, err)

	_, err = ResolveConfig("", true, Overrides{}, envMap(map[string]string{"ALERTRELAY_UPSTREAM_MODE": "broadcast"}))
	assert.Error(t, err)
}
