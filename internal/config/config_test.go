package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
debug: true
server:
  port: 18080
upstream:
  host: alerts.local
  dial-timeout: 2s
session:
  heartbeat-interval: 0s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, 18080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep their default")
	assert.Equal(t, "alerts.local", cfg.Upstream.Host)
	assert.Equal(t, DefaultUpstreamPort, cfg.Upstream.Port)
	assert.Equal(t, 2*time.Second, cfg.Upstream.DialTimeout)
	assert.Equal(t, time.Duration(0), cfg.Session.HeartbeatInterval)
	assert.Equal(t, DefaultAdminAddr, cfg.Admin.Addr)
}

func TestLoadConfigOptionalMissingFile(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = LoadConfigOptional(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.Error(t, err)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ALERTRELAY_DEBUG":         "true",
		"ALERTRELAY_LISTEN_PORT":   "9999",
		"ALERTRELAY_UPSTREAM_HOST": " 10.0.0.5 ",
		"ALERTRELAY_UPSTREAM_MODE": "shared",
		"ALERTRELAY_LISTEN_HOST":   "",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.True(t, cfg.Debug)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "10.0.0.5", cfg.Upstream.Host)
	assert.Equal(t, ModeShared, cfg.Upstream.Mode)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "blank values are ignored")
	assert.Equal(t, DefaultAdminAddr, cfg.Admin.Addr)
}

func TestApplyEnvBlankAdminAddrDisablesAdmin(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(key string) (string, bool) {
		if key == "ALERTRELAY_ADMIN_ADDR" {
			return "", true
		}
		return "", false
	}))
	assert.Empty(t, cfg.Admin.Addr)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvReportsBadNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(key string) (string, bool) {
		if key == "ALERTRELAY_UPSTREAM_PORT" {
			return "ninety", true
		}
		return "", false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALERTRELAY_UPSTREAM_PORT")
	assert.Equal(t, DefaultUpstreamPort, cfg.Upstream.Port)
}

func TestSetUpstream(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.SetUpstream("192.168.1.20:9100"))
	assert.Equal(t, "192.168.1.20:9100", cfg.UpstreamAddr())

	assert.Error(t, cfg.SetUpstream("no-port"))
	assert.Error(t, cfg.SetUpstream("host:abc"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "path gets leading slash",
			mutate: func(c *Config) { c.Server.Path = "alerts" },
			check:  func(t *testing.T, c *Config) { assert.Equal(t, "/alerts", c.Server.Path) },
		},
		{
			name:   "mode is case insensitive",
			mutate: func(c *Config) { c.Upstream.Mode = "SHARED" },
			check:  func(t *testing.T, c *Config) { assert.Equal(t, ModeShared, c.Upstream.Mode) },
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Upstream.Mode = "pooled" },
			wantErr: true,
		},
		{
			name:    "upstream port zero",
			mutate:  func(c *Config) { c.Upstream.Port = 0 },
			wantErr: true,
		},
		{
			name:    "negative limits",
			mutate:  func(c *Config) { c.Limits.MaxPerIP = -1 },
			wantErr: true,
		},
		{
			name: "zero tuning falls back",
			mutate: func(c *Config) {
				c.Upstream.MaxLineBytes = 0
				c.Session.SendQueue = 0
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, DefaultMaxLineBytes, c.Upstream.MaxLineBytes)
				assert.Equal(t, 64, c.Session.SendQueue)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	assert.Equal(t, "127.0.0.1:9000", cfg.UpstreamAddr())
}
