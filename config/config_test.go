package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/floegence/lantun/tunnel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LANTUN_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8989, cfg.Tunnel.Port)
	assert.Equal(t, 30*time.Second, cfg.Tunnel.KeepaliveInterval)
	assert.Equal(t, "tagged", cfg.Tunnel.WireMode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Metrics.Listen)
	assert.Equal(t, ".lantun_key", filepath.Base(cfg.KeyFile))
}

func TestLoadFileAndEnv(t *testing.T) {
	p := writeFile(t, "lantun.yaml", `
key_file: /etc/lantun/key
log:
  level: debug
  format: json
tunnel:
  port: 9000
  connect_timeout: 3s
  keepalive_interval: 15s
  max_send_attempts: 2
  wire_mode: legacy
  ws_listen: 127.0.0.1:8080
  ws_allowed_origins: [example.com]
metrics:
  listen: 127.0.0.1:9102
`)
	t.Setenv("LANTUN_TUNNEL_PORT", "9100")
	t.Setenv("LANTUN_TUNNEL_MAX_DECRYPT_FAILURES", "3")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/etc/lantun/key", cfg.KeyFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9100, cfg.Tunnel.Port, "env overrides file")
	assert.Equal(t, 3*time.Second, cfg.Tunnel.ConnectTimeout)
	assert.Equal(t, 3, cfg.Tunnel.MaxDecryptFailures)
	assert.Equal(t, "127.0.0.1:9102", cfg.Metrics.Listen)

	tc := cfg.TunnelConfig()
	assert.Equal(t, 9100, tc.Port)
	assert.Equal(t, 15*time.Second, tc.KeepaliveInterval)
	assert.Equal(t, 2, tc.MaxSendAttempts)
	assert.Equal(t, tunnel.WireLegacy, tc.WireMode)
	assert.Equal(t, "127.0.0.1:8080", tc.WSListen)
	assert.Equal(t, []string{"example.com"}, tc.WSAllowedOrigins)
	_, err = tunnel.New(tc, [32]byte{})
	require.NoError(t, err)
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	p := writeFile(t, "custom.yaml", "tunnel:\n  port: 7000\n")
	t.Setenv("LANTUN_CONFIG", p)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Tunnel.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"log level":   "log:\n  level: loud\n",
		"log format":  "log:\n  format: xml\n",
		"wire mode":   "tunnel:\n  wire_mode: morse\n",
		"port":        "tunnel:\n  port: 70000\n",
		"ws path":     "tunnel:\n  ws_path: tunnel\n",
		"decrypt cap": "tunnel:\n  max_decrypt_failures: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "lantun.yaml", body))
			require.Error(t, err)
		})
	}
}
