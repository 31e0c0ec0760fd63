package ppdbg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMatchListURL, cfg.MatchListURL)
	assert.Equal(t, []string{"localhost:45000"}, cfg.Candidates)
	assert.Equal(t, DefaultPath, cfg.Path)
	assert.True(t, cfg.Handshake)
	assert.Equal(t, 256, cfg.HistorySize)
	assert.Equal(t, 20*time.Second, cfg.HeartbeatInterval)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeFile(t, "ppdbg.yaml", `
match_list_url: ""
candidates: ["10.0.0.2:45000", "10.0.0.3:45000"]
connect_timeout: 2s
handshake: false
min_server_version: ">= 1.12"
log:
  level: debug
  format: json
`)

	t.Run("file", func(t *testing.T) {
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Empty(t, cfg.MatchListURL)
		assert.Equal(t, []string{"10.0.0.2:45000", "10.0.0.3:45000"}, cfg.Candidates)
		assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, 15*time.Second, cfg.DiscoveryTimeout)
		assert.False(t, cfg.Handshake)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("PPDBG_CANDIDATES", "a:1, b:2,")
		t.Setenv("PPDBG_CONNECT_TIMEOUT", "750ms")
		t.Setenv("PPDBG_HANDSHAKE", "true")
		t.Setenv("PPDBG_ADDRESS", "192.168.1.4:45000")
		t.Setenv("PPDBG_LOG_LEVEL", "warn")
		t.Setenv("PPDBG_HEARTBEAT_INTERVAL", "3s")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"a:1", "b:2"}, cfg.Candidates)
		assert.Equal(t, 750*time.Millisecond, cfg.ConnectTimeout)
		assert.True(t, cfg.Handshake)
		assert.Equal(t, "192.168.1.4:45000", cfg.Address)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, 3*time.Second, cfg.HeartbeatInterval)
	})

	t.Run("malformed env values are ignored", func(t *testing.T) {
		t.Setenv("PPDBG_CONNECT_TIMEOUT", "soon")
		t.Setenv("PPDBG_HANDSHAKE", "maybe")
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
		assert.False(t, cfg.Handshake)
	})
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := LoadConfig(writeFile(t, "bad.yaml", "candidates: [unterminated"))
		assert.Error(t, err)
	})

	t.Run("bad constraint", func(t *testing.T) {
		_, err := LoadConfig(writeFile(t, "c.yaml", "min_server_version: \"not a range\""))
		assert.ErrorContains(t, err, "min_server_version")
	})
}

func TestValidate(t *testing.T) {
	cfg := Config{HistorySize: 3}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPath, cfg.Path)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, int64(16<<20), cfg.ReadLimitBytes)
	assert.Equal(t, 20*time.Second, cfg.HeartbeatInterval)

	cfg = Config{HeartbeatInterval: -1}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Duration(-1), cfg.HeartbeatInterval, "negative disables the heartbeat")

	cfg = DefaultConfig()
	cfg.HistorySize = -1
	assert.Error(t, cfg.Validate())
}
