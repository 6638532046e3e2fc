package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func Test_parseFile_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("json", func(t *testing.T) {
		path := writeTempFile(t, "cfg.json", `{
			"port": 15000,
			"resolve_interval": "10s",
			"retry_delay": 1000000,
			"chunk_size": 1024,
			"task_max_attempts": 5
		}`)
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFile(cfg)

		assert.Equal(t, 15000, cfg.Port)
		assert.Equal(t, 10*time.Second, cfg.ResolveInterval)
		assert.Equal(t, time.Millisecond, cfg.RetryDelay)
		assert.Equal(t, int64(1024), cfg.ChunkSize)
		assert.Equal(t, 5, cfg.TaskMaxAttempts)
		// untouched keys keep defaults
		assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	})

	t.Run("toml", func(t *testing.T) {
		path := writeTempFile(t, "cfg.toml", `
port = 16000
device_name = "desk"
heartbeat_interval = "5s"
`)
		os.Args = []string{"testbin", "-c", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFile(cfg)

		assert.Equal(t, 16000, cfg.Port)
		assert.Equal(t, "desk", cfg.DeviceName)
		assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	})

	t.Run("no flag, no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}
		cfg := &Config{Port: 1234}
		parseFile(cfg)
		assert.Equal(t, 1234, cfg.Port)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		path := writeTempFile(t, "bad.json", `{ this is not valid json`)
		os.Args = []string{"testbin", "-config", path}
		require.Panics(t, func() { parseFile(&Config{}) })
	})

	t.Run("missing file panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(t.TempDir(), "nope.json")}
		require.Panics(t, func() { parseFile(&Config{}) })
	})
}
