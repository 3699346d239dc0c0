package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/data/chatindex")

	assert.Equal(t, "/data/chatindex/chatindex.sock", cfg.SocketPath)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Empty(t, cfg.InboxDir)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"valid", Config{SocketPath: "/tmp/x.sock", Timeout: time.Second}, ""},
		{"no socket", Config{Timeout: time.Second}, "socket path"},
		{"zero timeout", Config{SocketPath: "/tmp/x.sock"}, "timeout"},
		{"negative timeout", Config{SocketPath: "/tmp/x.sock", Timeout: -time.Second}, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_EnsureDir(t *testing.T) {
	// Given: socket and inbox paths under missing directories
	root := t.TempDir()
	cfg := Config{
		SocketPath: filepath.Join(root, "run", "chatindex.sock"),
		Timeout:    time.Second,
		InboxDir:   filepath.Join(root, "inbox"),
	}

	// When: ensuring directories
	require.NoError(t, cfg.EnsureDir())

	// Then: both exist
	for _, dir := range []string{filepath.Join(root, "run"), cfg.InboxDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
