// Package daemon keeps one user's session open behind a Unix socket so
// short-lived CLI commands can push, search, and suspend without owning
// the decrypted index themselves.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	SocketPath string

	// Timeout bounds reading a request and dialing the socket.
	// Default: 30s
	Timeout time.Duration

	// InboxDir, when set, is watched for real-time message files.
	InboxDir string
}

// DefaultConfig returns a Config rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		SocketPath: filepath.Join(dataDir, "chatindex.sock"),
		Timeout:    30 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// EnsureDir creates the socket and inbox directories.
func (c Config) EnsureDir() error {
	if err := os.MkdirAll(filepath.Dir(c.SocketPath), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if c.InboxDir != "" {
		if err := os.MkdirAll(c.InboxDir, 0o700); err != nil {
			return fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}
	return nil
}
