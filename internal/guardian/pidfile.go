package guardian

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrPIDFileNotFound is returned when the PID file doesn't exist.
var ErrPIDFileNotFound = errors.New("PID file not found")

// Session is the content of a PID file.
type Session struct {
	PID     int       `json:"pid"`
	Folders []string  `json:"folders"`
	Started time.Time `json:"started"`
	Script  string    `json:"script"`
}

// PIDFile manages one session's PID file.
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Write stores s, creating the directory if needed.
func (p *PIDFile) Write(s Session) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode PID file: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read loads the session. A file holding only a number is read as a
// session with no folders.
func (p *PIDFile) Read() (Session, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, ErrPIDFileNotFound
		}
		return Session{}, fmt.Errorf("failed to read PID file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if pid, err := strconv.Atoi(trimmed); err == nil {
		return Session{PID: pid}, nil
	}

	var s Session
	if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
		return Session{}, fmt.Errorf("invalid PID file: %w", err)
	}
	if s.PID <= 0 {
		return Session{}, fmt.Errorf("invalid PID in file: %d", s.PID)
	}
	return s, nil
}

// Remove deletes the PID file.
// Returns nil if the file doesn't exist.
func (p *PIDFile) Remove() error {
	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning checks if the process named in the file is running.
// Returns false if the PID file doesn't exist or the process isn't running.
func (p *PIDFile) IsRunning() bool {
	s, err := p.Read()
	if err != nil {
		return false
	}
	return processExists(s.PID)
}
