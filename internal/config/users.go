package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/lockfile"
	"github.com/Aman-CERP/chatindex/pkg/version"
)

const (
	// UsersFileName is the per-user search settings file.
	UsersFileName = "search_users_config.json"

	// IndexVersion is stamped on every settings entry that lacks one.
	IndexVersion = version.IndexFormat
)

// UserSettings is one user's entry in the settings file.
type UserSettings struct {
	RotationID    int        `json:"rotationId"`
	Version       int        `json:"version"`
	Language      string     `json:"language,omitempty"`
	IndexVersion  string     `json:"indexVersion,omitempty"`
	LastIndexedAt *time.Time `json:"lastIndexedAt,omitempty"`
}

// UserStore reads and writes search_users_config.json.
// Access is serialized across processes with a sibling lock file.
type UserStore struct {
	path string
	lock *lockfile.FileLock
}

// NewUserStore returns a store for the settings file at path.
func NewUserStore(path string) *UserStore {
	return &UserStore{path: path, lock: lockfile.For(path)}
}

// Path returns the settings file path.
func (s *UserStore) Path() string {
	return s.path
}

// Get returns the settings for userID. Unknown users get an empty entry
// persisted on the spot, and created reports that.
func (s *UserStore) Get(ctx context.Context, userID string) (settings UserSettings, created bool, err error) {
	if userID == "" {
		return UserSettings{}, false, ierrors.ValidationError("user id is required", nil)
	}
	if err := s.lock.LockContext(ctx); err != nil {
		return UserSettings{}, false, err
	}
	defer func() { _ = s.lock.Unlock() }()

	all, err := s.readAll()
	if err != nil {
		return UserSettings{}, false, err
	}
	if existing, ok := all[userID]; ok {
		return existing, false, nil
	}

	all[userID] = UserSettings{}
	if err := s.writeAll(all); err != nil {
		return UserSettings{}, false, err
	}
	return UserSettings{}, true, nil
}

// Update replaces the settings for userID and returns what was stored.
func (s *UserStore) Update(ctx context.Context, userID string, settings UserSettings) (UserSettings, error) {
	if userID == "" {
		return UserSettings{}, ierrors.ValidationError("user id is required", nil)
	}
	if settings.IndexVersion == "" {
		settings.IndexVersion = IndexVersion
	}
	if err := s.lock.LockContext(ctx); err != nil {
		return UserSettings{}, err
	}
	defer func() { _ = s.lock.Unlock() }()

	all, err := s.readAll()
	if err != nil {
		return UserSettings{}, err
	}
	all[userID] = settings
	if err := s.writeAll(all); err != nil {
		return UserSettings{}, err
	}
	return settings, nil
}

// Touch records that userID finished indexing at t.
func (s *UserStore) Touch(ctx context.Context, userID string, t time.Time) error {
	current, _, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	t = t.UTC()
	current.LastIndexedAt = &t
	_, err = s.Update(ctx, userID, current)
	return err
}

// readAll loads every entry. A missing file is empty; an unparsable one is
// discarded and rebuilt on the next write.
func (s *UserStore) readAll() (map[string]UserSettings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]UserSettings{}, nil
	}
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeConfigPermission, "cannot read user settings", err)
	}

	all := map[string]UserSettings{}
	if err := json.Unmarshal(data, &all); err != nil {
		slog.Warn("user_settings_unparsable",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return map[string]UserSettings{}, nil
	}
	return all, nil
}

func (s *UserStore) writeAll(all map[string]UserSettings) error {
	data, err := json.MarshalIndent(all, "", " ")
	if err != nil {
		return fmt.Errorf("failed to encode user settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return ierrors.New(ierrors.ErrCodeConfigPermission, "cannot create settings directory", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return ierrors.New(ierrors.ErrCodeConfigPermission, "cannot write user settings", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return ierrors.New(ierrors.ErrCodeConfigPermission, "cannot write user settings", err)
	}
	return nil
}
