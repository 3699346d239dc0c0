package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/chatindex/internal/collector"
	"github.com/Aman-CERP/chatindex/internal/config"
	"github.com/Aman-CERP/chatindex/internal/engine"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/guardian"
	"github.com/Aman-CERP/chatindex/internal/index"
	"github.com/Aman-CERP/chatindex/internal/preflight"
	"github.com/Aman-CERP/chatindex/internal/telemetry"
	"github.com/Aman-CERP/chatindex/internal/vault"
)

// ErrSessionOpen is returned by Open while another user's session is open.
var ErrSessionOpen = errors.New("another session is already open")

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// Config supplies paths and indexing settings. Required.
	Config *config.Config

	// Guardian records sessions for crash cleanup. Nil disables it.
	Guardian *guardian.Guardian

	// Users stores per-user search settings.
	// Defaults to the settings file under Config.Paths.UserDataDir.
	Users *config.UserStore

	// NewEngine builds the index primitives for a session.
	// Defaults to a bleve engine.
	NewEngine func() (engine.Primitives, error)

	// PID is recorded with the guardian. Defaults to os.Getpid().
	PID int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Manager opens and tracks the process's user session.
type Manager struct {
	config ManagerConfig
	gate   *vault.Gate

	mu      sync.Mutex
	current *Session
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Users == nil {
		cfg.Users = config.NewUserStore(cfg.Config.UsersFilePath())
	}
	if cfg.NewEngine == nil {
		cfg.NewEngine = func() (engine.Primitives, error) {
			return engine.NewBleve(engine.DefaultBleveConfig())
		}
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.Config.Paths.UserDataDir, 0o700); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeFilePermission, "failed to create user data directory", err).
			WithDetail("path", cfg.Config.Paths.UserDataDir)
	}

	return &Manager{
		config: cfg,
		gate:   vault.NewGate(cfg.Config.Paths.UserDataDir),
	}, nil
}

// Gate returns the encryption gate used for archives.
func (m *Manager) Gate() *vault.Gate {
	return m.gate
}

// Current returns the open session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Open starts userID's session: the guardian learns about the plaintext
// folders, the archive is decrypted if there is one, the index is
// initialized, and the real-time collector starts. Opening the user that
// is already open returns the same session.
func (m *Manager) Open(ctx context.Context, userID string, key []byte) (*Session, error) {
	if userID == "" {
		return nil, ierrors.ValidationError("user id is required", nil)
	}
	if len(key) != vault.KeySize {
		return nil, ierrors.New(ierrors.ErrCodeInvalidKey,
			fmt.Sprintf("key must be %d bytes, got %d", vault.KeySize, len(key)), nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		if m.current.userID == userID {
			return m.current, nil
		}
		return nil, fmt.Errorf("%w: user %s", ErrSessionOpen, m.current.userID)
	}

	cfg := m.config.Config
	settings, created, err := m.config.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	primitives, err := m.config.NewEngine()
	if err != nil {
		return nil, ierrors.InternalError("failed to start index engine", err)
	}

	var validator *preflight.Validator
	if cfg.Indexing.ValidatorPath != "" {
		validator = preflight.NewValidator(cfg.Indexing.ValidatorPath)
	}
	coord, err := index.NewCoordinator(index.CoordinatorConfig{
		UserID:       userID,
		DataDir:      cfg.Paths.DataDir,
		Primitives:   primitives,
		Retention:    cfg.Indexing.Retention,
		MinDiskSpace: cfg.Indexing.MinDiskSpace,
		Validator:    validator,
		Now:          m.config.Now,
	})
	if err != nil {
		_ = primitives.Close()
		return nil, err
	}

	s := &Session{
		userID:     userID,
		key:        append([]byte(nil), key...),
		settings:   settings,
		created:    created,
		pid:        m.config.PID,
		cfg:        cfg,
		coord:      coord,
		primitives: primitives,
		gate:       m.gate,
		guardian:   m.config.Guardian,
		users:      m.config.Users,
		metrics:    telemetry.NewQueryMetrics(telemetry.DefaultRecentCapacity),
		now:        m.config.Now,
	}
	s.onSuspend = func() {
		m.mu.Lock()
		if m.current == s {
			m.current = nil
		}
		m.mu.Unlock()
	}

	if s.guardian != nil {
		if _, err := s.guardian.Register(ctx, s.pid, s.folders()...); err != nil {
			slog.Warn("guardian_register_failed",
				slog.String("user", userID),
				slog.String("error", err.Error()))
		}
	}

	restored, err := m.gate.Restore(ctx, coord.MainPath(), key)
	if err != nil && ctx.Err() != nil {
		s.abort(ctx)
		return nil, ctx.Err()
	}
	s.restored = restored

	if err := coord.Init(ctx); err != nil {
		s.abort(ctx)
		return nil, err
	}

	s.collector = collector.New(coord.IsIndexing, coord.IndexRealTime,
		collector.WithInterval(cfg.Indexing.RealTimeInterval))

	m.current = s
	slog.Info("session_opened",
		slog.String("user", userID),
		slog.Bool("restored", restored),
		slog.Bool("new_user", created))
	return s, nil
}
