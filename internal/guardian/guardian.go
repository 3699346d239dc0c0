package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/chatindex/internal/lockfile"
)

// DefaultInterval is how often the OS task sweeps.
const DefaultInterval = 5 * time.Minute

const (
	pidFileExt      = ".pid"
	sweepScriptStem = "sweep"
	registryLock    = "registry.lock"
)

// Config configures a Guardian.
type Config struct {
	// StateDir holds PID files and cleanup scripts.
	StateDir string

	// Home is the user's home directory, for per-user OS task files.
	// Defaults to os.UserHomeDir.
	Home string

	// Interval is how often the OS task runs. Defaults to DefaultInterval.
	Interval time.Duration

	// GOOS selects the platform. Defaults to runtime.GOOS.
	GOOS string

	// Runner executes registration commands. Defaults to ExecRunner.
	Runner Runner

	// Registrar overrides the platform registrar.
	Registrar Registrar

	// Alive overrides the process liveness check.
	Alive func(pid int) bool
}

// Guardian registers sessions and sweeps the ones whose process died.
type Guardian struct {
	config    Config
	kind      string
	registrar Registrar
	lock      *lockfile.FileLock
}

// New creates a Guardian.
func New(config Config) (*Guardian, error) {
	if config.StateDir == "" {
		return nil, errors.New("guardian state directory is required")
	}
	if config.GOOS == "" {
		config.GOOS = runtime.GOOS
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Runner == nil {
		config.Runner = ExecRunner{}
	}
	if config.Alive == nil {
		config.Alive = processExists
	}
	if config.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		config.Home = home
	}

	registrar := config.Registrar
	if registrar == nil {
		registrar = registrarFor(config.GOOS, config.Home, config.Runner)
	}

	return &Guardian{
		config:    config,
		kind:      scriptKind(config.GOOS),
		registrar: registrar,
		lock:      lockfile.New(filepath.Join(config.StateDir, registryLock)),
	}, nil
}

// PIDFilePath returns the PID file for pid.
func (g *Guardian) PIDFilePath(pid int) string {
	return filepath.Join(g.config.StateDir, strconv.Itoa(pid)+pidFileExt)
}

// ScriptPath returns the cleanup script for pid.
func (g *Guardian) ScriptPath(pid int) string {
	return filepath.Join(g.config.StateDir, scriptName(g.kind, pid))
}

// SweepScriptPath returns the script the OS task runs.
func (g *Guardian) SweepScriptPath() string {
	return filepath.Join(g.config.StateDir, sweepScriptStem+"."+g.kind)
}

// Register records that pid owns folders, writes its cleanup script, and
// makes sure the OS task is installed. A failure to install the OS task
// is logged; the PID file and script still let Sweep clean up.
func (g *Guardian) Register(ctx context.Context, pid int, folders ...string) (*Session, error) {
	if err := g.lock.LockContext(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = g.lock.Unlock() }()

	abs := make([]string, 0, len(folders))
	for _, f := range folders {
		p, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		abs = append(abs, p)
	}

	s := Session{
		PID:     pid,
		Folders: abs,
		Started: time.Now().UTC(),
		Script:  g.ScriptPath(pid),
	}
	pidPath := g.PIDFilePath(pid)
	if err := writeScript(s.Script, cleanupScript(g.kind, pid, abs, pidPath, s.Script)); err != nil {
		return nil, fmt.Errorf("failed to write cleanup script: %w", err)
	}
	if err := NewPIDFile(pidPath).Write(s); err != nil {
		return nil, err
	}
	if err := writeScript(g.SweepScriptPath(), sweepScript(g.kind, g.config.StateDir)); err != nil {
		return nil, fmt.Errorf("failed to write sweep script: %w", err)
	}

	task := Task{Name: TaskName, Script: g.SweepScriptPath(), Interval: g.config.Interval}
	if err := g.registrar.Register(ctx, task); err != nil {
		slog.Warn("guardian_task_not_registered",
			slog.String("task", task.Name),
			slog.String("error", err.Error()))
	}

	slog.Debug("guardian_session_registered",
		slog.Int("pid", pid),
		slog.String("folders", strings.Join(abs, ",")))
	return &s, nil
}

// Release forgets pid after a graceful shutdown. The folders are not
// touched; the encryption step has already removed them.
func (g *Guardian) Release(ctx context.Context, pid int) error {
	if err := g.lock.LockContext(ctx); err != nil {
		return err
	}
	defer func() { _ = g.lock.Unlock() }()

	if err := NewPIDFile(g.PIDFilePath(pid)).Remove(); err != nil {
		return err
	}
	if err := os.Remove(g.ScriptPath(pid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cleanup script: %w", err)
	}
	return nil
}

// Unregister removes the OS task. Sessions already on disk are left for
// a manual sweep.
func (g *Guardian) Unregister(ctx context.Context) error {
	return g.registrar.Unregister(ctx, TaskName)
}

// Sessions lists every registered session.
func (g *Guardian) Sessions() ([]Session, error) {
	entries, err := os.ReadDir(g.config.StateDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var out []Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), pidFileExt) {
			continue
		}
		s, err := NewPIDFile(filepath.Join(g.config.StateDir, e.Name())).Read()
		if err != nil {
			slog.Warn("guardian_pidfile_unreadable",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// SweepResult reports what a sweep did.
type SweepResult struct {
	Checked int      `json:"checked"`
	Cleaned []int    `json:"cleaned"`
	Removed []string `json:"removed"`
	Alive   []int    `json:"alive"`
}

// Sweep deletes the folders of every session whose process is gone, then
// the session's PID file and script. Running it twice is harmless.
func (g *Guardian) Sweep(ctx context.Context) (*SweepResult, error) {
	if err := g.lock.LockContext(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = g.lock.Unlock() }()

	sessions, err := g.Sessions()
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	var errs []error
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		if s.PID == os.Getpid() || g.config.Alive(s.PID) {
			result.Alive = append(result.Alive, s.PID)
			continue
		}

		failed := false
		for _, f := range s.Folders {
			if err := os.RemoveAll(f); err != nil {
				errs = append(errs, fmt.Errorf("pid %d: %w", s.PID, err))
				failed = true
				continue
			}
			result.Removed = append(result.Removed, f)
		}
		if failed {
			continue
		}
		_ = os.Remove(g.ScriptPath(s.PID))
		if err := NewPIDFile(g.PIDFilePath(s.PID)).Remove(); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Cleaned = append(result.Cleaned, s.PID)

		slog.Info("guardian_session_swept",
			slog.Int("pid", s.PID),
			slog.Int("folders", len(s.Folders)))
	}
	return result, errors.Join(errs...)
}
