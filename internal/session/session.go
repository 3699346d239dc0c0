package session

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/chatindex/internal/collector"
	"github.com/Aman-CERP/chatindex/internal/config"
	"github.com/Aman-CERP/chatindex/internal/engine"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/guardian"
	"github.com/Aman-CERP/chatindex/internal/index"
	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/query"
	"github.com/Aman-CERP/chatindex/internal/telemetry"
	"github.com/Aman-CERP/chatindex/internal/vault"
)

// ErrSuspended is returned by Suspend on a session already suspended.
var ErrSuspended = errors.New("session is suspended")

// Session is one user's open index.
type Session struct {
	userID   string
	key      []byte
	settings config.UserSettings
	created  bool
	restored bool
	pid      int
	cfg      *config.Config
	now      func() time.Time

	coord      *index.Coordinator
	primitives engine.Primitives
	collector  *collector.Collector
	gate       *vault.Gate
	guardian   *guardian.Guardian
	users      *config.UserStore
	metrics    *telemetry.QueryMetrics

	mu        sync.Mutex
	suspended bool
	onSuspend func()
}

// Status is a snapshot of the session.
type Status struct {
	User            string             `json:"user"`
	NewUser         bool               `json:"new_user"`
	Restored        bool               `json:"restored"`
	Suspended       bool               `json:"suspended"`
	Index           index.Status       `json:"index"`
	PendingRealTime int                `json:"pending_realtime"`
	IndexBytes      int64              `json:"index_bytes"`
	Archive         string             `json:"archive,omitempty"`
	Queries         telemetry.Snapshot `json:"queries"`
}

// UserID returns the session's user.
func (s *Session) UserID() string {
	return s.userID
}

// Settings returns the user's stored search settings as of Open.
func (s *Session) Settings() config.UserSettings {
	return s.settings
}

// Coordinator exposes the index coordinator.
func (s *Session) Coordinator() *index.Coordinator {
	return s.coord
}

// Push hands real-time messages to the collector.
func (s *Session) Push(ctx context.Context, msgs ...message.Record) error {
	return s.collector.Push(ctx, msgs...)
}

// PushJSON decodes a JSON message array and pushes it.
func (s *Session) PushJSON(ctx context.Context, payload []byte) error {
	msgs, err := message.DecodeBatch(payload)
	if err != nil {
		return err
	}
	return s.Push(ctx, msgs...)
}

// IndexBatch writes one backfill segment.
func (s *Session) IndexBatch(ctx context.Context, msgs []message.Record) (string, error) {
	return s.coord.IndexBatch(ctx, msgs)
}

// MergeBatches folds pending segments into the main index.
func (s *Session) MergeBatches(ctx context.Context) error {
	return s.coord.MergeBatches(ctx)
}

// Backfill runs every batch from next through the index and records the
// completion time in the user's settings. onBatch may be nil.
func (s *Session) Backfill(ctx context.Context, next index.BatchSource, onBatch func(index.RunnerResult)) (*index.RunnerResult, error) {
	runner := index.NewRunner(s.coord, index.RunnerConfig{
		MergeEvery: s.cfg.Indexing.MergeEvery,
		OnBatch:    onBatch,
	})
	result, err := runner.Run(ctx, next)
	if err != nil {
		return result, err
	}
	if err := s.users.Touch(ctx, s.userID, s.now()); err != nil {
		slog.Warn("user_settings_not_updated",
			slog.String("user", s.userID),
			slog.String("error", err.Error()))
	}
	return result, nil
}

// Query compiles req and searches, returning any failure.
func (s *Session) Query(ctx context.Context, req query.Request) (*engine.Result, error) {
	start := time.Now()
	compiled := query.Compile(req, s.now(), s.cfg.Indexing.Retention)
	res, err := s.coord.Search(ctx, compiled)

	event := telemetry.QueryEvent{
		Key:     queryKey(req),
		Type:    telemetry.Classify(req.Text),
		Latency: time.Since(start),
		Failed:  err != nil,
	}
	if res != nil {
		event.ResultCount = res.Total
	}
	s.metrics.Record(event)
	return res, err
}

// queryKey identifies a request for repeat detection, ignoring paging.
func queryKey(req query.Request) string {
	return strings.Join([]string{
		req.Text,
		strings.Join(req.SenderIDs, ","),
		strings.Join(req.ThreadIDs, ","),
		req.FileType,
		req.StartDate,
		req.EndDate,
	}, "\x00")
}

// Search is Query for the UI: failures are logged and come back as an
// empty result.
func (s *Session) Search(ctx context.Context, req query.Request) *engine.Result {
	res, err := s.Query(ctx, req)
	if err != nil {
		attrs := append([]slog.Attr{slog.String("user", s.userID)}, ierrors.LogAttrs(err)...)
		slog.LogAttrs(ctx, slog.LevelWarn, "search_failed", attrs...)
		return engine.Empty()
	}
	return res
}

// Latest returns the newest ingestion date in the main index.
func (s *Session) Latest(ctx context.Context) (string, error) {
	return s.coord.LatestMessageTimestamp(ctx)
}

// DeleteRealTime clears the real-time index.
func (s *Session) DeleteRealTime(ctx context.Context) error {
	return s.coord.DeleteRealTimeIndex(ctx)
}

// DeleteMessages removes messages in [minDate, maxDate) from one sender,
// or from everyone when senderID is empty.
func (s *Session) DeleteMessages(ctx context.Context, senderID, minDate, maxDate string) error {
	return s.coord.DeleteMessages(ctx, senderID, minDate, maxDate)
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	suspended := s.suspended
	s.mu.Unlock()

	st := Status{
		User:      s.userID,
		NewUser:   s.created,
		Restored:  s.restored,
		Suspended: suspended,
		Index:     s.coord.Status(),
		Queries:   s.metrics.Snapshot(),
	}
	if !suspended {
		st.PendingRealTime = s.collector.Pending()
		st.IndexBytes, _ = dirSize(s.coord.MainPath())
	}
	if s.gate.HasArchive(s.coord.MainPath()) {
		st.Archive = s.gate.ArchivePath(s.coord.MainPath())
	}
	return st
}

// Suspend drains the collector, merges pending segments, archives the main
// index, and removes every plaintext folder. The session cannot be used
// afterwards. It returns the archive path.
func (s *Session) Suspend(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.suspended {
		s.mu.Unlock()
		return "", ErrSuspended
	}
	s.suspended = true
	s.mu.Unlock()
	defer s.onSuspend()

	if err := s.collector.Close(ctx); err != nil && !errors.Is(err, collector.ErrClosed) {
		slog.Warn("collector_drain_failed",
			slog.String("user", s.userID),
			slog.String("error", err.Error()))
	}
	if len(s.coord.PendingSegments()) > 0 {
		if err := s.coord.MergeBatches(ctx); err != nil {
			slog.Warn("suspend_merge_failed",
				slog.String("user", s.userID),
				slog.String("error", err.Error()))
		}
	}

	_ = s.coord.Close()
	if err := s.primitives.Close(); err != nil {
		slog.Warn("engine_close_failed", slog.String("error", err.Error()))
	}

	archive, err := s.gate.Encrypt(ctx, s.coord.MainPath(), s.key)
	if err != nil {
		return "", err
	}

	for _, dir := range []string{s.coord.RealTimePath(), s.coord.BatchPath()} {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("plaintext_folder_not_removed",
				slog.String("path", dir),
				slog.String("error", err.Error()))
		}
	}

	if s.guardian != nil {
		if err := s.guardian.Release(ctx, s.pid); err != nil {
			slog.Warn("guardian_release_failed", slog.String("error", err.Error()))
		}
	}

	slog.Info("session_suspended",
		slog.String("user", s.userID),
		slog.String("archive", archive))
	return archive, nil
}

// folders are the plaintext locations the guardian must purge after a crash.
func (s *Session) folders() []string {
	return []string{
		s.coord.MainPath(),
		s.coord.MainPath() + vault.PartialSuffix,
		s.coord.RealTimePath(),
		s.coord.BatchPath(),
	}
}

// abort undoes a partial Open.
func (s *Session) abort(ctx context.Context) {
	_ = s.coord.Close()
	_ = s.primitives.Close()
	if s.guardian != nil {
		_ = s.guardian.Release(ctx, s.pid)
	}
}

// dirSize totals the regular files under dir. A missing dir is zero.
func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return size, err
}
