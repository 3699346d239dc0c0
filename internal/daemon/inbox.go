package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/chatindex/internal/message"
)

// RejectedSuffix is appended to inbox files that could not be decoded.
const RejectedSuffix = ".rejected"

// Pusher receives real-time messages from the inbox.
type Pusher interface {
	Push(ctx context.Context, msgs ...message.Record) error
}

// Inbox watches a directory for *.json message files and pushes each to
// the real-time collector. Producers must write elsewhere and rename into
// the directory so a file is complete when it appears. Pushed files are
// deleted; undecodable ones are renamed with RejectedSuffix. A file whose
// push fails stays in place and is retried after the next file arrives.
// An Inbox is driven by a single goroutine.
type Inbox struct {
	dir    string
	pusher Pusher

	// failed holds files whose push failed, awaiting retry.
	failed map[string]struct{}
}

// NewInbox creates an inbox over dir.
func NewInbox(dir string, pusher Pusher) *Inbox {
	return &Inbox{dir: dir, pusher: pusher, failed: make(map[string]struct{})}
}

// Run drains files already present, then watches until ctx is done.
func (in *Inbox) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", in.dir, err)
	}
	slog.Info("inbox_watching", slog.String("dir", in.dir))

	if err := in.Drain(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isMessageFile(event.Name) {
				continue
			}
			in.process(ctx, event.Name)
			in.retry(ctx, event.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("inbox_watch_error", slog.String("error", err.Error()))
		}
	}
}

// Drain processes every message file currently in the directory, oldest
// name first.
func (in *Inbox) Drain(ctx context.Context) error {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox %s: %w", in.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isMessageFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return nil
		}
		in.process(ctx, filepath.Join(in.dir, name))
	}
	return nil
}

// retry re-processes files whose push failed, oldest name first,
// skipping the one just handled.
func (in *Inbox) retry(ctx context.Context, skip string) {
	if len(in.failed) == 0 {
		return
	}
	names := make([]string, 0, len(in.failed))
	for name := range in.failed {
		if name != skip {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		in.process(ctx, name)
	}
}

func (in *Inbox) process(ctx context.Context, path string) {
	delete(in.failed, path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		slog.Warn("inbox_read_failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	msgs, err := message.DecodeBatch(data)
	if err != nil {
		slog.Warn("inbox_file_rejected", slog.String("path", path), slog.String("error", err.Error()))
		_ = os.Rename(path, path+RejectedSuffix)
		return
	}
	if err := in.pusher.Push(ctx, msgs...); err != nil {
		slog.Warn("inbox_push_failed", slog.String("path", path), slog.String("error", err.Error()))
		in.failed[path] = struct{}{}
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("inbox_remove_failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	slog.Debug("inbox_pushed", slog.String("path", path), slog.Int("messages", len(msgs)))
}

func isMessageFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}
