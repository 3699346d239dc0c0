// Package index sequences indexing, merging, deletion, and search against
// a user's main index, the real-time index, and the batch segment folder.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/chatindex/internal/engine"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/preflight"
	"github.com/Aman-CERP/chatindex/internal/query"
	"github.com/Aman-CERP/chatindex/pkg/version"
)

// Folder names under the data directory.
const (
	IndexVersion       = version.IndexFormat
	RealTimeFolderName = "temp_realtime_index"
	BatchFolderName    = "temp_batch_indexes"
)

// MainFolderName returns the main index folder name for userID.
func MainFolderName(userID string) string {
	return "search_index_" + userID + "_" + IndexVersion
}

// State is the coordinator lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Operation names the work a Ready coordinator is doing.
type Operation string

const (
	OpBatchIndexing    Operation = "batch_indexing"
	OpMerging          Operation = "merging"
	OpRealTimeIndexing Operation = "realtime_indexing"
	OpSearching        Operation = "searching"
	OpDeleting         Operation = "deleting"
)

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// UserID selects the main index folder.
	UserID string

	// DataDir holds the main, real-time, and batch folders.
	DataDir string

	// Primitives is the index engine.
	Primitives engine.Primitives

	// Retention is the search and compaction window.
	// Defaults to query.DefaultRetention if zero.
	Retention time.Duration

	// MinDiskSpace is the free-space floor checked before indexing.
	// Defaults to preflight.MinDiskSpaceBytes if zero.
	MinDiskSpace uint64

	// Validator checks index folders at init (optional).
	Validator *preflight.Validator

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Status is a snapshot of the coordinator.
type Status struct {
	State           State       `json:"-"`
	StateName       string      `json:"state"`
	Operations      []Operation `json:"operations,omitempty"`
	PendingSegments int         `json:"pending_segments"`
	Indexing        bool        `json:"indexing"`
}

// Coordinator owns one user's index handles. Writers to a handle are
// exclusive; searches take read locks and wait for writers to finish.
type Coordinator struct {
	config CoordinatorConfig

	stateMu sync.Mutex
	state   State
	ops     map[Operation]int
	pending []string

	// Lock order: mainMu, rtMu, batchMu.
	mainMu  sync.RWMutex
	rtMu    sync.RWMutex
	batchMu sync.Mutex

	busy atomic.Int32
}

// NewCoordinator creates a coordinator. Call Init before anything else.
func NewCoordinator(config CoordinatorConfig) (*Coordinator, error) {
	if config.UserID == "" {
		return nil, ierrors.ValidationError("user id is required", nil)
	}
	if config.DataDir == "" {
		return nil, ierrors.ValidationError("data directory is required", nil)
	}
	if config.Primitives == nil {
		return nil, ierrors.ValidationError("index primitives are required", nil)
	}
	if config.Retention <= 0 {
		config.Retention = query.DefaultRetention
	}
	if config.MinDiskSpace == 0 {
		config.MinDiskSpace = preflight.MinDiskSpaceBytes
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Coordinator{
		config: config,
		ops:    make(map[Operation]int),
	}, nil
}

// MainPath is the user's persistent index folder.
func (c *Coordinator) MainPath() string {
	return filepath.Join(c.config.DataDir, MainFolderName(c.config.UserID))
}

// RealTimePath is the real-time index folder.
func (c *Coordinator) RealTimePath() string {
	return filepath.Join(c.config.DataDir, RealTimeFolderName)
}

// BatchPath is the folder holding unmerged batch segments.
func (c *Coordinator) BatchPath() string {
	return filepath.Join(c.config.DataDir, BatchFolderName)
}

// IsIndexing reports whether a write is in flight. The collector polls it.
func (c *Coordinator) IsIndexing() bool {
	return c.busy.Load() > 0
}

// Status returns a snapshot of the lifecycle state and running operations.
func (c *Coordinator) Status() Status {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	s := Status{
		State:           c.state,
		StateName:       c.state.String(),
		PendingSegments: len(c.pending),
		Indexing:        c.IsIndexing(),
	}
	for _, op := range []Operation{OpBatchIndexing, OpMerging, OpRealTimeIndexing, OpSearching, OpDeleting} {
		if c.ops[op] > 0 {
			s.Operations = append(s.Operations, op)
		}
	}
	return s
}

// Init prepares the folders and compacts the main index to the retention
// window. Stale real-time and batch folders from a previous run are
// removed. Calling Init on a Ready coordinator is a no-op.
func (c *Coordinator) Init(ctx context.Context) error {
	c.stateMu.Lock()
	switch c.state {
	case StateReady:
		c.stateMu.Unlock()
		return nil
	case StateInitializing:
		c.stateMu.Unlock()
		return ierrors.NotReadyError("index is already initializing")
	case StateClosed:
		c.stateMu.Unlock()
		return ierrors.NotReadyError("index is closed")
	}
	c.state = StateInitializing
	c.stateMu.Unlock()

	if err := c.initialize(ctx); err != nil {
		c.setState(StateUninitialized)
		return err
	}
	c.setState(StateReady)

	slog.Info("index_ready",
		slog.String("user", c.config.UserID),
		slog.String("main", c.MainPath()))
	return nil
}

func (c *Coordinator) initialize(ctx context.Context) error {
	p := c.config.Primitives

	c.mainMu.Lock()
	c.rtMu.Lock()
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	defer c.rtMu.Unlock()
	defer c.mainMu.Unlock()

	c.validate(ctx, c.config.DataDir)

	for _, stale := range []string{c.RealTimePath(), c.BatchPath()} {
		if err := p.RemoveFolder(ctx, stale); err != nil {
			slog.Warn("stale_folder_not_removed",
				slog.String("path", stale),
				slog.String("error", err.Error()))
		}
	}

	for _, dir := range []string{c.MainPath(), c.RealTimePath()} {
		if err := p.EnsureFolder(ctx, dir); err != nil {
			return ierrors.New(ierrors.ErrCodeFilePermission, "failed to create index folder", err).
				WithDetail("path", dir)
		}
	}

	c.validate(ctx, c.MainPath())
	c.validate(ctx, c.RealTimePath())

	if err := ctx.Err(); err != nil {
		return err
	}

	floor := c.floor()
	if err := p.DeleteMessages(ctx, c.MainPath(), "", query.MinimumDate, floor); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("startup_compaction_failed",
			slog.String("path", c.MainPath()),
			slog.String("error", err.Error()))
	}

	c.stateMu.Lock()
	c.pending = nil
	c.stateMu.Unlock()
	return nil
}

// IndexBatchJSON decodes payload and calls IndexBatch.
func (c *Coordinator) IndexBatchJSON(ctx context.Context, payload []byte) (string, error) {
	msgs, err := message.DecodeBatch(payload)
	if err != nil {
		return "", err
	}
	return c.IndexBatch(ctx, msgs)
}

// IndexBatch writes msgs into a new segment of the batch folder and
// returns its id. Segments reach the main index through MergeBatches.
func (c *Coordinator) IndexBatch(ctx context.Context, msgs []message.Record) (string, error) {
	if err := message.ValidateBatch(msgs); err != nil {
		return "", err
	}
	end, err := c.begin(OpBatchIndexing)
	if err != nil {
		return "", err
	}
	defer end()

	if err := c.requireFolder(c.MainPath()); err != nil {
		return "", err
	}
	c.checkDisk()

	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	c.busy.Add(1)
	defer c.busy.Add(-1)

	segmentID := uuid.NewString()
	if err := c.config.Primitives.CreatePartialIndex(ctx, c.BatchPath(), segmentID, msgs); err != nil {
		return "", c.primitiveErr("create_partial_index", err)
	}

	c.stateMu.Lock()
	c.pending = append(c.pending, segmentID)
	c.stateMu.Unlock()

	slog.Debug("batch_indexed",
		slog.String("segment", segmentID),
		slog.Int("messages", len(msgs)))
	return segmentID, nil
}

// PendingSegments returns the ids of segments not yet merged.
func (c *Coordinator) PendingSegments() []string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := make([]string, len(c.pending))
	copy(out, c.pending)
	return out
}

// MergeBatches folds every pending segment into the main index, deletes
// the batch folder, and drops from the real-time index both the messages
// main now holds and those older than the retention window.
func (c *Coordinator) MergeBatches(ctx context.Context) error {
	end, err := c.begin(OpMerging)
	if err != nil {
		return err
	}
	defer end()

	if err := c.requireFolder(c.MainPath()); err != nil {
		return err
	}

	c.busy.Add(1)
	defer c.busy.Add(-1)

	c.mainMu.Lock()
	defer c.mainMu.Unlock()

	merged, err := c.mergeLocked(ctx)
	if err != nil {
		return err
	}

	c.rtMu.Lock()
	defer c.rtMu.Unlock()
	if err := c.config.Primitives.RemoveDuplicates(ctx, c.RealTimePath(), c.MainPath()); err != nil {
		slog.Warn("realtime_dedupe_failed",
			slog.String("path", c.RealTimePath()),
			slog.String("error", err.Error()))
	}
	if err := c.config.Primitives.DeleteMessages(ctx, c.RealTimePath(), "", query.MinimumDate, c.floor()); err != nil {
		slog.Warn("realtime_purge_failed",
			slog.String("path", c.RealTimePath()),
			slog.String("error", err.Error()))
	}

	slog.Info("batches_merged",
		slog.String("user", c.config.UserID),
		slog.Int("segments", merged))
	return nil
}

func (c *Coordinator) mergeLocked(ctx context.Context) (int, error) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	c.stateMu.Lock()
	merged := len(c.pending)
	c.stateMu.Unlock()

	p := c.config.Primitives
	if err := p.MergePartialIndex(ctx, c.MainPath(), c.BatchPath()); err != nil {
		return 0, c.primitiveErr("merge_partial_index", err)
	}
	if err := p.RemoveFolder(ctx, c.BatchPath()); err != nil {
		return 0, c.primitiveErr("remove_batch_folder", err)
	}

	c.stateMu.Lock()
	c.pending = nil
	c.stateMu.Unlock()
	return merged, nil
}

// IndexRealTime adds msgs to the real-time index. IsIndexing reports
// true for the duration.
func (c *Coordinator) IndexRealTime(ctx context.Context, msgs []message.Record) error {
	if err := message.ValidateBatch(msgs); err != nil {
		return err
	}
	end, err := c.begin(OpRealTimeIndexing)
	if err != nil {
		return err
	}
	defer end()

	c.checkDisk()

	c.busy.Add(1)
	defer c.busy.Add(-1)

	c.rtMu.Lock()
	defer c.rtMu.Unlock()

	if err := c.config.Primitives.IndexRealTime(ctx, c.RealTimePath(), msgs); err != nil {
		return c.primitiveErr("index_realtime", err)
	}
	return nil
}

// Search runs a compiled query over the main and real-time indexes. A
// missing index folder is an error, not an empty result.
func (c *Coordinator) Search(ctx context.Context, compiled *query.Compiled) (*engine.Result, error) {
	if compiled == nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidQuery, "query is required", nil)
	}
	end, err := c.begin(OpSearching)
	if err != nil {
		return nil, err
	}
	defer end()

	for _, dir := range []string{c.MainPath(), c.RealTimePath()} {
		if err := c.requireFolder(dir); err != nil {
			return nil, err
		}
	}

	c.mainMu.RLock()
	defer c.mainMu.RUnlock()
	c.rtMu.RLock()
	defer c.rtMu.RUnlock()

	res, err := c.config.Primitives.Search(ctx, engine.SearchRequest{
		MainPath:     c.MainPath(),
		RealTimePath: c.RealTimePath(),
		Query:        compiled.Expr,
		StartDate:    compiled.StartDate,
		EndDate:      compiled.EndDate,
		Offset:       compiled.Offset,
		Limit:        compiled.Limit,
		SortOrder:    compiled.SortOrder,
	})
	if err != nil {
		if _, ok := asIndexError(err); ok || isContextErr(err) {
			return nil, err
		}
		return nil, ierrors.New(ierrors.ErrCodeSearchFailed, "search failed", err).
			WithDetail("query", compiled.Query())
	}
	return res, nil
}

// DeleteRealTimeIndex clears the real-time index folder and recreates it.
func (c *Coordinator) DeleteRealTimeIndex(ctx context.Context) error {
	end, err := c.begin(OpDeleting)
	if err != nil {
		return err
	}
	defer end()

	c.busy.Add(1)
	defer c.busy.Add(-1)

	c.rtMu.Lock()
	defer c.rtMu.Unlock()

	p := c.config.Primitives
	if err := p.RemoveFolder(ctx, c.RealTimePath()); err != nil {
		return c.primitiveErr("remove_realtime_folder", err)
	}
	if err := p.EnsureFolder(ctx, c.RealTimePath()); err != nil {
		return c.primitiveErr("ensure_realtime_folder", err)
	}
	c.validate(ctx, c.RealTimePath())
	return nil
}

// DeleteMessages removes messages with minDate <= ingestionDate < maxDate
// from both indexes, restricted to senderID when non-empty.
func (c *Coordinator) DeleteMessages(ctx context.Context, senderID, minDate, maxDate string) error {
	end, err := c.begin(OpDeleting)
	if err != nil {
		return err
	}
	defer end()

	if err := c.requireFolder(c.MainPath()); err != nil {
		return err
	}

	c.busy.Add(1)
	defer c.busy.Add(-1)

	c.mainMu.Lock()
	defer c.mainMu.Unlock()
	c.rtMu.Lock()
	defer c.rtMu.Unlock()

	p := c.config.Primitives
	if err := p.DeleteMessages(ctx, c.MainPath(), senderID, minDate, maxDate); err != nil {
		return c.primitiveErr("delete_messages", err)
	}
	if err := p.DeleteMessages(ctx, c.RealTimePath(), senderID, minDate, maxDate); err != nil {
		return c.primitiveErr("delete_messages", err)
	}
	return nil
}

// LatestMessageTimestamp returns the newest ingestion date in the main
// index, or query.MinimumDate when it is empty.
func (c *Coordinator) LatestMessageTimestamp(ctx context.Context) (string, error) {
	end, err := c.begin(OpSearching)
	if err != nil {
		return "", err
	}
	defer end()

	if err := c.requireFolder(c.MainPath()); err != nil {
		return "", err
	}

	c.mainMu.RLock()
	defer c.mainMu.RUnlock()

	ts, err := c.config.Primitives.LastMessageTimestamp(ctx, c.MainPath())
	if err != nil {
		return "", c.primitiveErr("last_message_timestamp", err)
	}
	return ts, nil
}

// Close waits for in-flight writes and rejects further operations. The
// primitives are left open for the owner to close.
func (c *Coordinator) Close() error {
	c.setState(StateClosed)

	c.mainMu.Lock()
	c.rtMu.Lock()
	c.batchMu.Lock()
	c.batchMu.Unlock()
	c.rtMu.Unlock()
	c.mainMu.Unlock()
	return nil
}

// begin admits an operation if the coordinator is Ready.
func (c *Coordinator) begin(op Operation) (func(), error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state != StateReady {
		return nil, ierrors.NotReadyError(fmt.Sprintf("index is %s", c.state)).
			WithDetail("op", string(op))
	}
	c.ops[op]++
	return func() {
		c.stateMu.Lock()
		c.ops[op]--
		c.stateMu.Unlock()
	}, nil
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Coordinator) floor() string {
	return strconv.FormatInt(query.SearchFloor(c.config.Now(), c.config.Retention), 10)
}

func (c *Coordinator) requireFolder(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return ierrors.MissingFolderError(path)
	}
	if err != nil {
		return ierrors.Wrap(ierrors.ErrCodeFilePermission, err)
	}
	if !info.IsDir() {
		return ierrors.MissingFolderError(path)
	}
	return nil
}

// checkDisk logs when free space is below the minimum. It never blocks.
func (c *Coordinator) checkDisk() {
	if err := preflight.CheckDiskSpace(c.config.DataDir, c.config.MinDiskSpace); err != nil {
		attrs := append([]slog.Attr{slog.String("path", c.config.DataDir)}, ierrors.LogAttrs(err)...)
		slog.LogAttrs(context.Background(), slog.LevelWarn, "disk_space_low", attrs...)
	}
}

// validate runs the folder validator and logs anything but OK.
func (c *Coordinator) validate(ctx context.Context, folder string) {
	report, err := c.config.Validator.Validate(ctx, folder)
	switch {
	case err != nil:
		slog.Warn("index_validation_failed",
			slog.String("folder", folder),
			slog.String("error", err.Error()))
	case !report.OK():
		slog.Warn("index_validation_failed",
			slog.String("folder", folder),
			slog.String("status", report.Status))
	}
}

func (c *Coordinator) primitiveErr(op string, err error) error {
	if _, ok := asIndexError(err); ok || isContextErr(err) {
		return err
	}
	slog.Warn("index_primitive_failed",
		slog.String("op", op),
		slog.String("error", err.Error()))
	return ierrors.PrimitiveError(op, err)
}

func asIndexError(err error) (*ierrors.IndexError, bool) {
	var ie *ierrors.IndexError
	ok := errors.As(err, &ie)
	return ie, ok
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
