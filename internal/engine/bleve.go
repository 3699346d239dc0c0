package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	bq "github.com/blevesearch/bleve/v2/search/query"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/query"
)

const indexMetaFile = "index_meta.json"

// BleveConfig tunes the Bleve-backed primitives.
type BleveConfig struct {
	// CacheSize is the number of index handles kept open.
	CacheSize int
	// BatchSize is the number of documents written or read per round trip.
	BatchSize int
	// MergeWorkers bounds how many segments are read concurrently.
	MergeWorkers int
}

// DefaultBleveConfig returns the defaults used by the coordinator.
func DefaultBleveConfig() BleveConfig {
	return BleveConfig{
		CacheSize:    8,
		BatchSize:    500,
		MergeWorkers: 4,
	}
}

// Bleve implements Primitives on top of on-disk Bleve indexes.
type Bleve struct {
	config  BleveConfig
	mapping *mapping.IndexMappingImpl

	// mu serializes opening so a path is never opened twice.
	mu      sync.Mutex
	handles *lru.Cache[string, bleve.Index]
}

var _ Primitives = (*Bleve)(nil)

// NewBleve creates the primitives. Zero config fields take their defaults.
func NewBleve(config BleveConfig) (*Bleve, error) {
	def := DefaultBleveConfig()
	if config.CacheSize <= 0 {
		config.CacheSize = def.CacheSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MergeWorkers <= 0 {
		config.MergeWorkers = def.MergeWorkers
	}

	im, err := newIndexMapping()
	if err != nil {
		return nil, err
	}

	handles, err := lru.NewWithEvict[string, bleve.Index](config.CacheSize, func(path string, idx bleve.Index) {
		if cerr := idx.Close(); cerr != nil {
			slog.Warn("index_close_failed",
				slog.String("path", path),
				slog.String("error", cerr.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handle cache: %w", err)
	}

	return &Bleve{config: config, mapping: im, handles: handles}, nil
}

// EnsureFolder creates path if missing.
func (b *Bleve) EnsureFolder(_ context.Context, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return nil
}

// RemoveFolder closes every cached handle at or below path and deletes it.
func (b *Bleve) RemoveFolder(_ context.Context, path string) error {
	clean := filepath.Clean(path)

	b.mu.Lock()
	for _, key := range b.handles.Keys() {
		if key == clean || strings.HasPrefix(key, clean+string(filepath.Separator)) {
			b.handles.Remove(key)
		}
	}
	b.mu.Unlock()

	if err := os.RemoveAll(clean); err != nil {
		return fmt.Errorf("failed to remove folder %s: %w", clean, err)
	}
	return nil
}

// CreatePartialIndex writes msgs into a fresh segment index.
func (b *Bleve) CreatePartialIndex(ctx context.Context, tempFolder, segmentID string, msgs []message.Record) error {
	if segmentID == "" {
		return fmt.Errorf("segment id is required")
	}
	if err := os.MkdirAll(tempFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create batch folder %s: %w", tempFolder, err)
	}

	path := filepath.Join(tempFolder, segmentID)
	idx, err := bleve.New(path, b.mapping)
	if err != nil {
		return fmt.Errorf("failed to create segment %s: %w", segmentID, err)
	}

	writeErr := b.write(ctx, idx, msgs)
	if cerr := idx.Close(); cerr != nil && writeErr == nil {
		writeErr = fmt.Errorf("failed to close segment %s: %w", segmentID, cerr)
	}
	return writeErr
}

// MergePartialIndex reads every segment under tempFolder and writes its
// documents into mainPath. Documents already present are replaced.
func (b *Bleve) MergePartialIndex(ctx context.Context, mainPath, tempFolder string) error {
	entries, err := os.ReadDir(tempFolder)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list segments in %s: %w", tempFolder, err)
	}

	var segments []string
	for _, e := range entries {
		if e.IsDir() {
			segments = append(segments, filepath.Join(tempFolder, e.Name()))
		}
	}
	if len(segments) == 0 {
		return nil
	}

	records := make([][]message.Record, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.MergeWorkers)
	for i, seg := range segments {
		g.Go(func() error {
			recs, err := b.readSegment(gctx, seg)
			if err != nil {
				return err
			}
			records[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	main, err := b.handle(mainPath, true)
	if err != nil {
		return err
	}

	merged := 0
	for _, recs := range records {
		if err := b.write(ctx, main, recs); err != nil {
			return err
		}
		merged += len(recs)
	}

	slog.Debug("segments_merged",
		slog.String("main", mainPath),
		slog.Int("segments", len(segments)),
		slog.Int("documents", merged))
	return nil
}

// IndexRealTime adds msgs to the real-time index.
func (b *Bleve) IndexRealTime(ctx context.Context, rtFolder string, msgs []message.Record) error {
	idx, err := b.handle(rtFolder, true)
	if err != nil {
		return err
	}
	return b.write(ctx, idx, msgs)
}

// Search runs req over main and real-time as one logical index.
func (b *Bleve) Search(ctx context.Context, req SearchRequest) (*Result, error) {
	start, err := parseDate(req.StartDate, query.MinimumDate)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidQuery, "invalid start date", err)
	}
	end, err := parseDate(req.EndDate, query.MaximumDate)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidQuery, "invalid end date", err)
	}

	content, err := translate(req.Query)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidQuery, "cannot translate query", err)
	}

	indexes := make([]bleve.Index, 0, 2)
	for _, path := range []string{req.MainPath, req.RealTimePath} {
		if path == "" {
			continue
		}
		idx, err := b.handle(path, false)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	if len(indexes) == 0 {
		return nil, ierrors.ValidationError("no index to search", nil)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = query.DefaultLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	full := bleve.NewConjunctionQuery(content, dateRange(start, end))
	alias := bleve.NewIndexAlias(indexes...)

	// A message held by both indexes comes back twice. Fetch from the top
	// and widen the window until it holds offset+limit distinct hits.
	want := offset + limit
	size := want
	var (
		recs []message.Record
		dups int
		res  *bleve.SearchResult
	)
	for {
		sr := bleve.NewSearchRequestOptions(full, size, 0, false)
		sr.Fields = []string{fieldSource}
		if req.SortOrder == query.SortByDate {
			sr.SortBy([]string{"-" + fieldIngestedAt, "-_score"})
		}
		res, err = alias.SearchInContext(ctx, sr)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}

		recs, dups = collectHits(res)
		if len(recs) >= want || uint64(len(res.Hits)) >= res.Total {
			break
		}
		size += want - len(recs)
	}

	// Duplicates past the fetched window still count toward Total.
	total := res.Total
	if uint64(dups) < total {
		total -= uint64(dups)
	} else {
		total = uint64(len(recs))
	}

	out := &Result{Messages: []message.Record{}, Total: total}
	if offset < len(recs) {
		out.Messages = recs[offset:min(want, len(recs))]
	}
	out.Returned = len(out.Messages)
	out.More = uint64(offset+out.Returned) < total
	return out, nil
}

// collectHits decodes res in rank order, keeping the first hit per id.
// It returns the decoded records and the number of duplicate hits.
func collectHits(res *bleve.SearchResult) ([]message.Record, int) {
	recs := make([]message.Record, 0, len(res.Hits))
	seen := make(map[string]struct{}, len(res.Hits))
	dups := 0
	for _, hit := range res.Hits {
		if _, dup := seen[hit.ID]; dup {
			dups++
			continue
		}
		seen[hit.ID] = struct{}{}

		rec, err := fromSource(hit.Fields)
		if err != nil {
			slog.Warn("search_hit_skipped",
				slog.String("id", hit.ID),
				slog.String("error", err.Error()))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, dups
}

// DeleteMessages removes every message with minDate <= ingestionDate < maxDate,
// optionally restricted to one sender.
func (b *Bleve) DeleteMessages(ctx context.Context, indexPath, senderID, minDate, maxDate string) error {
	lo, err := parseDate(minDate, query.MinimumDate)
	if err != nil {
		return ierrors.ValidationError("invalid minimum date", err)
	}
	hi, err := parseDate(maxDate, query.MaximumDate)
	if err != nil {
		return ierrors.ValidationError("invalid maximum date", err)
	}

	idx, err := b.handle(indexPath, false)
	if err != nil {
		return err
	}

	var q bq.Query = halfOpenRange(lo, hi)
	if senderID != "" {
		sender := bleve.NewTermQuery(senderID)
		sender.SetField(query.FieldSender)
		q = bleve.NewConjunctionQuery(q, sender)
	}

	deleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sr := bleve.NewSearchRequestOptions(q, b.config.BatchSize, 0, false)
		res, err := idx.SearchInContext(ctx, sr)
		if err != nil {
			return fmt.Errorf("delete lookup failed: %w", err)
		}
		if len(res.Hits) == 0 {
			break
		}

		batch := idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("delete batch failed: %w", err)
		}
		deleted += len(res.Hits)
	}

	slog.Debug("messages_deleted",
		slog.String("path", indexPath),
		slog.String("sender", senderID),
		slog.Int("count", deleted))
	return nil
}

// RemoveDuplicates deletes from indexPath the messages referencePath
// already holds.
func (b *Bleve) RemoveDuplicates(ctx context.Context, indexPath, referencePath string) error {
	idx, err := b.handle(indexPath, false)
	if err != nil {
		return err
	}
	ref, err := b.handle(referencePath, false)
	if err != nil {
		return err
	}

	var ids []string
	for from := 0; ; from += b.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		sr := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), b.config.BatchSize, from, false)
		sr.SortBy([]string{"_id"})
		res, err := idx.SearchInContext(ctx, sr)
		if err != nil {
			return fmt.Errorf("duplicate lookup failed: %w", err)
		}
		for _, hit := range res.Hits {
			doc, err := ref.Document(hit.ID)
			if err != nil {
				return fmt.Errorf("duplicate lookup failed: %w", err)
			}
			if doc != nil {
				ids = append(ids, hit.ID)
			}
		}
		if len(res.Hits) < b.config.BatchSize {
			break
		}
	}

	batch := idx.NewBatch()
	for i, id := range ids {
		batch.Delete(id)
		if batch.Size() >= b.config.BatchSize || i == len(ids)-1 {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("delete batch failed: %w", err)
			}
			batch.Reset()
		}
	}

	slog.Debug("duplicates_removed",
		slog.String("path", indexPath),
		slog.String("reference", referencePath),
		slog.Int("count", len(ids)))
	return nil
}

// LastMessageTimestamp returns the newest ingestionDate in indexPath.
func (b *Bleve) LastMessageTimestamp(ctx context.Context, indexPath string) (string, error) {
	idx, err := b.handle(indexPath, false)
	if err != nil {
		return "", err
	}

	sr := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 1, 0, false)
	sr.Fields = []string{fieldSource}
	sr.SortBy([]string{"-" + fieldIngestedAt})
	res, err := idx.SearchInContext(ctx, sr)
	if err != nil {
		return "", fmt.Errorf("latest lookup failed: %w", err)
	}
	if len(res.Hits) == 0 {
		return query.MinimumDate, nil
	}

	rec, err := fromSource(res.Hits[0].Fields)
	if err != nil {
		return "", err
	}
	return rec.IngestionDate, nil
}

// Close releases every cached handle.
func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handles.Purge()
	return nil
}

// handle returns the cached index at path, opening it if needed. An
// existing but empty folder becomes a new index. When create is false a
// missing folder is an error.
func (b *Bleve) handle(path string, create bool) (bleve.Index, error) {
	clean := filepath.Clean(path)

	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.handles.Get(clean); ok {
		return idx, nil
	}

	if _, err := os.Stat(clean); errors.Is(err, os.ErrNotExist) {
		if !create {
			return nil, ierrors.MissingFolderError(clean)
		}
		if err := os.MkdirAll(clean, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create folder %s: %w", clean, err)
		}
	}

	idx, err := b.openOrCreate(clean)
	if err != nil {
		return nil, err
	}
	b.handles.Add(clean, idx)
	return idx, nil
}

func (b *Bleve) openOrCreate(path string) (bleve.Index, error) {
	if err := validateIndexFolder(path); err != nil {
		slog.Warn("index_corrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if rerr := clearFolder(path); rerr != nil {
			return nil, ierrors.New(ierrors.ErrCodeCorruptIndex, "index corrupted and cannot be cleared", rerr).
				WithDetail("path", path)
		}
		slog.Info("index_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, backfill required"))
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) || errors.Is(err, bleve.ErrorIndexMetaMissing) {
		idx, err = bleve.New(path, b.mapping)
	} else if err != nil && isCorruptionError(err) {
		slog.Warn("index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if rerr := clearFolder(path); rerr != nil {
			return nil, ierrors.New(ierrors.ErrCodeCorruptIndex, "index corrupted and cannot be cleared", rerr).
				WithDetail("path", path)
		}
		idx, err = bleve.New(path, b.mapping)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}
	return idx, nil
}

// write indexes msgs into idx in batches.
func (b *Bleve) write(ctx context.Context, idx bleve.Index, msgs []message.Record) error {
	batch := idx.NewBatch()
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("index batch failed: %w", err)
		}
		batch.Reset()
		return nil
	}

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := toDocument(m)
		if err != nil {
			return ierrors.ValidationError("message "+m.MessageID+" cannot be indexed", err)
		}
		if err := batch.Index(m.DocID(), doc); err != nil {
			return fmt.Errorf("failed to queue message %s: %w", m.MessageID, err)
		}
		if batch.Size() >= b.config.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// readSegment returns every record stored in the segment at path.
func (b *Bleve) readSegment(ctx context.Context, path string) ([]message.Record, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", path, err)
	}
	defer idx.Close()

	var (
		out   []message.Record
		after []string
	)
	for {
		sr := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), b.config.BatchSize, 0, false)
		sr.Fields = []string{fieldSource}
		sr.SortBy([]string{"_id"})
		if after != nil {
			sr.SearchAfter = after
		}

		res, err := idx.SearchInContext(ctx, sr)
		if err != nil {
			return nil, fmt.Errorf("failed to read segment %s: %w", path, err)
		}
		for _, hit := range res.Hits {
			rec, err := fromSource(hit.Fields)
			if err != nil {
				return nil, fmt.Errorf("segment %s: %w", path, err)
			}
			out = append(out, rec)
		}
		if len(res.Hits) < b.config.BatchSize {
			return out, nil
		}
		after = []string{res.Hits[len(res.Hits)-1].ID}
	}
}

// validateIndexFolder reports a folder that has content but no readable
// index metadata. Missing and empty folders are valid.
func validateIndexFolder(path string) error {
	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(entries) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot read index folder: %w", err)
	}

	info, err := os.Stat(filepath.Join(path, indexMetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s missing", indexMetaFile)
	}
	if err != nil {
		return fmt.Errorf("cannot stat %s: %w", indexMetaFile, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", indexMetaFile)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

// clearFolder empties path but keeps the folder itself.
func clearFolder(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(path, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func parseDate(raw, def string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return float64(v), nil
}
